package domain

import "time"

// GroupDefinition describes one test-taker cohort as loaded from a
// workspace's testtakers file. It is configuration, not persisted state.
type GroupDefinition struct {
	Name        string
	Label       string
	WorkspaceID int
	// ValidFrom and ValidTo bound the window [ValidFrom, ValidTo) in which
	// logins of this group may authenticate. A zero value leaves that side open.
	ValidFrom time.Time
	ValidTo   time.Time
	Logins    []LoginDescriptor
}

// ActiveAt reports whether the group's validity window contains the supplied moment.
func (g GroupDefinition) ActiveAt(at time.Time) bool {
	if !g.ValidFrom.IsZero() && at.Before(g.ValidFrom) {
		return false
	}
	if !g.ValidTo.IsZero() && !at.Before(g.ValidTo) {
		return false
	}
	return true
}

// LoginDescriptor is one login entry inside a group definition. Booklets maps
// an access code to the ordered booklet names that code unlocks; a code-less
// login has the single empty-string key.
type LoginDescriptor struct {
	Name        string
	Password    string
	Mode        string
	Booklets    map[string][]string
	CustomTexts map[string]string
}

// CodeRequired reports whether a code prompt is needed before a person
// session can be created for this descriptor.
func (d LoginDescriptor) CodeRequired() bool {
	if len(d.Booklets) == 0 {
		return false
	}
	if len(d.Booklets) == 1 {
		_, onlyEmpty := d.Booklets[""]
		return !onlyEmpty
	}
	return true
}

// PotentialLogin is the result of matching claimed credentials against the
// loaded group definitions. It carries everything needed to materialize a
// Login record.
type PotentialLogin struct {
	Name        string
	Mode        string
	GroupName   string
	GroupLabel  string
	WorkspaceID int
	Booklets    map[string][]string
	ValidFrom   time.Time
	ValidTo     time.Time
	CustomTexts map[string]string
}

// CodeRequired reports whether resolving this login to a person needs a code.
func (p PotentialLogin) CodeRequired() bool {
	return LoginDescriptor{Booklets: p.Booklets}.CodeRequired()
}
