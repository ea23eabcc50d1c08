package domain

import "time"

// Login is the persisted record of a group login inside a workspace, created
// lazily on the first successful credential match. The token stays stable
// across repeated logins of the same name unless recreation is forced.
type Login struct {
	ID          int64
	Token       string
	Name        string
	Mode        string
	GroupName   string
	WorkspaceID int
	Booklets    map[string][]string
	ValidTo     time.Time
	CustomTexts map[string]string
}

// CodeRequired reports whether a code submission must precede person resolution.
func (l Login) CodeRequired() bool {
	return LoginDescriptor{Booklets: l.Booklets}.CodeRequired()
}

// BookletNames returns the booklets assigned to the given code. When the
// login is code-less (single empty-string key) the claimed code is ignored.
func (l Login) BookletNames(code string) ([]string, bool) {
	if len(l.Booklets) == 1 {
		if booklets, ok := l.Booklets[""]; ok {
			return booklets, true
		}
	}
	booklets, ok := l.Booklets[code]
	return booklets, ok
}

// Person is one test-taker instance under a login, keyed by (login id, code).
type Person struct {
	ID        int64
	LoginID   int64
	Token     string
	Code      string
	LastSeen  time.Time
	LastState map[string]string
}

// LoginWithPerson pairs a person with its owning login, as resolved from a person token.
type LoginWithPerson struct {
	Login  Login
	Person Person
}
