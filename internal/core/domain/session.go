package domain

import "sort"

// Access claims attached to a resolved session.
const (
	AccessSuperAdmin     = "superAdmin"
	AccessWorkspaceAdmin = "workspaceAdmin"
)

// FlagCodeRequired marks a login session that still needs a code submission
// before a person session can be created.
const FlagCodeRequired = "codeRequired"

// Session is the principal object handed back to an authenticated caller.
// For admins, AccessObjects carries the granted workspaces; for test-takers,
// Flags may carry the codeRequired marker.
type Session struct {
	Token         string
	DisplayName   string
	Flags         []string
	AccessObjects map[string][]string
	// WorkspaceRoles maps granted workspace ids to the admin's role string.
	// Empty for non-admin sessions.
	WorkspaceRoles map[string]string
	CustomTexts    map[string]string
}

// NewSession constructs a session with the supplied token and display name.
func NewSession(token, displayName string) *Session {
	return &Session{
		Token:         token,
		DisplayName:   displayName,
		AccessObjects: make(map[string][]string),
	}
}

// AddAccessObjects grants the claim over the listed object ids. A claim
// without objects (superAdmin) is stored with an empty list.
func (s *Session) AddAccessObjects(claim string, objectIDs ...string) {
	if s.AccessObjects == nil {
		s.AccessObjects = make(map[string][]string)
	}
	s.AccessObjects[claim] = append(s.AccessObjects[claim], objectIDs...)
}

// HasAccess reports whether the session carries the claim at all.
func (s *Session) HasAccess(claim string) bool {
	_, ok := s.AccessObjects[claim]
	return ok
}

// HasAccessToObject reports whether the claim covers the specific object id.
func (s *Session) HasAccessToObject(claim, objectID string) bool {
	for _, id := range s.AccessObjects[claim] {
		if id == objectID {
			return true
		}
	}
	return false
}

// HasFlag reports whether the session carries the named flag.
func (s *Session) HasFlag(flag string) bool {
	for _, f := range s.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Claims returns the granted claim names sorted for stable output.
func (s *Session) Claims() []string {
	claims := make([]string, 0, len(s.AccessObjects))
	for claim := range s.AccessObjects {
		claims = append(claims, claim)
	}
	sort.Strings(claims)
	return claims
}
