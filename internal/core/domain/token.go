package domain

import "time"

// TokenKind enumerates the three principal kinds a token can belong to.
type TokenKind string

const (
	TokenKindAdmin  TokenKind = "admin"
	TokenKindLogin  TokenKind = "login"
	TokenKindPerson TokenKind = "person"
)

// Valid reports whether the kind is one of the known principal kinds.
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindAdmin, TokenKindLogin, TokenKindPerson:
		return true
	}
	return false
}

// AuthToken is an opaque session token bound to one owning entity.
// A person token carries the login token it was derived from.
type AuthToken struct {
	Token       string
	Kind        TokenKind
	OwnerID     int64
	ParentToken *string
	IssuedAt    time.Time
	ValidUntil  time.Time
}

// Expired reports whether the token is past its sliding expiry at the supplied moment.
func (t AuthToken) Expired(at time.Time) bool {
	return !t.ValidUntil.After(at)
}
