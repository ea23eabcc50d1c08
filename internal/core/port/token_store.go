package port

import (
	"context"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// TokenStore issues, validates, refreshes and revokes opaque session tokens.
// Expiry is a sliding window: Refresh pushes it forward, never backward.
type TokenStore interface {
	// Issue creates a token for the owner. For admin tokens any prior token
	// of the same owner is invalidated first (one active admin session).
	Issue(ctx context.Context, kind domain.TokenKind, ownerID int64, ttl time.Duration) (domain.AuthToken, error)
	// IssueChild creates a token derived from a parent token (person under login).
	IssueChild(ctx context.Context, kind domain.TokenKind, ownerID int64, parentToken string, ttl time.Duration) (domain.AuthToken, error)
	// Validate resolves the token string or fails with repository.ErrNotFound
	// when unknown or expired.
	Validate(ctx context.Context, token string) (*domain.AuthToken, error)
	// FindByOwner returns the active token held by the owner, if any.
	FindByOwner(ctx context.Context, kind domain.TokenKind, ownerID int64) (*domain.AuthToken, error)
	// Refresh slides the expiry forward by ttl from now.
	Refresh(ctx context.Context, token string, ttl time.Duration) error
	// Revoke deletes the token immediately.
	Revoke(ctx context.Context, token string) error
	// RevokeByOwner deletes all tokens of one kind held by the owner.
	RevokeByOwner(ctx context.Context, kind domain.TokenKind, ownerID int64) error
}
