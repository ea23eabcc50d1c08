package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/infra/security"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

const tokenByteLength = 32

// TokenStore implements port.TokenStore on the session_tokens table.
type TokenStore struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(exec pgExecutor) *TokenStore {
	return &TokenStore{
		exec:    exec,
		builder: newBuilder(),
		now:     time.Now,
	}
}

// Issue creates a fresh token. Admin tokens displace any prior token of the
// same owner so only one admin session stays active.
func (s *TokenStore) Issue(ctx context.Context, kind domain.TokenKind, ownerID int64, ttl time.Duration) (domain.AuthToken, error) {
	return s.issue(ctx, kind, ownerID, nil, ttl)
}

// IssueChild creates a token derived from a parent token.
func (s *TokenStore) IssueChild(ctx context.Context, kind domain.TokenKind, ownerID int64, parentToken string, ttl time.Duration) (domain.AuthToken, error) {
	return s.issue(ctx, kind, ownerID, &parentToken, ttl)
}

func (s *TokenStore) issue(ctx context.Context, kind domain.TokenKind, ownerID int64, parentToken *string, ttl time.Duration) (domain.AuthToken, error) {
	if !kind.Valid() {
		return domain.AuthToken{}, fmt.Errorf("unknown token kind %q", kind)
	}

	if kind == domain.TokenKindAdmin {
		if err := s.RevokeByOwner(ctx, kind, ownerID); err != nil {
			return domain.AuthToken{}, err
		}
	}

	raw, err := security.GenerateSecureToken(tokenByteLength)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.now().UTC()
	token := domain.AuthToken{
		Token:       raw,
		Kind:        kind,
		OwnerID:     ownerID,
		ParentToken: parentToken,
		IssuedAt:    now,
		ValidUntil:  now.Add(ttl),
	}

	sql, args, err := s.builder.Insert("session_tokens").
		Columns("token", "kind", "owner_id", "parent_token", "issued_at", "valid_until").
		Values(token.Token, string(token.Kind), token.OwnerID, token.ParentToken, token.IssuedAt, token.ValidUntil).
		ToSql()
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("build insert token sql: %w", err)
	}

	if _, err := s.exec.Exec(ctx, sql, args...); err != nil {
		return domain.AuthToken{}, fmt.Errorf("insert token: %w", err)
	}

	return token, nil
}

// Validate resolves a token string; unknown and expired tokens both come
// back as repository.ErrNotFound.
func (s *TokenStore) Validate(ctx context.Context, token string) (*domain.AuthToken, error) {
	sql, args, err := s.builder.
		Select("token", "kind", "owner_id", "parent_token", "issued_at", "valid_until").
		From("session_tokens").
		Where(squirrel.Eq{"token": token}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token sql: %w", err)
	}

	record, err := s.scanToken(s.exec.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, err
	}

	if record.Expired(s.now().UTC()) {
		return nil, repository.ErrNotFound
	}
	return record, nil
}

// FindByOwner returns the newest active token held by the owner.
func (s *TokenStore) FindByOwner(ctx context.Context, kind domain.TokenKind, ownerID int64) (*domain.AuthToken, error) {
	sql, args, err := s.builder.
		Select("token", "kind", "owner_id", "parent_token", "issued_at", "valid_until").
		From("session_tokens").
		Where(squirrel.Eq{"kind": string(kind), "owner_id": ownerID}).
		Where(squirrel.Gt{"valid_until": s.now().UTC()}).
		OrderBy("issued_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select token by owner sql: %w", err)
	}

	return s.scanToken(s.exec.QueryRow(ctx, sql, args...))
}

// Refresh slides the expiry forward. GREATEST keeps a concurrent refresh
// from moving the expiry backward.
func (s *TokenStore) Refresh(ctx context.Context, token string, ttl time.Duration) error {
	tag, err := s.exec.Exec(ctx,
		"UPDATE session_tokens SET valid_until = GREATEST(valid_until, $1) WHERE token = $2 AND valid_until > $3",
		s.now().UTC().Add(ttl), token, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Revoke deletes the token and any tokens derived from it.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	tag, err := s.exec.Exec(ctx,
		"DELETE FROM session_tokens WHERE token = $1 OR parent_token = $1", token,
	)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RevokeByOwner deletes all tokens of one kind held by the owner.
func (s *TokenStore) RevokeByOwner(ctx context.Context, kind domain.TokenKind, ownerID int64) error {
	if _, err := s.exec.Exec(ctx,
		"DELETE FROM session_tokens WHERE kind = $1 AND owner_id = $2", string(kind), ownerID,
	); err != nil {
		return fmt.Errorf("delete tokens by owner: %w", err)
	}
	return nil
}

func (s *TokenStore) scanToken(row pgx.Row) (*domain.AuthToken, error) {
	var token domain.AuthToken
	var kind string
	if err := row.Scan(
		&token.Token,
		&kind,
		&token.OwnerID,
		&token.ParentToken,
		&token.IssuedAt,
		&token.ValidUntil,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan token: %w", err)
	}
	token.Kind = domain.TokenKind(kind)
	return &token, nil
}

var _ port.TokenStore = (*TokenStore)(nil)
