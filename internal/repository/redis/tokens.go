package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/infra/security"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

const (
	defaultTokenPrefix = "tc:token"
	tokenByteLength    = 32

	fieldKind        = "kind"
	fieldOwnerID     = "owner_id"
	fieldParentToken = "parent_token"
	fieldIssuedAt    = "issued_at"
	fieldValidUntil  = "valid_until"
)

// TokenStore implements port.TokenStore on Redis. Each token is a hash keyed
// by the token string with a TTL matching its expiry; an owner index set
// tracks which tokens an owner holds. Redis eviction does the lapsing, the
// valid_until field backs the sliding refresh.
type TokenStore struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewTokenStore constructs a TokenStore with the provided client and key prefix.
func NewTokenStore(client *red.Client, keyPrefix string) *TokenStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultTokenPrefix
	}

	return &TokenStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Issue creates a fresh token. Admin tokens displace any prior token of the
// same owner so only one admin session stays active.
func (s *TokenStore) Issue(ctx context.Context, kind domain.TokenKind, ownerID int64, ttl time.Duration) (domain.AuthToken, error) {
	if kind == domain.TokenKindAdmin {
		if err := s.RevokeByOwner(ctx, kind, ownerID); err != nil {
			return domain.AuthToken{}, err
		}
	}
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
	if ttl <= 0 {
		return domain.AuthToken{}, errors.New("ttl must be positive")
	}

	tokenString, err := security.GenerateSecureToken(tokenByteLength)
	if err != nil {
		return domain.AuthToken{}, fmt.Errorf("generate token: %w", err)
	}

	now := s.now().UTC()
	token := domain.AuthToken{
		Token:       tokenString,
		Kind:        kind,
		OwnerID:     ownerID,
		ParentToken: parentToken,
		IssuedAt:    now,
		ValidUntil:  now.Add(ttl),
	}

	fields := map[string]any{
		fieldKind:       string(kind),
		fieldOwnerID:    strconv.FormatInt(ownerID, 10),
		fieldIssuedAt:   strconv.FormatInt(now.Unix(), 10),
		fieldValidUntil: strconv.FormatInt(token.ValidUntil.Unix(), 10),
	}
	if parentToken != nil {
		fields[fieldParentToken] = *parentToken
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.tokenKey(tokenString), fields)
	pipe.Expire(ctx, s.tokenKey(tokenString), ttl)
	pipe.SAdd(ctx, s.ownerKey(kind, ownerID), tokenString)
	if parentToken != nil {
		pipe.SAdd(ctx, s.childKey(*parentToken), tokenString)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.AuthToken{}, fmt.Errorf("redis store token: %w", err)
	}
	return token, nil
}

// Validate resolves the token string. Unknown and expired tokens both fail
// with repository.ErrNotFound.
func (s *TokenStore) Validate(ctx context.Context, tokenString string) (*domain.AuthToken, error) {
	token, err := s.fetch(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if token.Expired(s.now().UTC()) {
		return nil, repository.ErrNotFound
	}
	return token, nil
}

// FindByOwner returns the newest active token the owner holds, if any.
func (s *TokenStore) FindByOwner(ctx context.Context, kind domain.TokenKind, ownerID int64) (*domain.AuthToken, error) {
	members, err := s.client.SMembers(ctx, s.ownerKey(kind, ownerID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis owner index: %w", err)
	}

	now := s.now().UTC()
	var newest *domain.AuthToken
	for _, member := range members {
		token, err := s.fetch(ctx, member)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Evicted token, scrub the index entry.
				s.client.SRem(ctx, s.ownerKey(kind, ownerID), member)
				continue
			}
			return nil, err
		}
		if token.Expired(now) {
			continue
		}
		if newest == nil || token.IssuedAt.After(newest.IssuedAt) {
			newest = token
		}
	}
	if newest == nil {
		return nil, repository.ErrNotFound
	}
	return newest, nil
}

// Refresh slides the expiry forward to now+ttl, never backward.
func (s *TokenStore) Refresh(ctx context.Context, tokenString string, ttl time.Duration) error {
	token, err := s.Validate(ctx, tokenString)
	if err != nil {
		return err
	}

	validUntil := s.now().UTC().Add(ttl)
	if !validUntil.After(token.ValidUntil) {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.tokenKey(tokenString), fieldValidUntil, strconv.FormatInt(validUntil.Unix(), 10))
	pipe.ExpireAt(ctx, s.tokenKey(tokenString), validUntil)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis refresh token: %w", err)
	}
	return nil
}

// Revoke deletes the token and every token derived from it.
func (s *TokenStore) Revoke(ctx context.Context, tokenString string) error {
	token, err := s.fetch(ctx, tokenString)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	// Children share the parent's kind lineage: person tokens hang off login
	// tokens. Walk the person indexes only when revoking a login token.
	if token.Kind == domain.TokenKindLogin {
		if err := s.revokeChildren(ctx, tokenString); err != nil {
			return err
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.tokenKey(tokenString))
	pipe.SRem(ctx, s.ownerKey(token.Kind, token.OwnerID), tokenString)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis revoke token: %w", err)
	}
	return nil
}

// RevokeByOwner deletes all tokens of one kind held by the owner.
func (s *TokenStore) RevokeByOwner(ctx context.Context, kind domain.TokenKind, ownerID int64) error {
	members, err := s.client.SMembers(ctx, s.ownerKey(kind, ownerID)).Result()
	if err != nil {
		return fmt.Errorf("redis owner index: %w", err)
	}

	for _, member := range members {
		if err := s.Revoke(ctx, member); err != nil {
			return err
		}
	}

	if err := s.client.Del(ctx, s.ownerKey(kind, ownerID)).Err(); err != nil {
		return fmt.Errorf("redis drop owner index: %w", err)
	}
	return nil
}

// WithClock overrides the internal clock, used in tests.
func (s *TokenStore) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *TokenStore) revokeChildren(ctx context.Context, parentToken string) error {
	// The child index maps a login token to the person tokens issued under it.
	children, err := s.client.SMembers(ctx, s.childKey(parentToken)).Result()
	if err != nil {
		return fmt.Errorf("redis child index: %w", err)
	}

	for _, child := range children {
		token, err := s.fetch(ctx, child)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return err
		}
		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.tokenKey(child))
		pipe.SRem(ctx, s.ownerKey(token.Kind, token.OwnerID), child)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("redis revoke child token: %w", err)
		}
	}

	if err := s.client.Del(ctx, s.childKey(parentToken)).Err(); err != nil {
		return fmt.Errorf("redis drop child index: %w", err)
	}
	return nil
}

func (s *TokenStore) fetch(ctx context.Context, tokenString string) (*domain.AuthToken, error) {
	values, err := s.client.HGetAll(ctx, s.tokenKey(tokenString)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall token: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	ownerID, err := strconv.ParseInt(values[fieldOwnerID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse owner_id: %w", err)
	}
	issuedAt, err := parseUnix(values[fieldIssuedAt])
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	validUntil, err := parseUnix(values[fieldValidUntil])
	if err != nil {
		return nil, fmt.Errorf("parse valid_until: %w", err)
	}

	token := domain.AuthToken{
		Token:      tokenString,
		Kind:       domain.TokenKind(values[fieldKind]),
		OwnerID:    ownerID,
		IssuedAt:   issuedAt,
		ValidUntil: validUntil,
	}
	if parent, ok := values[fieldParentToken]; ok && parent != "" {
		token.ParentToken = &parent
	}
	return &token, nil
}

func (s *TokenStore) tokenKey(tokenString string) string {
	return fmt.Sprintf("%s:%s", s.prefix, tokenString)
}

func (s *TokenStore) ownerKey(kind domain.TokenKind, ownerID int64) string {
	return fmt.Sprintf("%s:owner:%s:%d", s.prefix, kind, ownerID)
}

func (s *TokenStore) childKey(parentToken string) string {
	return fmt.Sprintf("%s:children:%s", s.prefix, parentToken)
}

func parseUnix(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

var _ port.TokenStore = (*TokenStore)(nil)
