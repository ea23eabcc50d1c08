package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/infra/config"
	"github.com/iqb-berlin/testcenter/internal/infra/security"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

const maxUsernameLength = 50

// AdminService authenticates workspace administrators and exposes the
// administrative operations on workspace result data.
type AdminService struct {
	cfg       config.SessionSettings
	tokens    port.TokenStore
	users     port.UserRepository
	logins    port.LoginRepository
	broadcast port.BroadcastSink
	now       func() time.Time
}

// NewAdminService constructs an AdminService.
func NewAdminService(
	cfg config.SessionSettings,
	tokens port.TokenStore,
	users port.UserRepository,
	logins port.LoginRepository,
	broadcast port.BroadcastSink,
) *AdminService {
	return &AdminService{
		cfg:       cfg,
		tokens:    tokens,
		users:     users,
		logins:    logins,
		broadcast: broadcast,
		now:       time.Now,
	}
}

// Login verifies admin credentials and returns a fresh session. Any prior
// token of the same user is invalidated: one active admin session per user.
// The failure reason is never differentiated.
func (s *AdminService) Login(ctx context.Context, name, password string) (*domain.Session, error) {
	if len(name) == 0 || len(name) > maxUsernameLength {
		return nil, ErrNoLoginFound
	}

	user, err := s.users.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Burn a hash comparison so unknown names cost the same as
			// wrong passwords.
			security.VerifyDummy(password)
			return nil, ErrNoLoginFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrNoLoginFound
	}

	token, err := s.tokens.Issue(ctx, domain.TokenKindAdmin, user.ID, s.cfg.AdminTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issue admin token: %w", err)
	}

	return s.buildSession(ctx, user, token.Token)
}

// SessionByToken rebuilds the admin session for a validated token and slides
// its expiry forward.
func (s *AdminService) SessionByToken(ctx context.Context, token string) (*domain.Session, error) {
	authToken, err := s.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("validate token: %w", err)
	}
	if authToken.Kind != domain.TokenKindAdmin {
		return nil, ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, authToken.OwnerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := s.tokens.Refresh(ctx, token, s.cfg.AdminTokenTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("refresh admin token: %w", err)
	}

	return s.buildSession(ctx, user, token)
}

// Logout deletes the admin token immediately.
func (s *AdminService) Logout(ctx context.Context, token string) error {
	if err := s.tokens.Revoke(ctx, token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("revoke admin token: %w", err)
	}
	return nil
}

// SetPassword updates an admin's own password after re-verifying the old one
// and checking the new one against the password policy.
func (s *AdminService) SetPassword(ctx context.Context, userID int64, oldPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}

	ok, err := security.VerifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrNoLoginFound
	}

	if err := security.ValidateAdminPassword(newPassword, user.Name, user.Email); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err.Error())
	}

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// SetPasswordByToken resolves the admin behind the token and delegates to
// SetPassword.
func (s *AdminService) SetPasswordByToken(ctx context.Context, token, oldPassword, newPassword string) error {
	authToken, err := s.tokens.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnauthorized
		}
		return fmt.Errorf("validate token: %w", err)
	}
	if authToken.Kind != domain.TokenKindAdmin {
		return ErrUnauthorized
	}
	return s.SetPassword(ctx, authToken.OwnerID, oldPassword, newPassword)
}

// DeleteResultData purges all login sessions of a group (persons, tests and
// units cascade) and tells the broadcast hub so dashboards drop stale rows.
func (s *AdminService) DeleteResultData(ctx context.Context, workspaceID int, groupName string) (int, error) {
	deleted, err := s.logins.DeleteByGroup(ctx, workspaceID, groupName)
	if err != nil {
		return 0, fmt.Errorf("delete logins by group: %w", err)
	}

	if s.broadcast != nil {
		s.broadcast.SessionsDeleted(ctx, workspaceID, groupName)
	}
	return deleted, nil
}

func (s *AdminService) buildSession(ctx context.Context, user *domain.User, token string) (*domain.Session, error) {
	workspaces, err := s.users.Workspaces(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}

	session := domain.NewSession(token, user.Name)
	session.WorkspaceRoles = make(map[string]string, len(workspaces))

	ids := make([]string, 0, len(workspaces))
	for _, workspace := range workspaces {
		id := strconv.Itoa(workspace.ID)
		ids = append(ids, id)
		session.WorkspaceRoles[id] = workspace.Role
	}
	if len(ids) > 0 {
		session.AddAccessObjects(domain.AccessWorkspaceAdmin, ids...)
	}
	if user.IsSuperadmin {
		session.AddAccessObjects(domain.AccessSuperAdmin)
	}

	if !session.HasAccess(domain.AccessWorkspaceAdmin) && !session.HasAccess(domain.AccessSuperAdmin) {
		return nil, ErrNoAccess
	}

	return session, nil
}
