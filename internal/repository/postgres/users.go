package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

// UserRepository implements port.UserRepository on the users, workspaces and
// workspace_users tables.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// GetByName fetches an admin user by login name.
func (r *UserRepository) GetByName(ctx context.Context, name string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"name": name})
}

// GetByID fetches an admin user by id.
func (r *UserRepository) GetByID(ctx context.Context, userID int64) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": userID})
}

// Workspaces lists the workspaces the user administers together with the
// user's role on each, ordered by name.
func (r *UserRepository) Workspaces(ctx context.Context, userID int64) ([]domain.Workspace, error) {
	sql, args, err := r.builder.
		Select("w.id", "w.name", "wu.role").
		From("workspaces w").
		Join("workspace_users wu ON wu.workspace_id = w.id").
		Where(squirrel.Eq{"wu.user_id": userID}).
		OrderBy("w.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select workspaces sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []domain.Workspace
	for rows.Next() {
		var workspace domain.Workspace
		if err := rows.Scan(&workspace.ID, &workspace.Name, &workspace.Role); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		workspaces = append(workspaces, workspace)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return workspaces, nil
}

// WorkspaceRole reads the user's role on one workspace. Absence of a grant
// surfaces as repository.ErrNotFound.
func (r *UserRepository) WorkspaceRole(ctx context.Context, userID int64, workspaceID int) (string, error) {
	sql, args, err := r.builder.
		Select("role").
		From("workspace_users").
		Where(squirrel.Eq{"user_id": userID, "workspace_id": workspaceID}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build select role sql: %w", err)
	}

	var role string
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", repository.ErrNotFound
		}
		return "", fmt.Errorf("select role: %w", err)
	}
	return role, nil
}

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	sql, args, err := r.builder.Update("users").
		Set("password", passwordHash).
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.User, error) {
	sql, args, err := r.builder.
		Select("id", "name", "email", "password", "is_superadmin").
		From("users").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	var user domain.User
	err = r.exec.QueryRow(ctx, sql, args...).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.IsSuperadmin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &user, nil
}

var _ port.UserRepository = (*UserRepository)(nil)
