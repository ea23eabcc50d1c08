package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

// LoginRepository implements port.LoginRepository on the login_sessions table.
type LoginRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewLoginRepository constructs a LoginRepository.
func NewLoginRepository(exec pgExecutor) *LoginRepository {
	return &LoginRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Create inserts a login record and returns its id.
func (r *LoginRepository) Create(ctx context.Context, login domain.Login) (int64, error) {
	booklets, err := marshalBooklets(login.Booklets)
	if err != nil {
		return 0, err
	}
	customTexts, err := marshalCustomTexts(login.CustomTexts)
	if err != nil {
		return 0, err
	}

	sql, args, err := r.builder.Insert("login_sessions").
		Columns("name", "mode", "group_name", "workspace_id", "booklet_def", "custom_texts", "valid_until").
		Values(login.Name, login.Mode, login.GroupName, login.WorkspaceID, booklets, customTexts, login.ValidTo).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert login sql: %w", err)
	}

	var id int64
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("insert login: %w", err)
	}
	return id, nil
}

// GetByID fetches a login by id.
func (r *LoginRepository) GetByID(ctx context.Context, loginID int64) (*domain.Login, error) {
	return r.getOne(ctx, squirrel.Eq{"id": loginID})
}

// GetByName fetches a login by its unique (workspace, name) pair.
func (r *LoginRepository) GetByName(ctx context.Context, workspaceID int, name string) (*domain.Login, error) {
	return r.getOne(ctx, squirrel.Eq{"workspace_id": workspaceID, "name": name})
}

// UpdateAssignment refreshes booklet map, group name and validity in place.
func (r *LoginRepository) UpdateAssignment(ctx context.Context, loginID int64, booklets map[string][]string, groupName string, validTo time.Time) error {
	payload, err := marshalBooklets(booklets)
	if err != nil {
		return err
	}

	sql, args, err := r.builder.Update("login_sessions").
		Set("booklet_def", payload).
		Set("group_name", groupName).
		Set("valid_until", validTo).
		Where(squirrel.Eq{"id": loginID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update login sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteByGroup removes all logins of a group. Persons, tests and units go
// with them via ON DELETE CASCADE.
func (r *LoginRepository) DeleteByGroup(ctx context.Context, workspaceID int, groupName string) (int, error) {
	sql, args, err := r.builder.Delete("login_sessions").
		Where(squirrel.Eq{"workspace_id": workspaceID, "group_name": groupName}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete logins sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete logins: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *LoginRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Login, error) {
	sql, args, err := r.builder.
		Select("id", "name", "mode", "group_name", "workspace_id", "booklet_def", "custom_texts", "valid_until").
		From("login_sessions").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select login sql: %w", err)
	}

	return scanLogin(r.exec.QueryRow(ctx, sql, args...))
}

func scanLogin(row pgx.Row) (*domain.Login, error) {
	var login domain.Login
	var booklets []byte
	var customTexts []byte
	if err := row.Scan(
		&login.ID,
		&login.Name,
		&login.Mode,
		&login.GroupName,
		&login.WorkspaceID,
		&booklets,
		&customTexts,
		&login.ValidTo,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan login: %w", err)
	}

	if len(booklets) > 0 {
		if err := json.Unmarshal(booklets, &login.Booklets); err != nil {
			return nil, fmt.Errorf("unmarshal booklet map: %w", err)
		}
	}
	if len(customTexts) > 0 {
		if err := json.Unmarshal(customTexts, &login.CustomTexts); err != nil {
			return nil, fmt.Errorf("unmarshal custom texts: %w", err)
		}
	}
	return &login, nil
}

func marshalBooklets(booklets map[string][]string) ([]byte, error) {
	if booklets == nil {
		booklets = map[string][]string{}
	}
	payload, err := json.Marshal(booklets)
	if err != nil {
		return nil, fmt.Errorf("marshal booklet map: %w", err)
	}
	return payload, nil
}

func marshalCustomTexts(customTexts map[string]string) ([]byte, error) {
	if len(customTexts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(customTexts)
	if err != nil {
		return nil, fmt.Errorf("marshal custom texts: %w", err)
	}
	return payload, nil
}

var _ port.LoginRepository = (*LoginRepository)(nil)
