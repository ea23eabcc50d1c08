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

// PersonRepository implements port.PersonRepository on the person_sessions
// table. A unique index on (login_id, code) backs the conflict contract.
type PersonRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPersonRepository constructs a PersonRepository.
func NewPersonRepository(exec pgExecutor) *PersonRepository {
	return &PersonRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Create inserts a person record and returns its id. Duplicate
// (login id, code) pairs surface as repository.ErrConflict.
func (r *PersonRepository) Create(ctx context.Context, person domain.Person) (int64, error) {
	sql, args, err := r.builder.Insert("person_sessions").
		Columns("login_id", "code", "last_seen").
		Values(person.LoginID, person.Code, person.LastSeen).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert person sql: %w", err)
	}

	var id int64
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("insert person: %w", err)
	}
	return id, nil
}

// GetByLoginAndCode fetches a person by its natural key.
func (r *PersonRepository) GetByLoginAndCode(ctx context.Context, loginID int64, code string) (*domain.Person, error) {
	sql, args, err := r.builder.
		Select("id", "login_id", "code", "last_seen", "laststate").
		From("person_sessions").
		Where(squirrel.Eq{"login_id": loginID, "code": code}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select person sql: %w", err)
	}

	return scanPerson(r.exec.QueryRow(ctx, sql, args...))
}

// GetWithLogin resolves a person together with its owning login in one query.
func (r *PersonRepository) GetWithLogin(ctx context.Context, personID int64) (*domain.LoginWithPerson, error) {
	sql, args, err := r.builder.
		Select(
			"p.id", "p.login_id", "p.code", "p.last_seen", "p.laststate",
			"l.id", "l.name", "l.mode", "l.group_name", "l.workspace_id", "l.booklet_def", "l.custom_texts", "l.valid_until",
		).
		From("person_sessions p").
		Join("login_sessions l ON l.id = p.login_id").
		Where(squirrel.Eq{"p.id": personID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select person with login sql: %w", err)
	}

	var pair domain.LoginWithPerson
	var personState []byte
	var booklets []byte
	var customTexts []byte
	err = r.exec.QueryRow(ctx, sql, args...).Scan(
		&pair.Person.ID,
		&pair.Person.LoginID,
		&pair.Person.Code,
		&pair.Person.LastSeen,
		&personState,
		&pair.Login.ID,
		&pair.Login.Name,
		&pair.Login.Mode,
		&pair.Login.GroupName,
		&pair.Login.WorkspaceID,
		&booklets,
		&customTexts,
		&pair.Login.ValidTo,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan person with login: %w", err)
	}

	if len(personState) > 0 {
		if err := json.Unmarshal(personState, &pair.Person.LastState); err != nil {
			return nil, fmt.Errorf("unmarshal person state: %w", err)
		}
	}
	if len(booklets) > 0 {
		if err := json.Unmarshal(booklets, &pair.Login.Booklets); err != nil {
			return nil, fmt.Errorf("unmarshal booklet map: %w", err)
		}
	}
	if len(customTexts) > 0 {
		if err := json.Unmarshal(customTexts, &pair.Login.CustomTexts); err != nil {
			return nil, fmt.Errorf("unmarshal custom texts: %w", err)
		}
	}
	return &pair, nil
}

// Touch stamps the person's last activity.
func (r *PersonRepository) Touch(ctx context.Context, personID int64, at time.Time) error {
	sql, args, err := r.builder.Update("person_sessions").
		Set("last_seen", at).
		Where(squirrel.Eq{"id": personID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch person sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("touch person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanPerson(row pgx.Row) (*domain.Person, error) {
	var person domain.Person
	var state []byte
	if err := row.Scan(
		&person.ID,
		&person.LoginID,
		&person.Code,
		&person.LastSeen,
		&state,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan person: %w", err)
	}

	if len(state) > 0 {
		if err := json.Unmarshal(state, &person.LastState); err != nil {
			return nil, fmt.Errorf("unmarshal person state: %w", err)
		}
	}
	return &person, nil
}

var _ port.PersonRepository = (*PersonRepository)(nil)
