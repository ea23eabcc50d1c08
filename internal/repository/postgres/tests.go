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

// TestRepository implements port.TestRepository on the tests table plus its
// append-only satellites test_logs and test_reviews. A unique index on
// (person_id, name) backs the one-attempt-per-booklet contract.
type TestRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewTestRepository constructs a TestRepository.
func NewTestRepository(exec pgExecutor) *TestRepository {
	return &TestRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Create inserts a test record and returns its id. A second attempt at the
// same (person, booklet name) surfaces as repository.ErrConflict.
func (r *TestRepository) Create(ctx context.Context, test domain.Test) (int64, error) {
	sql, args, err := r.builder.Insert("tests").
		Columns("person_id", "name", "label", "running", "locked", "timestamp_server").
		Values(test.PersonID, test.Name, test.Label, test.Running, test.Locked, test.TimestampServer).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert test sql: %w", err)
	}

	var id int64
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if isUniqueViolation(err) {
			return 0, repository.ErrConflict
		}
		return 0, fmt.Errorf("insert test: %w", err)
	}
	return id, nil
}

// GetByID fetches a test by id.
func (r *TestRepository) GetByID(ctx context.Context, testID int64) (*domain.Test, error) {
	return r.getOne(ctx, squirrel.Eq{"id": testID})
}

// GetByPersonAndName fetches a test by its natural key.
func (r *TestRepository) GetByPersonAndName(ctx context.Context, personID int64, bookletName string) (*domain.Test, error) {
	return r.getOne(ctx, squirrel.Eq{"person_id": personID, "name": bookletName})
}

// IsLocked reads only the locked flag.
func (r *TestRepository) IsLocked(ctx context.Context, testID int64) (bool, error) {
	sql, args, err := r.builder.
		Select("locked").
		From("tests").
		Where(squirrel.Eq{"id": testID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select locked sql: %w", err)
	}

	var locked bool
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, repository.ErrNotFound
		}
		return false, fmt.Errorf("select locked: %w", err)
	}
	return locked, nil
}

// SetLocked flips the locked flag on one test.
func (r *TestRepository) SetLocked(ctx context.Context, testID int64, locked bool) error {
	sql, args, err := r.builder.Update("tests").
		Set("locked", locked).
		Where(squirrel.Eq{"id": testID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update locked sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update locked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UnlockByGroup clears the locked flag on every test whose person belongs to
// the group and returns the number of affected tests.
func (r *TestRepository) UnlockByGroup(ctx context.Context, workspaceID int, groupName string) (int, error) {
	const query = `
		UPDATE tests SET locked = FALSE
		WHERE locked = TRUE AND person_id IN (
			SELECT p.id FROM person_sessions p
			JOIN login_sessions l ON l.id = p.login_id
			WHERE l.workspace_id = $1 AND l.group_name = $2
		)`

	tag, err := r.exec.Exec(ctx, query, workspaceID, groupName)
	if err != nil {
		return 0, fmt.Errorf("unlock tests by group: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// MergeLastState merges the patch into the state blob atomically. Keys in
// the patch win over stored keys; other stored keys survive.
func (r *TestRepository) MergeLastState(ctx context.Context, testID int64, patch map[string]string, at time.Time) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal test state patch: %w", err)
	}

	const query = `
		UPDATE tests
		SET laststate = COALESCE(laststate, '{}'::jsonb) || $1::jsonb,
		    timestamp_server = $2
		WHERE id = $3`

	tag, err := r.exec.Exec(ctx, query, payload, at, testID)
	if err != nil {
		return fmt.Errorf("merge test state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddLog appends one test log line.
func (r *TestRepository) AddLog(ctx context.Context, testID int64, entry domain.LogEntry) error {
	sql, args, err := r.builder.Insert("test_logs").
		Columns("booklet_id", "timestamp", "logentry").
		Values(testID, entry.Timestamp, entry.Entry).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert test log sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert test log: %w", err)
	}
	return nil
}

// AddReview appends one booklet-level review.
func (r *TestRepository) AddReview(ctx context.Context, testID int64, review domain.Review) error {
	sql, args, err := r.builder.Insert("test_reviews").
		Columns("booklet_id", "reviewtime", "priority", "categories", "entry").
		Values(testID, review.ReviewTime, review.Priority, review.Categories, review.Entry).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert test review sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert test review: %w", err)
	}
	return nil
}

func (r *TestRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.Test, error) {
	sql, args, err := r.builder.
		Select("id", "person_id", "name", "label", "running", "locked", "laststate", "timestamp_server").
		From("tests").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select test sql: %w", err)
	}

	var test domain.Test
	var state []byte
	err = r.exec.QueryRow(ctx, sql, args...).Scan(
		&test.ID,
		&test.PersonID,
		&test.Name,
		&test.Label,
		&test.Running,
		&test.Locked,
		&state,
		&test.TimestampServer,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan test: %w", err)
	}

	if len(state) > 0 {
		if err := json.Unmarshal(state, &test.LastState); err != nil {
			return nil, fmt.Errorf("unmarshal test state: %w", err)
		}
	}
	return &test, nil
}

var _ port.TestRepository = (*TestRepository)(nil)
