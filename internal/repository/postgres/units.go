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

// UnitRepository implements port.UnitRepository on the units table plus its
// append-only satellites unit_logs and unit_reviews. Units are keyed by
// (booklet_id, name) with a unique index.
type UnitRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUnitRepository constructs a UnitRepository.
func NewUnitRepository(exec pgExecutor) *UnitRepository {
	return &UnitRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// EnsureUnit creates the unit row if it does not exist yet. Safe to call
// concurrently; the loser of the insert race sees the winner's row.
func (r *UnitRepository) EnsureUnit(ctx context.Context, testID int64, unitName string) error {
	const query = `
		INSERT INTO units (booklet_id, name)
		VALUES ($1, $2)
		ON CONFLICT (booklet_id, name) DO NOTHING`

	if _, err := r.exec.Exec(ctx, query, testID, unitName); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	return nil
}

// GetUnit fetches one unit by its natural key.
func (r *UnitRepository) GetUnit(ctx context.Context, testID int64, unitName string) (*domain.Unit, error) {
	sql, args, err := r.builder.
		Select("id", "booklet_id", "name", "responses", "responsetype", "responses_ts", "restorepoint", "restorepoint_ts", "laststate").
		From("units").
		Where(squirrel.Eq{"booklet_id": testID, "name": unitName}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select unit sql: %w", err)
	}

	var unit domain.Unit
	var state []byte
	err = r.exec.QueryRow(ctx, sql, args...).Scan(
		&unit.ID,
		&unit.TestID,
		&unit.Name,
		&unit.Responses,
		&unit.ResponseType,
		&unit.ResponsesAt,
		&unit.RestorePoint,
		&unit.RestorePointAt,
		&state,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan unit: %w", err)
	}

	if len(state) > 0 {
		if err := json.Unmarshal(state, &unit.LastState); err != nil {
			return nil, fmt.Errorf("unmarshal unit state: %w", err)
		}
	}
	return &unit, nil
}

// UpdateResponse overwrites the unit's response blob in place.
func (r *UnitRepository) UpdateResponse(ctx context.Context, testID int64, unitName, response, responseType string, timestamp int64) error {
	sql, args, err := r.builder.Update("units").
		Set("responses", response).
		Set("responsetype", responseType).
		Set("responses_ts", unixMillis(timestamp)).
		Where(squirrel.Eq{"booklet_id": testID, "name": unitName}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update response sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// UpdateRestorePoint overwrites the unit's restore point in place.
func (r *UnitRepository) UpdateRestorePoint(ctx context.Context, testID int64, unitName, restorePoint string, timestamp int64) error {
	sql, args, err := r.builder.Update("units").
		Set("restorepoint", restorePoint).
		Set("restorepoint_ts", unixMillis(timestamp)).
		Where(squirrel.Eq{"booklet_id": testID, "name": unitName}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update restorepoint sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update restorepoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// MergeLastState merges the patch into the unit's state blob atomically.
func (r *UnitRepository) MergeLastState(ctx context.Context, testID int64, unitName string, patch map[string]string) error {
	payload, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal unit state patch: %w", err)
	}

	const query = `
		UPDATE units
		SET laststate = COALESCE(laststate, '{}'::jsonb) || $1::jsonb
		WHERE booklet_id = $2 AND name = $3`

	tag, err := r.exec.Exec(ctx, query, payload, testID, unitName)
	if err != nil {
		return fmt.Errorf("merge unit state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddLog appends one unit log line.
func (r *UnitRepository) AddLog(ctx context.Context, testID int64, unitName string, entry domain.LogEntry) error {
	const query = `
		INSERT INTO unit_logs (unit_id, timestamp, logentry)
		SELECT id, $1, $2 FROM units WHERE booklet_id = $3 AND name = $4`

	tag, err := r.exec.Exec(ctx, query, entry.Timestamp, entry.Entry, testID, unitName)
	if err != nil {
		return fmt.Errorf("insert unit log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddReview appends one unit-level review.
func (r *UnitRepository) AddReview(ctx context.Context, testID int64, unitName string, review domain.Review) error {
	const query = `
		INSERT INTO unit_reviews (unit_id, reviewtime, priority, categories, entry)
		SELECT id, $1, $2, $3, $4 FROM units WHERE booklet_id = $5 AND name = $6`

	tag, err := r.exec.Exec(ctx, query, review.ReviewTime, review.Priority, review.Categories, review.Entry, testID, unitName)
	if err != nil {
		return fmt.Errorf("insert unit review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func unixMillis(timestamp int64) time.Time {
	return time.UnixMilli(timestamp).UTC()
}

var _ port.UnitRepository = (*UnitRepository)(nil)
