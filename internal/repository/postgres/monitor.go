package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
)

// MonitorRepository implements port.MonitorRepository by joining the session
// and test tables into dashboard rows. It serves the pull side; live pushes
// go through the broadcast sinks.
type MonitorRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewMonitorRepository constructs a MonitorRepository.
func NewMonitorRepository(exec pgExecutor) *MonitorRepository {
	return &MonitorRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// TestSessionRows returns one row per running test in the workspace. An
// empty groups slice means all groups; modes always filter.
func (r *MonitorRepository) TestSessionRows(ctx context.Context, workspaceID int, groups []string, modes []string) ([]domain.SessionChangeMessage, error) {
	query := r.builder.
		Select(
			"p.id", "l.group_name", "t.id", "t.timestamp_server",
			"l.name", "l.mode", "p.code", "t.name", "t.laststate",
		).
		From("tests t").
		Join("person_sessions p ON p.id = t.person_id").
		Join("login_sessions l ON l.id = p.login_id").
		Where(squirrel.Eq{"l.workspace_id": workspaceID, "t.running": true}).
		Where(squirrel.Eq{"l.mode": modes}).
		OrderBy("p.id", "t.id")
	if len(groups) > 0 {
		query = query.Where(squirrel.Eq{"l.group_name": groups})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session rows sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select session rows: %w", err)
	}
	defer rows.Close()

	var messages []domain.SessionChangeMessage
	for rows.Next() {
		var message domain.SessionChangeMessage
		var groupName, loginName, mode, code, bookletName string
		var state []byte
		if err := rows.Scan(
			&message.PersonID,
			&groupName,
			&message.TestID,
			&message.Timestamp,
			&loginName,
			&mode,
			&code,
			&bookletName,
			&state,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		message.WorkspaceID = workspaceID
		message.GroupName = groupName
		message.SetLogin(loginName, mode, groupName, code)

		var testState map[string]string
		if len(state) > 0 {
			if err := json.Unmarshal(state, &testState); err != nil {
				return nil, fmt.Errorf("unmarshal test state: %w", err)
			}
		}
		message.SetTestState(testState, bookletName)
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return messages, nil
}

// UnitState fetches the state blob of one unit. Absent units and empty
// blobs both come back as nil without error.
func (r *MonitorRepository) UnitState(ctx context.Context, testID int64, unitName string) (map[string]string, error) {
	sql, args, err := r.builder.
		Select("laststate").
		From("units").
		Where(squirrel.Eq{"booklet_id": testID, "name": unitName}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select unit state sql: %w", err)
	}

	var state []byte
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select unit state: %w", err)
	}
	if len(state) == 0 {
		return nil, nil
	}

	var unitState map[string]string
	if err := json.Unmarshal(state, &unitState); err != nil {
		return nil, fmt.Errorf("unmarshal unit state: %w", err)
	}
	return unitState, nil
}

// ResultCounts returns one row per test with its answered-unit count and the
// time of the last change, ordered by group, login, code and booklet.
func (r *MonitorRepository) ResultCounts(ctx context.Context, workspaceID int) ([]domain.ResultCount, error) {
	const query = `
		SELECT l.group_name, l.name, p.code, t.name,
		       COUNT(u.id) AS unit_count,
		       MAX(t.timestamp_server) AS last_change
		FROM tests t
		JOIN person_sessions p ON p.id = t.person_id
		JOIN login_sessions l ON l.id = p.login_id
		LEFT JOIN units u ON u.booklet_id = t.id AND u.responses IS NOT NULL
		WHERE l.workspace_id = $1
		GROUP BY l.group_name, l.name, p.code, t.name
		ORDER BY l.group_name, l.name, p.code, t.name`

	rows, err := r.exec.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("select result counts: %w", err)
	}
	defer rows.Close()

	var counts []domain.ResultCount
	for rows.Next() {
		var count domain.ResultCount
		if err := rows.Scan(
			&count.GroupName,
			&count.LoginName,
			&count.Code,
			&count.BookletName,
			&count.UnitCount,
			&count.LastChange,
		); err != nil {
			return nil, fmt.Errorf("scan result count: %w", err)
		}
		counts = append(counts, count)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate result counts: %w", err)
	}
	return counts, nil
}

var _ port.MonitorRepository = (*MonitorRepository)(nil)
