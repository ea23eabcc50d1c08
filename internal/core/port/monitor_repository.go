package port

import (
	"context"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// MonitorRepository assembles the pull-side state for monitoring dashboards.
type MonitorRepository interface {
	// TestSessionRows returns one row per running test in the workspace,
	// restricted to the supplied groups (all groups when empty) and modes.
	TestSessionRows(ctx context.Context, workspaceID int, groups []string, modes []string) ([]domain.SessionChangeMessage, error)
	// UnitState fetches the state blob of one unit, nil when absent.
	UnitState(ctx context.Context, testID int64, unitName string) (map[string]string, error)
	// ResultCounts returns per-test unit counts for the results overview.
	ResultCounts(ctx context.Context, workspaceID int) ([]domain.ResultCount, error)
}
