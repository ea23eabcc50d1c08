package usecase

import (
	"context"
	"fmt"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
)

// currentUnitStateKey names the test-state entry pointing at the unit the
// test-taker is currently working on.
const currentUnitStateKey = "CURRENT_UNIT_ID"

// MonitorService assembles the pull-side view for monitoring dashboards,
// used as recovery next to the live broadcast.
type MonitorService struct {
	monitor port.MonitorRepository
}

// NewMonitorService constructs a MonitorService.
func NewMonitorService(monitor port.MonitorRepository) *MonitorService {
	return &MonitorService{monitor: monitor}
}

// TestSessions returns one SessionChangeMessage per running test of the
// workspace, restricted to the supplied groups (all when empty) and to
// monitorable login modes. When a test state names a current unit, its
// state snapshot is attached.
func (s *MonitorService) TestSessions(ctx context.Context, workspaceID int, groups []string) ([]domain.SessionChangeMessage, error) {
	rows, err := s.monitor.TestSessionRows(ctx, workspaceID, groups, domain.ModesByCapability(domain.CapabilityMonitorable))
	if err != nil {
		return nil, fmt.Errorf("query test sessions: %w", err)
	}

	for i := range rows {
		currentUnit := rows[i].TestState[currentUnitStateKey]
		if currentUnit == "" {
			continue
		}
		unitState, err := s.monitor.UnitState(ctx, rows[i].TestID, currentUnit)
		if err != nil {
			return nil, fmt.Errorf("query unit state: %w", err)
		}
		if len(unitState) > 0 {
			rows[i].SetUnitState(currentUnit, unitState)
		}
	}

	return rows, nil
}

// AssembledResults aggregates per-test unit counts into one row per group:
// booklets started, min/max/mean/total answered units and the last change.
func (s *MonitorService) AssembledResults(ctx context.Context, workspaceID int) ([]domain.GroupResults, error) {
	counts, err := s.monitor.ResultCounts(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query result counts: %w", err)
	}

	keyed := make(map[string]*domain.GroupResults)
	var order []string

	for _, count := range counts {
		group, ok := keyed[count.GroupName]
		if !ok {
			keyed[count.GroupName] = &domain.GroupResults{
				GroupName:       count.GroupName,
				BookletsStarted: 1,
				UnitsMin:        count.UnitCount,
				UnitsMax:        count.UnitCount,
				UnitsTotal:      count.UnitCount,
				LastChange:      count.LastChange,
			}
			order = append(order, count.GroupName)
			continue
		}

		group.BookletsStarted++
		group.UnitsTotal += count.UnitCount
		if count.UnitCount > group.UnitsMax {
			group.UnitsMax = count.UnitCount
		}
		if count.UnitCount < group.UnitsMin {
			group.UnitsMin = count.UnitCount
		}
		if count.LastChange.After(group.LastChange) {
			group.LastChange = count.LastChange
		}
	}

	results := make([]domain.GroupResults, 0, len(order))
	for _, name := range order {
		group := keyed[name]
		group.UnitsMean = float64(group.UnitsTotal) / float64(group.BookletsStarted)
		results = append(results, *group)
	}
	return results, nil
}
