package port

import (
	"context"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// TestRepository persists tests (booklet attempts) and their units. Create
// must fail with repository.ErrConflict when a test for the same
// (person id, booklet name) already exists.
type TestRepository interface {
	Create(ctx context.Context, test domain.Test) (int64, error)
	GetByID(ctx context.Context, testID int64) (*domain.Test, error)
	GetByPersonAndName(ctx context.Context, personID int64, bookletName string) (*domain.Test, error)
	IsLocked(ctx context.Context, testID int64) (bool, error)
	SetLocked(ctx context.Context, testID int64, locked bool) error
	// UnlockByGroup clears the locked flag on every test of a group within a
	// workspace and returns the number of affected tests.
	UnlockByGroup(ctx context.Context, workspaceID int, groupName string) (int, error)
	// MergeLastState merges the patch into the test's state blob atomically
	// and stamps the server timestamp.
	MergeLastState(ctx context.Context, testID int64, patch map[string]string, at time.Time) error
	AddLog(ctx context.Context, testID int64, entry domain.LogEntry) error
	AddReview(ctx context.Context, testID int64, review domain.Review) error
}

// UnitRepository persists unit records inside tests. Units come into being
// on first write; EnsureUnit is idempotent.
type UnitRepository interface {
	EnsureUnit(ctx context.Context, testID int64, unitName string) error
	GetUnit(ctx context.Context, testID int64, unitName string) (*domain.Unit, error)
	UpdateResponse(ctx context.Context, testID int64, unitName, response, responseType string, timestamp int64) error
	UpdateRestorePoint(ctx context.Context, testID int64, unitName, restorePoint string, timestamp int64) error
	MergeLastState(ctx context.Context, testID int64, unitName string, patch map[string]string) error
	AddLog(ctx context.Context, testID int64, unitName string, entry domain.LogEntry) error
	AddReview(ctx context.Context, testID int64, unitName string, review domain.Review) error
}

// CommandRepository appends administrative commands. Implementations must
// assign race-free monotonic ids when the command carries none.
type CommandRepository interface {
	Store(ctx context.Context, commanderID, testID int64, command domain.Command) (int64, error)
}
