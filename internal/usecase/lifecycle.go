package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

// TestService manages the lifecycle of tests (booklet attempts) and their
// units: creation, locking, response/restore-point/state writes, logs,
// reviews and administrative commands.
type TestService struct {
	tests    port.TestRepository
	units    port.UnitRepository
	commands port.CommandRepository
	persons  port.PersonRepository
	now      func() time.Time
}

// NewTestService constructs a TestService.
func NewTestService(tests port.TestRepository, units port.UnitRepository, commands port.CommandRepository, persons port.PersonRepository) *TestService {
	return &TestService{
		tests:    tests,
		units:    units,
		commands: commands,
		persons:  persons,
		now:      time.Now,
	}
}

// GetOrCreateTest returns the test for (person, booklet name), creating it
// on first call. Concurrent first calls settle on one row: the losing insert
// re-reads the winner's row.
func (s *TestService) GetOrCreateTest(ctx context.Context, personID int64, bookletName, label string) (*domain.Test, error) {
	test, err := s.tests.GetByPersonAndName(ctx, personID, bookletName)
	if err == nil {
		return test, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup test: %w", err)
	}

	candidate := domain.Test{
		PersonID:        personID,
		Name:            bookletName,
		Label:           label,
		Running:         true,
		TimestampServer: s.now(),
	}
	id, err := s.tests.Create(ctx, candidate)
	if err == nil {
		candidate.ID = id
		return &candidate, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, fmt.Errorf("create test: %w", err)
	}

	// Lost the insert race; one bounded re-read before giving up.
	test, err = s.tests.GetByPersonAndName(ctx, personID, bookletName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("lookup test after conflict: %w", err)
	}
	return test, nil
}

// GetTest fetches a test by id.
func (s *TestService) GetTest(ctx context.Context, testID int64) (*domain.Test, error) {
	test, err := s.tests.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup test: %w", err)
	}
	return test, nil
}

// BookletStatus returns the pre-start view of a booklet for a person.
func (s *TestService) BookletStatus(ctx context.Context, personID int64, bookletName string) (*domain.BookletStatus, error) {
	test, err := s.tests.GetByPersonAndName(ctx, personID, bookletName)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &domain.BookletStatus{
				Running:     false,
				CanStart:    true,
				StatusLabel: "Press here to start",
			}, nil
		}
		return nil, fmt.Errorf("lookup test: %w", err)
	}

	status := &domain.BookletStatus{
		Running:     true,
		CanStart:    true,
		StatusLabel: "Press here to continue",
		Label:       test.Label,
		TestID:      test.ID,
		Locked:      test.Locked,
		LastState:   test.LastState,
	}
	if test.Locked {
		status.CanStart = false
		status.StatusLabel = "Finished"
	}
	return status, nil
}

// LockTest sets the locked flag. Locking is one-way for test-taking clients;
// only UnlockTestsByGroup clears it again.
func (s *TestService) LockTest(ctx context.Context, testID int64) error {
	if err := s.tests.SetLocked(ctx, testID, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("lock test: %w", err)
	}
	return nil
}

// UnlockTestsByGroup clears the locked flag on every test of a group.
func (s *TestService) UnlockTestsByGroup(ctx context.Context, workspaceID int, groupName string) (int, error) {
	unlocked, err := s.tests.UnlockByGroup(ctx, workspaceID, groupName)
	if err != nil {
		return 0, fmt.Errorf("unlock tests: %w", err)
	}
	return unlocked, nil
}

// canWrite gates every mutation of test data on the locked flag.
func (s *TestService) canWrite(ctx context.Context, testID int64) error {
	locked, err := s.tests.IsLocked(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("check lock: %w", err)
	}
	if locked {
		return ErrLocked
	}
	return nil
}

// AddResponse stores a unit response, last-writer-wins.
func (s *TestService) AddResponse(ctx context.Context, testID int64, unitName, response, responseType string, timestamp int64) error {
	if err := s.canWrite(ctx, testID); err != nil {
		return err
	}
	if err := s.units.EnsureUnit(ctx, testID, unitName); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	if err := s.units.UpdateResponse(ctx, testID, unitName, response, responseType, timestamp); err != nil {
		return fmt.Errorf("store response: %w", err)
	}
	return nil
}

// UpdateRestorePoint overwrites the unit's restore point.
func (s *TestService) UpdateRestorePoint(ctx context.Context, testID int64, unitName, restorePoint string, timestamp int64) error {
	if err := s.canWrite(ctx, testID); err != nil {
		return err
	}
	if err := s.units.EnsureUnit(ctx, testID, unitName); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	if err := s.units.UpdateRestorePoint(ctx, testID, unitName, restorePoint, timestamp); err != nil {
		return fmt.Errorf("store restore point: %w", err)
	}
	return nil
}

// UpdateUnitState merges a key/value patch into the unit's state blob.
func (s *TestService) UpdateUnitState(ctx context.Context, testID int64, unitName, key, value string) error {
	if err := s.canWrite(ctx, testID); err != nil {
		return err
	}
	if err := s.units.EnsureUnit(ctx, testID, unitName); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	if err := s.units.MergeLastState(ctx, testID, unitName, map[string]string{key: value}); err != nil {
		return fmt.Errorf("store unit state: %w", err)
	}
	return nil
}

// UpdateTestState merges a key/value patch into the test's state blob and
// stamps the server timestamp.
func (s *TestService) UpdateTestState(ctx context.Context, testID int64, key, value string) error {
	if err := s.canWrite(ctx, testID); err != nil {
		return err
	}
	if err := s.tests.MergeLastState(ctx, testID, map[string]string{key: value}, s.now()); err != nil {
		return fmt.Errorf("store test state: %w", err)
	}
	return nil
}

// AddUnitLog appends a unit log entry, ordered by the client timestamp.
func (s *TestService) AddUnitLog(ctx context.Context, testID int64, unitName, entry string, timestamp int64) error {
	if err := s.canWrite(ctx, testID); err != nil {
		return err
	}
	if err := s.units.EnsureUnit(ctx, testID, unitName); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	if err := s.units.AddLog(ctx, testID, unitName, domain.LogEntry{Timestamp: timestamp, Entry: entry}); err != nil {
		return fmt.Errorf("store unit log: %w", err)
	}
	return nil
}

// AddTestLog appends a booklet-level log entry.
func (s *TestService) AddTestLog(ctx context.Context, testID int64, entry string, timestamp int64) error {
	if err := s.canWrite(ctx, testID); err != nil {
		return err
	}
	if err := s.tests.AddLog(ctx, testID, domain.LogEntry{Timestamp: timestamp, Entry: entry}); err != nil {
		return fmt.Errorf("store test log: %w", err)
	}
	return nil
}

// AddUnitReview appends a reviewer annotation to a unit. The priority is
// coerced to [0,3], never rejected.
func (s *TestService) AddUnitReview(ctx context.Context, testID int64, unitName string, priority any, categories, entry string) error {
	if err := s.units.EnsureUnit(ctx, testID, unitName); err != nil {
		return fmt.Errorf("ensure unit: %w", err)
	}
	review := domain.Review{
		Priority:   domain.ClampReviewPriority(priority),
		Categories: categories,
		Entry:      entry,
		ReviewTime: s.now(),
	}
	if err := s.units.AddReview(ctx, testID, unitName, review); err != nil {
		return fmt.Errorf("store unit review: %w", err)
	}
	return nil
}

// AddTestReview appends a reviewer annotation to the whole booklet.
func (s *TestService) AddTestReview(ctx context.Context, testID int64, priority any, categories, entry string) error {
	review := domain.Review{
		Priority:   domain.ClampReviewPriority(priority),
		Categories: categories,
		Entry:      entry,
		ReviewTime: s.now(),
	}
	if err := s.tests.AddReview(ctx, testID, review); err != nil {
		return fmt.Errorf("store test review: %w", err)
	}
	return nil
}

// StoreCommand appends an administrative command for a running test and
// returns its id. Only monitor sessions may command a test, and only a test
// owned by a person of the monitor's own group and workspace. Id assignment
// is race-free at the storage layer.
func (s *TestService) StoreCommand(ctx context.Context, commander *domain.LoginWithPerson, testID int64, command domain.Command) (int64, error) {
	if commander == nil || !domain.ModeHasCapability(commander.Login.Mode, domain.CapabilityMonitor) {
		return 0, ErrNoAccess
	}
	test, err := s.tests.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("load commanded test: %w", err)
	}
	target, err := s.persons.GetWithLogin(ctx, test.PersonID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("resolve commanded test owner: %w", err)
	}
	if target.Login.WorkspaceID != commander.Login.WorkspaceID || target.Login.GroupName != commander.Login.GroupName {
		return 0, ErrNoAccess
	}
	if command.Timestamp.IsZero() {
		command.Timestamp = s.now()
	}
	id, err := s.commands.Store(ctx, commander.Person.ID, testID, command)
	if err != nil {
		return 0, fmt.Errorf("store command: %w", err)
	}
	return id, nil
}
