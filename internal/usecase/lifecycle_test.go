package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

func newTestFixture() (*TestService, *fakeTestRepo, *fakeUnitRepo, *fakeCommandRepo) {
	tests := newFakeTestRepo()
	units := newFakeUnitRepo()
	commands := &fakeCommandRepo{}
	service := NewTestService(tests, units, commands, newFakePersonRepo(newFakeLoginRepo()))
	service.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return service, tests, units, commands
}

// newCommandFixture wires the service with shared login and person repos so
// command authorization can be exercised across groups and workspaces.
func newCommandFixture() (*TestService, *fakeTestRepo, *fakeCommandRepo, *fakeLoginRepo, *fakePersonRepo) {
	tests := newFakeTestRepo()
	commands := &fakeCommandRepo{}
	logins := newFakeLoginRepo()
	persons := newFakePersonRepo(logins)
	service := NewTestService(tests, newFakeUnitRepo(), commands, persons)
	service.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return service, tests, commands, logins, persons
}

func seedSessionPerson(t *testing.T, logins *fakeLoginRepo, persons *fakePersonRepo, workspaceID int, group, name, mode string) *domain.LoginWithPerson {
	t.Helper()
	ctx := context.Background()
	loginID, err := logins.Create(ctx, domain.Login{
		Name:        name,
		Mode:        mode,
		GroupName:   group,
		WorkspaceID: workspaceID,
	})
	if err != nil {
		t.Fatalf("seed login %s: %v", name, err)
	}
	personID, err := persons.Create(ctx, domain.Person{LoginID: loginID})
	if err != nil {
		t.Fatalf("seed person for %s: %v", name, err)
	}
	resolved, err := persons.GetWithLogin(ctx, personID)
	if err != nil {
		t.Fatalf("resolve person for %s: %v", name, err)
	}
	return resolved
}

func TestGetOrCreateTestIdempotent(t *testing.T) {
	service, _, _, _ := newTestFixture()
	ctx := context.Background()

	first, err := service.GetOrCreateTest(ctx, 7, "BOOKLET.A", "Booklet A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !first.Running {
		t.Fatalf("new test must be running")
	}

	second, err := service.GetOrCreateTest(ctx, 7, "BOOKLET.A", "Booklet A")
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("repeat call must return the same test, got %d and %d", first.ID, second.ID)
	}

	other, err := service.GetOrCreateTest(ctx, 7, "BOOKLET.B", "Booklet B")
	if err != nil {
		t.Fatalf("other booklet: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("different booklet must get its own test")
	}
}

func TestGetOrCreateTestConcurrent(t *testing.T) {
	service, tests, _, _ := newTestFixture()
	ctx := context.Background()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			test, err := service.GetOrCreateTest(ctx, 42, "BOOKLET.RACE", "Race")
			if err != nil {
				t.Errorf("worker %d: %v", slot, err)
				return
			}
			results[slot] = test.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("workers disagreed on the test id: %v", results)
		}
	}
	if len(tests.tests) != 1 {
		t.Fatalf("expected exactly one test row, got %d", len(tests.tests))
	}
}

func TestLockBlocksWrites(t *testing.T) {
	service, _, units, _ := newTestFixture()
	ctx := context.Background()

	test, err := service.GetOrCreateTest(ctx, 1, "BOOKLET.A", "A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := service.AddResponse(ctx, test.ID, "unit1", `{"a":1}`, "json", 1000); err != nil {
		t.Fatalf("response before lock: %v", err)
	}

	if err := service.LockTest(ctx, test.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}

	writes := []error{
		service.AddResponse(ctx, test.ID, "unit1", `{"a":2}`, "json", 2000),
		service.UpdateRestorePoint(ctx, test.ID, "unit1", `{}`, 2000),
		service.UpdateUnitState(ctx, test.ID, "unit1", "PRESENTED", "yes"),
		service.UpdateTestState(ctx, test.ID, "CONTROLLER", "TERMINATED"),
		service.AddUnitLog(ctx, test.ID, "unit1", "entry", 2000),
		service.AddTestLog(ctx, test.ID, "entry", 2000),
	}
	for i, err := range writes {
		if !errors.Is(err, ErrLocked) {
			t.Fatalf("write %d on locked test: expected ErrLocked, got %v", i, err)
		}
	}

	// Reviews are exempt from the lock: reviewers annotate finished tests.
	if err := service.AddUnitReview(ctx, test.ID, "unit1", 2, "content", "typo"); err != nil {
		t.Fatalf("unit review on locked test: %v", err)
	}
	if err := service.AddTestReview(ctx, test.ID, 1, "layout", "overlap"); err != nil {
		t.Fatalf("test review on locked test: %v", err)
	}

	unit, err := units.GetUnit(ctx, test.ID, "unit1")
	if err != nil {
		t.Fatalf("get unit: %v", err)
	}
	if unit.Responses == nil || *unit.Responses != `{"a":1}` {
		t.Fatalf("locked write must not have replaced the response")
	}
}

func TestUnlockTestsByGroup(t *testing.T) {
	service, _, _, _ := newTestFixture()
	ctx := context.Background()

	test, err := service.GetOrCreateTest(ctx, 1, "BOOKLET.A", "A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := service.LockTest(ctx, test.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}

	unlocked, err := service.UnlockTestsByGroup(ctx, 1, "sample_group")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if unlocked != 1 {
		t.Fatalf("expected 1 unlocked test, got %d", unlocked)
	}

	if err := service.UpdateTestState(ctx, test.ID, "CONTROLLER", "RUNNING"); err != nil {
		t.Fatalf("write after unlock: %v", err)
	}
}

func TestBookletStatusLabels(t *testing.T) {
	service, _, _, _ := newTestFixture()
	ctx := context.Background()

	status, err := service.BookletStatus(ctx, 9, "BOOKLET.A")
	if err != nil {
		t.Fatalf("status before start: %v", err)
	}
	if status.Running || !status.CanStart || status.StatusLabel != "Press here to start" {
		t.Fatalf("unexpected pre-start status %+v", status)
	}

	test, err := service.GetOrCreateTest(ctx, 9, "BOOKLET.A", "A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	status, err = service.BookletStatus(ctx, 9, "BOOKLET.A")
	if err != nil {
		t.Fatalf("status while running: %v", err)
	}
	if !status.Running || !status.CanStart || status.StatusLabel != "Press here to continue" {
		t.Fatalf("unexpected running status %+v", status)
	}
	if status.TestID != test.ID {
		t.Fatalf("status must reference the existing test")
	}

	if err := service.LockTest(ctx, test.ID); err != nil {
		t.Fatalf("lock: %v", err)
	}
	status, err = service.BookletStatus(ctx, 9, "BOOKLET.A")
	if err != nil {
		t.Fatalf("status after lock: %v", err)
	}
	if status.CanStart || status.StatusLabel != "Finished" {
		t.Fatalf("unexpected locked status %+v", status)
	}
}

func TestReviewPriorityClamping(t *testing.T) {
	cases := []struct {
		input any
		want  int
	}{
		{-1, 0},
		{"abc", 0},
		{5, 0},
		{2, 2},
		{float64(2), 2},
		{2.5, 0},
		{"3", 3},
		{nil, 0},
	}
	for _, tc := range cases {
		if got := domain.ClampReviewPriority(tc.input); got != tc.want {
			t.Fatalf("ClampReviewPriority(%v) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func TestStoreCommandDefaultsTimestamp(t *testing.T) {
	service, tests, commands, logins, persons := newCommandFixture()
	ctx := context.Background()

	monitor := seedSessionPerson(t, logins, persons, 1, "g1", "monitor", domain.ModeGroupMonitor)
	testee := seedSessionPerson(t, logins, persons, 1, "g1", "testee", domain.ModeRunHotReturn)
	testID, err := tests.Create(ctx, domain.Test{PersonID: testee.Person.ID, Name: "BOOKLET.A"})
	if err != nil {
		t.Fatalf("seed test: %v", err)
	}

	id, err := service.StoreCommand(ctx, monitor, testID, domain.Command{Keyword: "pause", Arguments: []string{}})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first id 1, got %d", id)
	}
	stored := commands.commands[0]
	if stored.Timestamp.IsZero() {
		t.Fatalf("missing timestamp must be stamped server-side")
	}
	if stored.CommanderID != monitor.Person.ID || stored.TestID != testID {
		t.Fatalf("unexpected command routing %+v", stored)
	}

	explicit := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	if _, err := service.StoreCommand(ctx, monitor, testID, domain.Command{Keyword: "goto", Timestamp: explicit}); err != nil {
		t.Fatalf("store explicit: %v", err)
	}
	if !commands.commands[1].Timestamp.Equal(explicit) {
		t.Fatalf("explicit timestamp must be kept")
	}
}

func TestStoreCommandRequiresOwnGroup(t *testing.T) {
	service, tests, commands, logins, persons := newCommandFixture()
	ctx := context.Background()

	testee := seedSessionPerson(t, logins, persons, 1, "g1", "testee", domain.ModeRunHotReturn)
	testID, err := tests.Create(ctx, domain.Test{PersonID: testee.Person.ID, Name: "BOOKLET.A"})
	if err != nil {
		t.Fatalf("seed test: %v", err)
	}

	foreignWorkspace := seedSessionPerson(t, logins, persons, 2, "g1", "monitor-ws2", domain.ModeGroupMonitor)
	if _, err := service.StoreCommand(ctx, foreignWorkspace, testID, domain.Command{Keyword: "pause"}); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("foreign workspace monitor: got %v, want ErrNoAccess", err)
	}

	foreignGroup := seedSessionPerson(t, logins, persons, 1, "g2", "monitor-g2", domain.ModeGroupMonitor)
	if _, err := service.StoreCommand(ctx, foreignGroup, testID, domain.Command{Keyword: "pause"}); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("foreign group monitor: got %v, want ErrNoAccess", err)
	}

	if _, err := service.StoreCommand(ctx, testee, testID, domain.Command{Keyword: "pause"}); !errors.Is(err, ErrNoAccess) {
		t.Fatalf("non-monitor session: got %v, want ErrNoAccess", err)
	}

	monitor := seedSessionPerson(t, logins, persons, 1, "g1", "monitor", domain.ModeGroupMonitor)
	if _, err := service.StoreCommand(ctx, monitor, testID+99, domain.Command{Keyword: "pause"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown test: got %v, want ErrNotFound", err)
	}

	if len(commands.commands) != 0 {
		t.Fatalf("rejected commands must not be stored, got %d", len(commands.commands))
	}

	if _, err := service.StoreCommand(ctx, monitor, testID, domain.Command{Keyword: "pause"}); err != nil {
		t.Fatalf("own group monitor: %v", err)
	}
}
