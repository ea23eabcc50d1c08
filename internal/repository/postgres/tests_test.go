package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/repository"
)

func TestTestRepository_Create_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewTestRepository(mock)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO tests \(person_id,name,label,running,locked,timestamp_server\)`).
		WithArgs(int64(7), "BOOKLET.A", "Booklet A", true, false, at).
		WillReturnError(uniqueViolation())

	_, err = repo.Create(context.Background(), domain.Test{
		PersonID:        7,
		Name:            "BOOKLET.A",
		Label:           "Booklet A",
		Running:         true,
		TimestampServer: at,
	})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTestRepository_GetByID_ScansState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewTestRepository(mock)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"id", "person_id", "name", "label", "running", "locked", "laststate", "timestamp_server"}).
		AddRow(int64(5), int64(7), "BOOKLET.A", "Booklet A", true, false, []byte(`{"CONTROLLER":"RUNNING"}`), at)

	mock.ExpectQuery(`SELECT id, person_id, name, label, running, locked, laststate, timestamp_server FROM tests WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(rows)

	test, err := repo.GetByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if test.LastState["CONTROLLER"] != "RUNNING" {
		t.Fatalf("state blob not decoded, got %v", test.LastState)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTestRepository_IsLocked_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewTestRepository(mock)

	mock.ExpectQuery(`SELECT locked FROM tests WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"locked"}))

	_, err = repo.IsLocked(context.Background(), 99)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTestRepository_MergeLastState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewTestRepository(mock)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE tests\s+SET laststate = COALESCE\(laststate, '\{\}'::jsonb\) \|\| \$1::jsonb`).
		WithArgs([]byte(`{"CONTROLLER":"PAUSED"}`), at, int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.MergeLastState(context.Background(), 5, map[string]string{"CONTROLLER": "PAUSED"}, at); err != nil {
		t.Fatalf("MergeLastState returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTestRepository_UnlockByGroup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewTestRepository(mock)

	mock.ExpectExec(`UPDATE tests SET locked = FALSE`).
		WithArgs(1, "sample_group").
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	unlocked, err := repo.UnlockByGroup(context.Background(), 1, "sample_group")
	if err != nil {
		t.Fatalf("UnlockByGroup returned error: %v", err)
	}
	if unlocked != 3 {
		t.Fatalf("expected 3 unlocked, got %d", unlocked)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
