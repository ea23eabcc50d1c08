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

func tokenRows(token string, kind domain.TokenKind, ownerID int64, issuedAt, validUntil time.Time) *pgxmock.Rows {
	return pgxmock.NewRows([]string{"token", "kind", "owner_id", "parent_token", "issued_at", "valid_until"}).
		AddRow(token, string(kind), ownerID, nil, issuedAt, validUntil)
}

func TestTokenStore_Validate_Expired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewTokenStore(mock)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectQuery(`SELECT token, kind, owner_id, parent_token, issued_at, valid_until FROM session_tokens WHERE token = \$1`).
		WithArgs("tok-1").
		WillReturnRows(tokenRows("tok-1", domain.TokenKindLogin, 7, now.Add(-time.Hour), now.Add(-time.Minute)))

	_, err = store.Validate(context.Background(), "tok-1")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expired token: expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenStore_Refresh_SlidesForward(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewTokenStore(mock)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	mock.ExpectExec(`UPDATE session_tokens SET valid_until = GREATEST\(valid_until, \$1\) WHERE token = \$2 AND valid_until > \$3`).
		WithArgs(now.Add(30*time.Minute), "tok-1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := store.Refresh(context.Background(), "tok-1", 30*time.Minute); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenStore_Refresh_UnknownToken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewTokenStore(mock)

	mock.ExpectExec(`UPDATE session_tokens SET valid_until = GREATEST`).
		WithArgs(pgxmock.AnyArg(), "gone", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.Refresh(context.Background(), "gone", time.Minute); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTokenStore_Revoke_CascadesToChildren(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	store := NewTokenStore(mock)

	mock.ExpectExec(`DELETE FROM session_tokens WHERE token = \$1 OR parent_token = \$1`).
		WithArgs("login-tok").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	if err := store.Revoke(context.Background(), "login-tok"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
