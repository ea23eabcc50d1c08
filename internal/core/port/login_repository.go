package port

import (
	"context"
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// LoginRepository persists resolved login records. Tokens are not stored
// here; they live in the TokenStore keyed by the login id.
type LoginRepository interface {
	Create(ctx context.Context, login domain.Login) (int64, error)
	GetByID(ctx context.Context, loginID int64) (*domain.Login, error)
	GetByName(ctx context.Context, workspaceID int, name string) (*domain.Login, error)
	// UpdateAssignment refreshes the mutable parts of an existing login in
	// place: booklet map, group name and validity.
	UpdateAssignment(ctx context.Context, loginID int64, booklets map[string][]string, groupName string, validTo time.Time) error
	// DeleteByGroup removes all logins of a group within a workspace and
	// returns how many rows went away. Persons and tests cascade.
	DeleteByGroup(ctx context.Context, workspaceID int, groupName string) (int, error)
}

// PersonRepository persists test-taker instances under logins. Create must
// fail with repository.ErrConflict when the (login id, code) pair exists.
type PersonRepository interface {
	Create(ctx context.Context, person domain.Person) (int64, error)
	GetByLoginAndCode(ctx context.Context, loginID int64, code string) (*domain.Person, error)
	// GetWithLogin resolves a person together with its owning login.
	GetWithLogin(ctx context.Context, personID int64) (*domain.LoginWithPerson, error)
	Touch(ctx context.Context, personID int64, at time.Time) error
}
