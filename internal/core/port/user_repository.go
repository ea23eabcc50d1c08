package port

import (
	"context"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// UserRepository reads workspace administrators and their grants.
type UserRepository interface {
	GetByName(ctx context.Context, name string) (*domain.User, error)
	GetByID(ctx context.Context, userID int64) (*domain.User, error)
	// Workspaces lists the workspaces the user administers, role included.
	Workspaces(ctx context.Context, userID int64) ([]domain.Workspace, error)
	WorkspaceRole(ctx context.Context, userID int64, workspaceID int) (string, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}
