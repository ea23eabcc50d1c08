package port

import (
	"context"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// CredentialSource supplies the group definitions loaded from workspace
// configuration. The returned order is the configuration load order and
// must be stable: the credential matcher's first-match rule depends on it.
type CredentialSource interface {
	Groups(ctx context.Context) ([]domain.GroupDefinition, error)
}
