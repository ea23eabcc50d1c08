package port

import (
	"context"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// BroadcastSink receives session-change notifications. Delivery is
// best-effort and must never fail or block the triggering request.
type BroadcastSink interface {
	SessionChange(ctx context.Context, message domain.SessionChangeMessage)
	// SessionsDeleted signals that all sessions of a group were purged so
	// dashboards can drop stale rows.
	SessionsDeleted(ctx context.Context, workspaceID int, groupName string)
}
