package broadcast

import (
	"context"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
)

// Composite forwards every notification to all wrapped sinks. Nil sinks are
// skipped so optional backends wire in without branching at the call site.
type Composite struct {
	sinks []port.BroadcastSink
}

// NewComposite builds a composite over the non-nil sinks.
func NewComposite(sinks ...port.BroadcastSink) *Composite {
	composite := &Composite{}
	for _, sink := range sinks {
		if sink != nil {
			composite.sinks = append(composite.sinks, sink)
		}
	}
	return composite
}

func (c *Composite) SessionChange(ctx context.Context, message domain.SessionChangeMessage) {
	for _, sink := range c.sinks {
		sink.SessionChange(ctx, message)
	}
}

func (c *Composite) SessionsDeleted(ctx context.Context, workspaceID int, groupName string) {
	for _, sink := range c.sinks {
		sink.SessionsDeleted(ctx, workspaceID, groupName)
	}
}

var _ port.BroadcastSink = (*Composite)(nil)
