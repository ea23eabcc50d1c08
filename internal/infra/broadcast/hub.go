package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
	"github.com/iqb-berlin/testcenter/internal/core/port"
)

const defaultSubscriberBuffer = 64

// Event is one hub delivery. Deleted events carry no message body beyond the
// group identification.
type Event struct {
	Deleted   bool
	GroupName string
	Message   domain.SessionChangeMessage
}

// subscriber is one attached dashboard connection.
type subscriber struct {
	id          string
	workspaceID int
	// groups filters deliveries; empty means all groups of the workspace.
	groups map[string]struct{}
	ch     chan Event
}

func (s *subscriber) wants(groupName string) bool {
	if len(s.groups) == 0 {
		return true
	}
	_, ok := s.groups[groupName]
	return ok
}

// Hub fans session-change events out to in-process subscribers. Delivery is
// best-effort: a subscriber whose buffer is full loses the event and must
// recover via the monitoring pull endpoint.
type Hub struct {
	logger *zap.Logger
	buffer int

	mu          sync.RWMutex
	subscribers map[string]*subscriber
}

// NewHub constructs a Hub with the given per-subscriber buffer size.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		logger:      logger,
		buffer:      buffer,
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe attaches a dashboard to one workspace, optionally restricted to
// a set of groups. The returned cancel function detaches and closes the channel.
func (h *Hub) Subscribe(workspaceID int, groups []string) (<-chan Event, func()) {
	sub := &subscriber{
		id:          uuid.NewString(),
		workspaceID: workspaceID,
		ch:          make(chan Event, h.buffer),
	}
	if len(groups) > 0 {
		sub.groups = make(map[string]struct{}, len(groups))
		for _, group := range groups {
			sub.groups[group] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subscribers[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[sub.id]; ok {
			delete(h.subscribers, sub.id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// SessionChange delivers the message to every matching subscriber.
func (h *Hub) SessionChange(_ context.Context, message domain.SessionChangeMessage) {
	h.publish(message.WorkspaceID, Event{
		GroupName: message.GroupName,
		Message:   message,
	})
}

// SessionsDeleted tells matching subscribers to drop the group's rows.
func (h *Hub) SessionsDeleted(_ context.Context, workspaceID int, groupName string) {
	h.publish(workspaceID, Event{
		Deleted:   true,
		GroupName: groupName,
	})
}

func (h *Hub) publish(workspaceID int, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscribers {
		if sub.workspaceID != workspaceID || !sub.wants(event.GroupName) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.logger.Debug("broadcast subscriber buffer full, event dropped",
				zap.String("subscriber", sub.id),
				zap.Int("workspace", workspaceID),
				zap.String("group", event.GroupName),
			)
		}
	}
}

// SubscriberCount reports how many dashboards are attached, for metrics.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

var _ port.BroadcastSink = (*Hub)(nil)
