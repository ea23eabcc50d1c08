package broadcast

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

func newMessage(workspaceID int, personID int64, groupName string) domain.SessionChangeMessage {
	return domain.NewSessionChangeMessage(workspaceID, personID, groupName, 0, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatalf("no event received")
		return Event{}
	}
}

func TestHubFiltersByWorkspace(t *testing.T) {
	hub := NewHub(8, zap.NewNop())
	ctx := context.Background()

	ch1, cancel1 := hub.Subscribe(1, nil)
	defer cancel1()
	ch2, cancel2 := hub.Subscribe(2, nil)
	defer cancel2()

	hub.SessionChange(ctx, newMessage(1, 10, "sample_group"))

	event := receive(t, ch1)
	if event.Message.PersonID != 10 {
		t.Fatalf("unexpected event %+v", event)
	}

	select {
	case event := <-ch2:
		t.Fatalf("workspace 2 subscriber must not see workspace 1 events, got %+v", event)
	default:
	}
}

func TestHubFiltersByGroup(t *testing.T) {
	hub := NewHub(8, zap.NewNop())
	ctx := context.Background()

	ch, cancel := hub.Subscribe(1, []string{"watched"})
	defer cancel()

	hub.SessionChange(ctx, newMessage(1, 1, "other"))
	hub.SessionChange(ctx, newMessage(1, 2, "watched"))

	event := receive(t, ch)
	if event.GroupName != "watched" || event.Message.PersonID != 2 {
		t.Fatalf("group filter leaked event %+v", event)
	}
	select {
	case event := <-ch:
		t.Fatalf("unexpected second event %+v", event)
	default:
	}
}

func TestHubSessionsDeleted(t *testing.T) {
	hub := NewHub(8, zap.NewNop())

	ch, cancel := hub.Subscribe(3, nil)
	defer cancel()

	hub.SessionsDeleted(context.Background(), 3, "gone_group")

	event := receive(t, ch)
	if !event.Deleted || event.GroupName != "gone_group" {
		t.Fatalf("unexpected deletion event %+v", event)
	}
}

func TestHubDropsOnFullBuffer(t *testing.T) {
	hub := NewHub(2, zap.NewNop())
	ctx := context.Background()

	ch, cancel := hub.Subscribe(1, nil)
	defer cancel()

	for i := 0; i < 5; i++ {
		hub.SessionChange(ctx, newMessage(1, int64(i), "g"))
	}

	// The buffer holds the first two; the rest were dropped, not blocked on.
	first := receive(t, ch)
	second := receive(t, ch)
	if first.Message.PersonID != 0 || second.Message.PersonID != 1 {
		t.Fatalf("unexpected buffered events %+v %+v", first, second)
	}
	select {
	case event := <-ch:
		t.Fatalf("expected overflow to be dropped, got %+v", event)
	default:
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(8, zap.NewNop())

	ch, cancel := hub.Subscribe(1, nil)
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber, got %d", hub.SubscriberCount())
	}

	cancel()
	cancel() // idempotent

	if hub.SubscriberCount() != 0 {
		t.Fatalf("expected zero subscribers, got %d", hub.SubscriberCount())
	}
	if _, open := <-ch; open {
		t.Fatalf("channel must be closed after cancel")
	}

	// Publishing after cancel must not panic.
	hub.SessionChange(context.Background(), newMessage(1, 1, "g"))
}
