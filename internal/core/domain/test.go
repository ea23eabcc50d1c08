package domain

import (
	"strconv"
	"time"
)

// Test is one attempt at a named booklet by one person. At most one Test
// exists per (person, booklet name).
type Test struct {
	ID              int64
	PersonID        int64
	Name            string
	Label           string
	Running         bool
	Locked          bool
	LastState       map[string]string
	TimestampServer time.Time
}

// Unit is one task instance inside a test. Responses and restore points are
// overwritten in place; logs and reviews accumulate.
type Unit struct {
	ID             int64
	TestID         int64
	Name           string
	Responses      *string
	ResponseType   string
	ResponsesAt    *time.Time
	RestorePoint   *string
	RestorePointAt *time.Time
	LastState      map[string]string
}

// LogEntry is one append-only log line, ordered by the client-provided timestamp.
type LogEntry struct {
	Timestamp int64
	Entry     string
}

// Review is an annotation left by a reviewer on a unit or a whole booklet.
type Review struct {
	Priority   int
	Categories string
	Entry      string
	ReviewTime time.Time
}

// Command is an admin-issued instruction targeted at a running test.
// Records are append-only; ids are globally unique and monotonic.
type Command struct {
	ID          int64
	TestID      int64
	Keyword     string
	Arguments   []string
	CommanderID int64
	Timestamp   time.Time
}

// BookletStatus is the pre-start view of a booklet for one person.
type BookletStatus struct {
	Running     bool
	CanStart    bool
	StatusLabel string
	Label       string
	TestID      int64
	Locked      bool
	LastState   map[string]string
}

// ClampReviewPriority coerces arbitrary review priority input to the closed
// range [0,3]. Out-of-range and non-numeric values become 0.
func ClampReviewPriority(value any) int {
	var priority int
	switch v := value.(type) {
	case int:
		priority = v
	case int64:
		priority = int(v)
	case float64:
		if v != float64(int(v)) {
			return 0
		}
		priority = int(v)
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		priority = parsed
	default:
		return 0
	}

	if priority < 0 || priority > 3 {
		return 0
	}
	return priority
}
