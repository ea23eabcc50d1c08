package handlers

import (
	"time"

	"github.com/iqb-berlin/testcenter/internal/core/domain"
)

// ErrorResponse represents a generic error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginRequest defines the payload for the admin and test-taker login endpoints.
type LoginRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password"`
}

// CodeRequest defines the payload for the code submission endpoint.
type CodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// SessionResponse is the wire form of a resolved session.
type SessionResponse struct {
	Token         string              `json:"token"`
	DisplayName   string              `json:"displayName"`
	Flags         []string            `json:"flags"`
	AccessObjects map[string][]string `json:"access"`
	CustomTexts   map[string]string   `json:"customTexts,omitempty"`
}

// NewSessionResponse converts a domain session to its wire form.
func NewSessionResponse(session *domain.Session) SessionResponse {
	response := SessionResponse{
		Token:         session.Token,
		DisplayName:   session.DisplayName,
		Flags:         session.Flags,
		AccessObjects: session.AccessObjects,
		CustomTexts:   session.CustomTexts,
	}
	if response.Flags == nil {
		response.Flags = []string{}
	}
	if response.AccessObjects == nil {
		response.AccessObjects = map[string][]string{}
	}
	return response
}

// StartTestRequest defines the payload to start or continue a booklet.
type StartTestRequest struct {
	BookletName string `json:"bookletName" binding:"required"`
	Label       string `json:"label"`
}

// TestResponse is the wire form of a started test.
type TestResponse struct {
	TestID int64 `json:"testId"`
	Locked bool  `json:"locked"`
}

// BookletStatusResponse is the pre-start view of a booklet.
type BookletStatusResponse struct {
	Running     bool   `json:"running"`
	CanStart    bool   `json:"canStart"`
	StatusLabel string `json:"statusLabel"`
	Label       string `json:"label"`
	Locked      bool   `json:"locked"`
}

// ResponseRequest carries a unit response blob.
type ResponseRequest struct {
	Response     string `json:"response" binding:"required"`
	ResponseType string `json:"responseType"`
	Timestamp    int64  `json:"timestamp"`
}

// RestorePointRequest carries a unit restore point blob.
type RestorePointRequest struct {
	RestorePoint string `json:"restorePoint" binding:"required"`
	Timestamp    int64  `json:"timestamp"`
}

// StateRequest patches one key of a state blob.
type StateRequest struct {
	Key   string `json:"key" binding:"required"`
	Value string `json:"value"`
}

// LogRequest appends one log line.
type LogRequest struct {
	Entry     string `json:"entry" binding:"required"`
	Timestamp int64  `json:"timestamp"`
}

// ReviewRequest appends one review. Priority passes through untyped; the
// service coerces it to the valid range.
type ReviewRequest struct {
	Priority   any    `json:"priority"`
	Categories string `json:"categories"`
	Entry      string `json:"entry" binding:"required"`
}

// CommandRequest issues one command to a running test.
type CommandRequest struct {
	Keyword   string   `json:"keyword" binding:"required"`
	Arguments []string `json:"arguments"`
	Timestamp int64    `json:"timestamp"`
}

// CommandResponse returns the assigned command id.
type CommandResponse struct {
	ID int64 `json:"id"`
}

// SetPasswordRequest defines the admin password change payload.
type SetPasswordRequest struct {
	OldPassword string `json:"oldPassword" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// UnlockRequest names the group whose tests should be unlocked.
type UnlockRequest struct {
	GroupName string `json:"groupName" binding:"required"`
}

// CountResponse reports how many records an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// GroupResultsResponse is one aggregated results row.
type GroupResultsResponse struct {
	GroupName       string    `json:"groupName"`
	BookletsStarted int       `json:"bookletsStarted"`
	UnitsMin        int       `json:"unitsMin"`
	UnitsMax        int       `json:"unitsMax"`
	UnitsTotal      int       `json:"unitsTotal"`
	UnitsMean       float64   `json:"unitsMean"`
	LastChange      time.Time `json:"lastChange"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports per-dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
