package domain

import (
	"strings"
	"time"
	"unicode"
)

// SessionChangeMessage is the ephemeral payload pushed to monitoring
// dashboards whenever a person session changes. It is never persisted.
type SessionChangeMessage struct {
	PersonID    int64             `json:"personId"`
	GroupName   string            `json:"groupName"`
	TestID      int64             `json:"testId"`
	Timestamp   time.Time         `json:"timestamp"`
	LoginName   string            `json:"loginName,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	GroupLabel  string            `json:"groupLabel,omitempty"`
	Code        string            `json:"code,omitempty"`
	BookletName string            `json:"bookletName,omitempty"`
	TestState   map[string]string `json:"testState,omitempty"`
	UnitName    string            `json:"unitName,omitempty"`
	UnitState   map[string]string `json:"unitState,omitempty"`
	WorkspaceID int               `json:"-"`
}

// NewSessionChangeMessage constructs the minimal message for a person session.
func NewSessionChangeMessage(workspaceID int, personID int64, groupName string, testID int64, at time.Time) SessionChangeMessage {
	return SessionChangeMessage{
		WorkspaceID: workspaceID,
		PersonID:    personID,
		GroupName:   groupName,
		TestID:      testID,
		Timestamp:   at,
	}
}

// SetLogin attaches the login descriptor snapshot. The display label is the
// group name with underscores spaced out and the first letter upper-cased.
func (m *SessionChangeMessage) SetLogin(loginName, mode, groupName, code string) {
	m.LoginName = loginName
	m.Mode = mode
	m.GroupLabel = displayGroupLabel(groupName)
	m.Code = code
}

// SetTestState attaches the current test-state snapshot.
func (m *SessionChangeMessage) SetTestState(state map[string]string, bookletName string) {
	m.TestState = state
	m.BookletName = bookletName
}

// SetUnitState attaches the current-unit snapshot.
func (m *SessionChangeMessage) SetUnitState(unitName string, state map[string]string) {
	m.UnitName = unitName
	m.UnitState = state
}

func displayGroupLabel(groupName string) string {
	label := strings.ReplaceAll(groupName, "_", " ")
	if label == "" {
		return label
	}
	runes := []rune(label)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
