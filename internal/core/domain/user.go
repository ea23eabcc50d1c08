package domain

import "time"

// Workspace roles. RW grants writes; any other non-empty value and the
// conventional empty string grant reads only.
const WorkspaceRoleReadWrite = "RW"

// User mirrors the persisted representation of a workspace administrator.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	IsSuperadmin bool
}

// Workspace is an administered container of group files and result data.
type Workspace struct {
	ID   int
	Name string
	// Role is the requesting admin's role on this workspace, if queried that way.
	Role string
}

// RoleAllowsWrite reports whether a workspace role string grants write access.
func RoleAllowsWrite(role string) bool {
	return role == WorkspaceRoleReadWrite
}

// ResultCount is one per-test progress row: how many units of a booklet a
// person has answered and when the last change happened.
type ResultCount struct {
	GroupName   string
	LoginName   string
	Code        string
	BookletName string
	UnitCount   int
	LastChange  time.Time
}

// GroupResults aggregates per-group progress for the results overview.
type GroupResults struct {
	GroupName       string
	BookletsStarted int
	UnitsMin        int
	UnitsMax        int
	UnitsTotal      int
	UnitsMean       float64
	LastChange      time.Time
}
