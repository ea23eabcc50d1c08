package usecase

import "errors"

var (
	// ErrUnauthorized indicates a missing, unknown or expired token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoLoginFound indicates a credential or code mismatch. The reason is
	// deliberately not differentiated to prevent credential probing.
	ErrNoLoginFound = errors.New("no login found")
	// ErrNoAccess indicates an authenticated session without sufficient
	// capability for the target workspace.
	ErrNoAccess = errors.New("no access")
	// ErrLocked indicates a write attempted on a locked test.
	ErrLocked = errors.New("test is locked")
	// ErrConflict indicates a get-or-create race that did not settle within
	// the bounded retry. The caller may retry the request once.
	ErrConflict = errors.New("conflict")
	// ErrNotFound indicates a reference to an unknown test, unit or workspace.
	ErrNotFound = errors.New("not found")
	// ErrInvalid indicates structurally unparsable input.
	ErrInvalid = errors.New("invalid input")
)
