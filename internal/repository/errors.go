package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint fired, typically when
	// two callers race on the same get-or-create key.
	ErrConflict = errors.New("repository: conflict")
)
