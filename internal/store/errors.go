package store

import "errors"

// Error taxonomy for store operations. Callers classify with errors.Is;
// the HTTP layer maps each class to a status code.
var (
	// ErrNotFound means the workspace does not exist.
	ErrNotFound = errors.New("workspace not found")

	// ErrAccessDenied means the workspace exists but the caller does not
	// own it, or the caller is unauthenticated on a mutating call.
	ErrAccessDenied = errors.New("access denied")

	// ErrVersionConflict means the caller's expected doc version is stale.
	// Never retried: the caller must reload and re-derive its change.
	ErrVersionConflict = errors.New("version conflict")

	// ErrSessionNotFound means no handshake session exists for the code.
	ErrSessionNotFound = errors.New("auth session not found")

	// ErrSessionExpired means the handshake session timed out or was
	// already consumed.
	ErrSessionExpired = errors.New("auth session expired")

	// ErrDuplicateCode means a handshake session with that code already
	// exists.
	ErrDuplicateCode = errors.New("auth session code already registered")

	// ErrDuplicateEmail means a user with that email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
)
