package domain

import "errors"

var (
	// ErrNoCurrentUser is returned by operations that require an
	// authenticated user when none is set. It is raised before any store is
	// touched.
	ErrNoCurrentUser = errors.New("no current user")

	// ErrNotFound is returned when a post ID does not exist in the store
	// being addressed.
	ErrNotFound = errors.New("post not found")

	// ErrInvalidInput is returned when a caller-supplied payload fails
	// validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupt is returned by the primary store when a persisted record
	// cannot be decoded. It is recoverable: the caller can choose to treat
	// the affected records as absent.
	ErrCorrupt = errors.New("corrupt record")

	// ErrDuplicateEmail is returned by the mirror when a user's email is
	// already registered.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrIntegrity is returned by the mirror when a write violates a
	// foreign-key or uniqueness constraint. The enclosing transaction is
	// rolled back in full.
	ErrIntegrity = errors.New("integrity violation")
)
