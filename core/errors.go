package core

import "errors"

// Error taxonomy shared by the engine and the HTTP layer. Store
// implementations wrap these so callers can match with errors.Is.
var (
	// ErrNotFound signals a missing project, element, op, or media record.
	ErrNotFound = errors.New("not found")

	// ErrForbidden signals the actor is neither owner nor collaborator.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict signals transient store contention (e.g. two appends
	// racing for the same op counter). Retried inside the sequencer.
	ErrConflict = errors.New("conflict")

	// ErrValidation signals a malformed op payload.
	ErrValidation = errors.New("invalid payload")

	// ErrUnavailable signals the store is unreachable or retries exhausted.
	ErrUnavailable = errors.New("store unavailable")
)
