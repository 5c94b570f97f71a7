package domain

import "errors"

var (
	// ErrTestNotFound indicates the test definition could not be loaded.
	ErrTestNotFound = errors.New("test not found")
	// ErrTestInactive is returned when a test exists but is no longer open for attempts.
	ErrTestInactive = errors.New("test is not active")
	// ErrSessionNotFound is returned when a session id resolves to nothing (never created or purged).
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionCompleted guards against double submission or ending a finished attempt.
	ErrSessionCompleted = errors.New("session already completed")
	// ErrActiveSessionExists is returned when the one-active-session-per-user-and-test constraint fires.
	ErrActiveSessionExists = errors.New("active session already exists for this test")
	// ErrNotSessionOwner is returned when the caller's identity does not own the session.
	ErrNotSessionOwner = errors.New("session belongs to another user")
	// ErrInvalidAnswer indicates a structurally malformed answer payload (non-enum option key).
	ErrInvalidAnswer = errors.New("invalid answer option")
	// ErrRecordNotFound indicates an unknown performance record id.
	ErrRecordNotFound = errors.New("performance record not found")
	// ErrNotRecordOwner is returned when feedback is attached by someone other than the attempt taker.
	ErrNotRecordOwner = errors.New("record belongs to another user")
	// ErrInvalidRating indicates a feedback rating outside the accepted 1..5 range.
	ErrInvalidRating = errors.New("feedback rating out of range")
)
