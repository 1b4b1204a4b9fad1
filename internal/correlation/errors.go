package correlation

import "errors"

var (
	// ErrDuplicateID is returned by Register when the ID is already pending.
	// Registrations never overwrite, since that would orphan the first waiter.
	ErrDuplicateID = errors.New("correlation: request id already pending")

	// ErrEmptyID is returned by Register for a blank ID.
	ErrEmptyID = errors.New("correlation: empty request id")

	// ErrExpired is delivered to a waiter whose wait budget elapsed.
	ErrExpired = errors.New("correlation: wait budget exceeded")

	// ErrClosed is delivered to pending waiters when the table shuts down and
	// returned by Register afterwards.
	ErrClosed = errors.New("correlation: table closed")

	// ErrPending is returned by Waiter.Result before the entry completes.
	ErrPending = errors.New("correlation: request still pending")

	// ErrCanceled is delivered by Fail when no cause is given.
	ErrCanceled = errors.New("correlation: wait canceled")
)
