package correlation

import (
	"context"
	"time"
)

// entry is one pending request. value and err are written once, before done
// is closed, by whichever operation removed the entry from the table.
type entry[T any] struct {
	id       string
	deadline time.Time
	timer    *time.Timer

	done  chan struct{}
	value T
	err   error
}

func newEntry[T any](id string, deadline time.Time) *entry[T] {
	return &entry[T]{
		id:       id,
		deadline: deadline,
		done:     make(chan struct{}),
	}
}

// complete must only be called by the goroutine that removed e from the table.
func (e *entry[T]) complete(value T, err error) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.value = value
	e.err = err
	close(e.done)
}

// Waiter is the caller's handle on a pending entry.
type Waiter[T any] struct {
	e *entry[T]
}

// ID returns the request ID the waiter was registered under.
func (w *Waiter[T]) ID() string {
	return w.e.id
}

// Deadline returns the time at which the entry expires if nothing resolves it.
func (w *Waiter[T]) Deadline() time.Time {
	return w.e.deadline
}

// Done returns a channel that is closed once the entry reached a terminal state.
func (w *Waiter[T]) Done() <-chan struct{} {
	return w.e.done
}

// Result returns the outcome without blocking, or ErrPending if the entry has
// not reached a terminal state yet.
func (w *Waiter[T]) Result() (T, error) {
	select {
	case <-w.e.done:
		return w.e.value, w.e.err
	default:
		var zero T
		return zero, ErrPending
	}
}

// Wait blocks until the entry is resolved, expired or failed, or ctx is done.
// A ctx error leaves the entry in the table; callers that stop waiting should
// Fail the ID so it does not linger until expiry.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-w.e.done:
		return w.e.value, w.e.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
