package correlation

import (
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout is the wait budget used when NewTable is given a
// non-positive timeout.
const DefaultTimeout = 15 * time.Second

// Table is a concurrency-safe registry of pending requests keyed by ID.
// The zero value is not usable; construct with NewTable.
type Table[T any] struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry[T]
	closed  bool
}

// NewTable creates a table whose entries expire after timeout.
func NewTable[T any](timeout time.Duration) *Table[T] {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Table[T]{
		timeout: timeout,
		entries: make(map[string]*entry[T]),
	}
}

// Timeout returns the wait budget applied to each registration.
func (t *Table[T]) Timeout() time.Duration {
	return t.timeout
}

// Register creates a pending entry for id and arms its expiry timer.
func (t *Table[T]) Register(id string) (*Waiter[T], error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}
	if _, exists := t.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	e := newEntry[T](id, time.Now().Add(t.timeout))
	// The callback takes t.mu, so it cannot observe the entry before it is
	// stored even if the timer fires immediately.
	e.timer = time.AfterFunc(t.timeout, func() { t.expireEntry(e) })
	t.entries[id] = e

	return &Waiter[T]{e: e}, nil
}

// Resolve delivers value to the waiter for id. It reports false if no entry
// is pending (already resolved, expired, failed or never registered).
func (t *Table[T]) Resolve(id string, value T) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	e.complete(value, nil)
	return true
}

// Expire completes the entry for id with ErrExpired.
func (t *Table[T]) Expire(id string) bool {
	e := t.take(id)
	if e == nil {
		return false
	}
	var zero T
	e.complete(zero, ErrExpired)
	return true
}

// Fail completes the entry for id with cause. A nil cause becomes ErrCanceled.
func (t *Table[T]) Fail(id string, cause error) bool {
	if cause == nil {
		cause = ErrCanceled
	}
	e := t.take(id)
	if e == nil {
		return false
	}
	var zero T
	e.complete(zero, cause)
	return true
}

// Len returns the number of pending entries.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Close fails every pending entry with ErrClosed and rejects further
// registrations. It is safe to call more than once.
func (t *Table[T]) Close() {
	t.mu.Lock()
	t.closed = true
	pending := make([]*entry[T], 0, len(t.entries))
	for id, e := range t.entries {
		pending = append(pending, e)
		delete(t.entries, id)
	}
	t.mu.Unlock()

	var zero T
	for _, e := range pending {
		e.complete(zero, ErrClosed)
	}
}

func (t *Table[T]) take(id string) *entry[T] {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)
	return e
}

// expireEntry is the timer path. It only removes e itself, never a later
// registration that reused the same ID.
func (t *Table[T]) expireEntry(e *entry[T]) {
	t.mu.Lock()
	if current, ok := t.entries[e.id]; !ok || current != e {
		t.mu.Unlock()
		return
	}
	delete(t.entries, e.id)
	t.mu.Unlock()

	var zero T
	e.complete(zero, ErrExpired)
}
