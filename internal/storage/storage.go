// Package storage defines the outcome history kept for operator diagnosis.
//
// Only terminal outcomes are stored. Pending requests live exclusively in the
// in-memory correlation table and are never persisted.
package storage

import (
	"context"
	"time"
)

// Status is the terminal state of a correlated request, or of a callback that
// matched nothing.
type Status string

const (
	StatusResolved        Status = "resolved"
	StatusExpired         Status = "expired"
	StatusForwardFailed   Status = "forward_failed"
	StatusCanceled        Status = "canceled"
	StatusShutdown        Status = "shutdown"
	StatusUnknownCallback Status = "unknown_callback"
)

// Outcome records how one request ID finished.
type Outcome struct {
	RequestID string        `json:"request_id"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	CreatedAt time.Time     `json:"created_at"`
}

// ListOptions filters ListOutcomes. Zero Limit means the store default.
type ListOptions struct {
	Limit  int
	Status Status
}

// DefaultListLimit caps ListOutcomes when no limit is given.
const DefaultListLimit = 100

// OutcomeStore persists terminal outcomes.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, o *Outcome) error
	// ListOutcomes returns outcomes newest first.
	ListOutcomes(ctx context.Context, opts ListOptions) ([]*Outcome, error)
	Close() error
}

// Noop discards outcomes. Used when history is disabled.
type Noop struct{}

func (Noop) RecordOutcome(context.Context, *Outcome) error { return nil }

func (Noop) ListOutcomes(context.Context, ListOptions) ([]*Outcome, error) {
	return []*Outcome{}, nil
}

func (Noop) Close() error { return nil }

var _ OutcomeStore = Noop{}
