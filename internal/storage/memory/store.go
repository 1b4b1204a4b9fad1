package memory

import (
	"context"
	"sync"
	"time"

	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
)

// DefaultMaxEntries bounds the history when New is given a non-positive size.
const DefaultMaxEntries = 1000

// Store is a bounded in-memory OutcomeStore. Once full, the oldest outcome is
// dropped for each new one.
type Store struct {
	mu         sync.RWMutex
	outcomes   []*storage.Outcome
	maxEntries int
}

var _ storage.OutcomeStore = (*Store)(nil)

// New creates a new in-memory store
func New(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		outcomes:   make([]*storage.Outcome, 0, min(maxEntries, 64)),
		maxEntries: maxEntries,
	}
}

func (s *Store) RecordOutcome(ctx context.Context, o *storage.Outcome) error {
	rec := *o
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outcomes) >= s.maxEntries {
		copy(s.outcomes, s.outcomes[1:])
		s.outcomes = s.outcomes[:len(s.outcomes)-1]
	}
	s.outcomes = append(s.outcomes, &rec)
	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, opts storage.ListOptions) ([]*storage.Outcome, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.Outcome, 0, min(limit, len(s.outcomes)))
	for i := len(s.outcomes) - 1; i >= 0 && len(result) < limit; i-- {
		o := s.outcomes[i]
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		rec := *o
		result = append(result, &rec)
	}
	return result, nil
}

// Len returns the number of retained outcomes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}

func (s *Store) Close() error {
	return nil
}
