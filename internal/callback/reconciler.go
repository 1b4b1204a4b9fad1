// Package callback turns downstream callbacks into resolved waiters.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TahaAdapt/vapi-make-proxy/internal/metrics"
	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
)

var (
	// ErrInvalidCallback is returned for bodies that are not a JSON object
	// or carry no usable requestId.
	ErrInvalidCallback = errors.New("callback: invalid payload")

	// ErrUnknownRequest is returned when no pending request matches the
	// callback's requestId.
	ErrUnknownRequest = errors.New("callback: unknown or expired requestId")
)

// Resolver completes a pending request. correlation.Table satisfies it.
type Resolver interface {
	Resolve(id string, value payload.Payload) bool
}

// Reconciler matches callbacks to pending requests.
type Reconciler struct {
	resolver Resolver
	reshaper *Reshaper
	store    storage.OutcomeStore
	logger   *slog.Logger
}

// NewReconciler creates a Reconciler. A nil reshaper uses the default trace
// keys; a nil store records nothing.
func NewReconciler(resolver Resolver, reshaper *Reshaper, store storage.OutcomeStore, logger *slog.Logger) *Reconciler {
	if reshaper == nil {
		reshaper = NewReshaper(nil)
	}
	if store == nil {
		store = storage.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		resolver: resolver,
		reshaper: reshaper,
		store:    store,
		logger:   logger,
	}
}

// Reconcile decodes body, strips its requestId, reshapes the availability
// block and hands the result to the waiting request. It returns the
// requestId whenever one could be read, even on ErrUnknownRequest.
func (r *Reconciler) Reconcile(ctx context.Context, body []byte) (string, error) {
	p, err := payload.Decode(body)
	if err != nil {
		metrics.ObserveCallback(metrics.CallbackInvalid)
		return "", fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}

	id, rest, err := p.SplitRequestID()
	if err != nil {
		metrics.ObserveCallback(metrics.CallbackInvalid)
		return "", fmt.Errorf("%w: %w", ErrInvalidCallback, err)
	}

	cleaned, err := r.reshaper.Reshape(rest)
	if err != nil {
		// A malformed slotsAvailable is passed through rather than
		// stranding the caller until expiry.
		r.logger.WarnContext(ctx, "callback reshape failed, delivering as received",
			slog.String("correlation_id", id),
			slog.String("error", err.Error()))
		cleaned = rest
	}

	if !r.resolver.Resolve(id, cleaned) {
		metrics.ObserveCallback(metrics.CallbackUnknown)
		r.record(ctx, &storage.Outcome{
			RequestID: id,
			Status:    storage.StatusUnknownCallback,
			Error:     ErrUnknownRequest.Error(),
		})
		return id, ErrUnknownRequest
	}

	metrics.ObserveCallback(metrics.CallbackDelivered)
	return id, nil
}

func (r *Reconciler) record(ctx context.Context, o *storage.Outcome) {
	if err := r.store.RecordOutcome(ctx, o); err != nil {
		r.logger.ErrorContext(ctx, "failed to record outcome",
			slog.String("correlation_id", o.RequestID),
			slog.String("error", err.Error()))
	}
}
