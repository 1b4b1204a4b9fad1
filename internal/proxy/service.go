// Package proxy turns one inbound request into a forward plus a wait for
// the matching callback.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/TahaAdapt/vapi-make-proxy/internal/correlation"
	"github.com/TahaAdapt/vapi-make-proxy/internal/metrics"
	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
	"github.com/TahaAdapt/vapi-make-proxy/internal/telemetry"
)

var (
	// ErrForwardFailed means the downstream webhook could not be reached or
	// rejected the request.
	ErrForwardFailed = errors.New("proxy: forward to webhook failed")

	// ErrTimeout means no callback arrived within the wait budget.
	ErrTimeout = errors.New("proxy: timed out waiting for callback")

	// ErrShuttingDown means the proxy stopped before the callback arrived.
	ErrShuttingDown = errors.New("proxy: shutting down")
)

// Forwarder sends a tagged payload downstream.
type Forwarder interface {
	Forward(ctx context.Context, id string, p payload.Payload) error
}

// Service correlates proxied requests with their callbacks.
type Service struct {
	table     *correlation.Table[payload.Payload]
	forwarder Forwarder
	store     storage.OutcomeStore
	logger    *slog.Logger
	tracer    trace.Tracer
	newID     func() string
}

// NewService creates a Service. A nil store records nothing.
func NewService(table *correlation.Table[payload.Payload], fwd Forwarder, store storage.OutcomeStore, logger *slog.Logger) *Service {
	if store == nil {
		store = storage.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		table:     table,
		forwarder: fwd,
		store:     store,
		logger:    logger,
		tracer:    telemetry.Tracer(),
		newID:     correlation.NewID,
	}
}

// Pending returns the number of requests awaiting a callback.
func (s *Service) Pending() int {
	return s.table.Len()
}

// Handle forwards p under a fresh request ID and blocks until the callback
// for that ID arrives, the wait budget runs out, the forward fails, ctx ends
// or the table is closed. The ID is returned in every case where one was
// assigned.
func (s *Service) Handle(ctx context.Context, p payload.Payload) (string, payload.Payload, error) {
	id := s.newID()

	ctx, span := s.tracer.Start(ctx, "proxy.handle", trace.WithAttributes(
		attribute.String("correlation.id", id),
	))
	defer span.End()

	start := time.Now()

	w, err := s.table.Register(id)
	if err != nil {
		if errors.Is(err, correlation.ErrClosed) {
			err = ErrShuttingDown
			metrics.ObserveRequest(metrics.OutcomeShutdown, 0)
		}
		span.SetStatus(codes.Error, err.Error())
		return id, nil, fmt.Errorf("register %s: %w", id, err)
	}

	forwarded := make(chan error, 1)
	go func() {
		// The forward must not be cut short by the caller leaving; the
		// entry is cleaned up independently below.
		forwarded <- s.forwarder.Forward(context.WithoutCancel(ctx), id, p)
	}()

	done := ctx.Done()
	for {
		select {
		case err := <-forwarded:
			forwarded = nil
			if err != nil {
				s.table.Fail(id, fmt.Errorf("%w: %w", ErrForwardFailed, err))
			} else {
				span.AddEvent("forwarded")
			}

		case <-done:
			done = nil
			s.table.Fail(id, ctx.Err())

		case <-w.Done():
			result, err := w.Result()
			return id, result, s.finish(ctx, span, id, time.Since(start), err)
		}
	}
}

// finish classifies a terminal result, records it everywhere and returns
// the error the caller should see.
func (s *Service) finish(ctx context.Context, span trace.Span, id string, elapsed time.Duration, err error) error {
	status, outcome, callerErr := classify(err)

	metrics.ObserveRequest(outcome, elapsed)
	span.SetAttributes(attribute.String("proxy.outcome", outcome))

	attrs := []any{
		slog.String("correlation_id", id),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", elapsed),
	}
	rec := &storage.Outcome{
		RequestID: id,
		Status:    status,
		Duration:  elapsed,
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		rec.Error = err.Error()
		attrs = append(attrs, slog.String("error", err.Error()))
		s.logger.WarnContext(ctx, "proxy request failed", attrs...)
	} else {
		span.SetStatus(codes.Ok, "")
		s.logger.InfoContext(ctx, "proxy request resolved", attrs...)
	}

	if rerr := s.store.RecordOutcome(context.WithoutCancel(ctx), rec); rerr != nil {
		s.logger.ErrorContext(ctx, "failed to record outcome",
			slog.String("correlation_id", id),
			slog.String("error", rerr.Error()))
	}

	return callerErr
}

func classify(err error) (storage.Status, string, error) {
	switch {
	case err == nil:
		return storage.StatusResolved, metrics.OutcomeResolved, nil
	case errors.Is(err, ErrForwardFailed):
		return storage.StatusForwardFailed, metrics.OutcomeForwardFailed, err
	case errors.Is(err, correlation.ErrExpired):
		return storage.StatusExpired, metrics.OutcomeExpired, fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, correlation.ErrClosed):
		return storage.StatusShutdown, metrics.OutcomeShutdown, fmt.Errorf("%w: %w", ErrShuttingDown, err)
	default:
		return storage.StatusCanceled, metrics.OutcomeCanceled, err
	}
}
