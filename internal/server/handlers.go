package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/TahaAdapt/vapi-make-proxy/internal/callback"
	"github.com/TahaAdapt/vapi-make-proxy/internal/metrics"
	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
	"github.com/TahaAdapt/vapi-make-proxy/internal/proxy"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
)

// Fixed response bodies. Callers never see internal failure causes.
const (
	msgProxyFailed     = "Failed to process request."
	msgUnknownRequest  = "Unknown or expired requestId"
	msgInvalidCallback = "Invalid callback payload."
	msgDelivered       = "Delivered to proxy (cleaned)"
)

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

type outcomesResponse struct {
	Outcomes []*storage.Outcome `json:"outcomes"`
}

func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		AddError(ctx, fmt.Errorf("read body: %w", err))
		AddLogField(ctx, "outcome", metrics.OutcomeInvalid)
		metrics.ObserveRequest(metrics.OutcomeInvalid, 0)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgProxyFailed})
		return
	}

	p, err := payload.Decode(body)
	if err != nil {
		AddError(ctx, err)
		AddLogField(ctx, "outcome", metrics.OutcomeInvalid)
		metrics.ObserveRequest(metrics.OutcomeInvalid, 0)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgProxyFailed})
		return
	}

	id, result, err := s.proxy.Handle(ctx, p)
	AddLogField(ctx, "correlation_id", id)
	if err != nil {
		AddError(ctx, err)
		AddLogField(ctx, "outcome", proxyOutcome(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgProxyFailed})
		return
	}

	AddLogField(ctx, "outcome", metrics.OutcomeResolved)
	writeJSON(w, http.StatusOK, result)
}

func proxyOutcome(err error) string {
	switch {
	case errors.Is(err, proxy.ErrForwardFailed):
		return metrics.OutcomeForwardFailed
	case errors.Is(err, proxy.ErrTimeout):
		return metrics.OutcomeExpired
	case errors.Is(err, proxy.ErrShuttingDown):
		return metrics.OutcomeShutdown
	default:
		return metrics.OutcomeCanceled
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		AddError(ctx, fmt.Errorf("read body: %w", err))
		metrics.ObserveCallback(metrics.CallbackInvalid)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidCallback})
		return
	}

	id, err := s.reconciler.Reconcile(ctx, body)
	AddLogField(ctx, "correlation_id", id)

	switch {
	case err == nil:
		AddLogField(ctx, "outcome", metrics.CallbackDelivered)
		writeJSON(w, http.StatusOK, statusResponse{Status: msgDelivered})
	case errors.Is(err, callback.ErrUnknownRequest):
		AddLogField(ctx, "outcome", metrics.CallbackUnknown)
		writeJSON(w, http.StatusNotFound, errorResponse{Error: msgUnknownRequest})
	case errors.Is(err, callback.ErrInvalidCallback):
		AddError(ctx, err)
		AddLogField(ctx, "outcome", metrics.CallbackInvalid)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: msgInvalidCallback})
	default:
		AddError(ctx, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgProxyFailed})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Pending: s.proxy.Pending()})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	opts := storage.ListOptions{Status: storage.Status(r.URL.Query().Get("status"))}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		opts.Limit = limit
	}

	outcomes, err := s.outcomes.ListOutcomes(r.Context(), opts)
	if err != nil {
		AddError(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list outcomes"})
		return
	}

	writeJSON(w, http.StatusOK, outcomesResponse{Outcomes: outcomes})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Failed to process request."}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
