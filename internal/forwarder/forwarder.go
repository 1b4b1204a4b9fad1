// Package forwarder delivers tagged requests to the downstream webhook.
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TahaAdapt/vapi-make-proxy/internal/metrics"
	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
)

// DefaultTimeout bounds a single webhook call when Config.Timeout is unset.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 4 << 10

// ErrNoURL is returned by New when no downstream URL is configured.
var ErrNoURL = errors.New("forwarder: downstream url is required")

// Config configures the webhook target.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// ForwardError describes a failed webhook call. StatusCode is zero when no
// response was received.
type ForwardError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ForwardError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("webhook request failed: %v", e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}

// Forwarder posts payloads to the downstream webhook.
type Forwarder struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// Option customizes a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		f.client = c
	}
}

// New creates a Forwarder for cfg.
func New(cfg Config, opts ...Option) (*Forwarder, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	f := &Forwarder{
		url:     cfg.URL,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// URL returns the downstream target.
func (f *Forwarder) URL() string {
	return f.url
}

// Forward posts p with requestId set to id. Any 2xx response counts as
// delivered; the response body is discarded.
func (f *Forwarder) Forward(ctx context.Context, id string, p payload.Payload) error {
	start := time.Now()
	defer func() { metrics.ObserveForward(time.Since(start)) }()

	body, err := json.Marshal(p.WithRequestID(id))
	if err != nil {
		return &ForwardError{Err: fmt.Errorf("marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return &ForwardError{Err: fmt.Errorf("create request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &ForwardError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ForwardError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
