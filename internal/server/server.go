package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
)

// DefaultMaxBodyBytes caps request bodies when Options.MaxBodyBytes is unset.
const DefaultMaxBodyBytes = 1 << 20

// Proxy handles forwarded requests. *proxy.Service satisfies it.
type Proxy interface {
	Handle(ctx context.Context, p payload.Payload) (string, payload.Payload, error)
	Pending() int
}

// Reconciler handles downstream callbacks. *callback.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, body []byte) (string, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	MaxBodyBytes int64

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Outcomes backs /admin/outcomes when non-nil.
	Outcomes storage.OutcomeStore
}

type Server struct {
	Router *chi.Mux

	httpServer   *http.Server
	proxy        Proxy
	reconciler   Reconciler
	outcomes     storage.OutcomeStore
	maxBodyBytes int64
	logger       *slog.Logger
}

func New(opts Options, px Proxy, rc Reconciler, logger *slog.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(opts.WriteTimeout))
	r.Use(middleware.Recoverer)

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "vapi-make-proxy")
	})

	s := &Server{
		Router:       r,
		proxy:        px,
		reconciler:   rc,
		outcomes:     opts.Outcomes,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       logger,
	}

	r.Post("/vapi-proxy", s.handleProxy)
	r.Post("/vapi-callback", s.handleCallback)
	r.Get("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	if opts.Outcomes != nil {
		r.Get("/admin/outcomes", s.handleOutcomes)
	}

	s.httpServer = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}

	return s
}

// Start listens until Shutdown is called. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
