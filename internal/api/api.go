// Package api is the HTTP delivery adapter for ReEngage.
//
// It accepts conversant events for the messaging dispatcher and serves the coordinator
// views computed by the triage service (priority list, daily briefing, stats and diary).
// All responses use the models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReEngage/internal/messaging"
	"github.com/BTreeMap/ReEngage/internal/store"
	"github.com/BTreeMap/ReEngage/internal/triage"
	"github.com/google/uuid"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds the graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
	// RequestIDHeader carries the correlation id of a request.
	RequestIDHeader = "X-Request-ID"

	readHeaderTimeout = 5 * time.Second
)

// Opts configures a Server.
type Opts struct {
	Addr            string
	Clock           func() time.Time
	ShutdownTimeout time.Duration
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithClock sets the clock the coordinator views are computed against.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// WithShutdownTimeout sets how long Run waits for in-flight requests on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server serves the HTTP API.
type Server struct {
	dispatcher *messaging.Dispatcher
	triage     *triage.Service
	gw         store.Gateway
	opts       Opts
	mux        *http.ServeMux
}

// NewServer creates a Server and registers its routes.
func NewServer(dispatcher *messaging.Dispatcher, tr *triage.Service, gw store.Gateway, opts ...Option) *Server {
	o := Opts{Addr: DefaultAddr, Clock: time.Now, ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	s := &Server{dispatcher: dispatcher, triage: tr, gw: gw, opts: o, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.healthHandler)
	s.mux.HandleFunc("POST /v1/conversants/{id}/events", s.eventHandler)
	s.mux.HandleFunc("GET /v1/coordinators/{id}/priority", s.priorityHandler)
	s.mux.HandleFunc("GET /v1/coordinators/{id}/briefing", s.briefingHandler)
	s.mux.HandleFunc("GET /v1/coordinators/{id}/stats", s.statsHandler)
	s.mux.HandleFunc("GET /v1/coordinators/{id}/diary", s.diaryHandler)
}

// Handler returns the root handler with request correlation applied.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.mux)
}

// Run listens on the configured address until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("Server.Run: API listening", "addr", s.opts.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown API server: %w", err)
	}
	<-errCh
	return nil
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		slog.Debug("Server.withRequestID: request received", "method", r.Method, "path", r.URL.Path, "requestID", id)
		next.ServeHTTP(w, r)
	})
}
