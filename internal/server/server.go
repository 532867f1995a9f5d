package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ppiankov/trustgate/internal/audit"
	"github.com/ppiankov/trustgate/internal/evaluator"
	"github.com/ppiankov/trustgate/internal/gate"
	"github.com/ppiankov/trustgate/internal/metrics"
	"github.com/ppiankov/trustgate/internal/store"
)

// Config holds the HTTP API server configuration.
type Config struct {
	Addr           string
	RequestTimeout time.Duration
}

// Server exposes the gate, the outcome collector, the policy store, the
// audit ledger, and the trust evaluator over a JSON HTTP API.
type Server struct {
	cfg       Config
	store     *store.Store
	gate      *gate.Service
	collector *metrics.Collector
	evaluator *evaluator.Evaluator
	ledger    *audit.Ledger

	srv *http.Server
}

// New creates an API server over the given components.
func New(cfg Config, s *store.Store, g *gate.Service, c *metrics.Collector, e *evaluator.Evaluator, l *audit.Ledger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}

	srv := &Server{
		cfg:       cfg,
		store:     s,
		gate:      g,
		collector: c,
		evaluator: e,
		ledger:    l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/gate/check", srv.handleGateCheck)
	mux.HandleFunc("POST /v1/outcomes", srv.handleReportOutcome)
	mux.HandleFunc("PUT /v1/tenants/{tenant}/policy", srv.handlePutPolicy)
	mux.HandleFunc("GET /v1/tenants/{tenant}/policy", srv.handleGetPolicy)
	mux.HandleFunc("GET /v1/tenants/{tenant}/trust", srv.handleGetTrust)
	mux.HandleFunc("GET /v1/audit/{tenant}", srv.handleAuditQuery)
	mux.HandleFunc("GET /v1/audit/{tenant}/verify", srv.handleAuditVerify)
	mux.HandleFunc("POST /v1/evaluate/{tenant}", srv.handleEvaluate)
	mux.HandleFunc("GET /healthz", srv.handleHealth)

	srv.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      http.TimeoutHandler(mux, cfg.RequestTimeout, `{"error":"request timeout"}`),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: 2 * cfg.RequestTimeout,
	}

	return srv
}

// Handler returns the HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.srv.Addr, err)
	}
	slog.Info("api server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err = s.srv.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
