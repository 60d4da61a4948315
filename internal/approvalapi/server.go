// Package approvalapi is the HTTP approval surface: it lists pending
// requests, approves or rejects them, and serves health and metrics.
package approvalapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/keystore"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/ratelimit"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

// Approvals is the request broker as seen by the approval surface
type Approvals interface {
	List() []broker.Request
	Resolve(id string, approved bool) error
	Pending() int
}

// Keys lists stored keys
type Keys interface {
	ListKeyPairs(ctx context.Context) ([]keystore.Record, error)
}

// Config configures the server
type Config struct {
	// ListenAddr is the host to bind; empty binds loopback only
	ListenAddr string
	Port       int
	// Token is the operator bearer token required on /v1
	Token     string
	Version   string
	Approvals Approvals
	Keys      Keys
	Limiter   *ratelimit.Limiter
	Gatherer  prometheus.Gatherer
	// Ready reports whether dependencies (NATS) are up. Nil means always ready.
	Ready func() bool
}

// HealthStatus is the body of /health
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Pending   int       `json:"pending"`
	LastCheck time.Time `json:"last_check"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
}

// Server serves the approval surface
type Server struct {
	cfg     Config
	server  *http.Server
	started time.Time
}

// NewServer creates a server; call Start to listen
func NewServer(cfg Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, started: time.Now()}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(listenHost(cfg.ListenAddr), strconv.Itoa(cfg.Port)),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Use(ratelimit.Middleware(s.cfg.Limiter))
		r.Use(requireToken(s.cfg.Token))
		r.Get("/requests", s.handleListRequests)
		r.Post("/requests/{id}/approve", s.handleResolve(true))
		r.Post("/requests/{id}/reject", s.handleResolve(false))
		r.Get("/keys", s.handleListKeys)
	})

	return r
}

// Start listens until Stop is called
func (s *Server) Start() {
	log.Info().Str("addr", s.server.Addr).Msg("Starting approval server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("Approval server error")
	}
}

// Stop shuts the server down
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Approval server shutdown failed")
	}
}

func listenHost(addr string) string {
	if addr == "" {
		return "127.0.0.1"
	}
	return addr
}

func (s *Server) ready() bool {
	return s.cfg.Ready == nil || s.cfg.Ready()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Healthy:   s.ready(),
		Pending:   s.cfg.Approvals.Pending(),
		LastCheck: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.cfg.Version,
	}

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.OK(s.cfg.Approvals.List()))
}

func (s *Server) handleResolve(approved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := s.cfg.Approvals.Resolve(id, approved); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, protocol.OK(nil))
	}
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.cfg.Keys.ListKeyPairs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OK(keys))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), protocol.Fail(vaulterr.Message(err)))
}

func statusFor(err error) int {
	switch vaulterr.KindOf(err) {
	case vaulterr.KindValidation:
		return http.StatusBadRequest
	case vaulterr.KindAuthentication:
		return http.StatusUnauthorized
	case vaulterr.KindNotFound:
		return http.StatusNotFound
	case vaulterr.KindConflict, vaulterr.KindState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
