// Package http exposes Prometheus metrics and health/readiness probes for
// the core service, grounded on the teacher's internal/interfaces/http
// server (route/middleware chain shape, graceful Start/Shutdown) but
// re-targeted at spec §6.4's three endpoints instead of the teacher's
// scanner-API surface.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	corelog "github.com/alphacore/corerisk/internal/log"
)

// Config holds the server's listen address and rate-limit policy.
type Config struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
}

// DefaultConfig returns the spec §6.4 defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               8080,
		RateLimitPerMinute: 100,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
	}
}

// ReadyFunc reports whether dependencies are initialized; a nil readyFunc
// treats the service as always ready once constructed.
type ReadyFunc func() (ready bool, reason string)

// Server is the ambient metrics/health HTTP surface.
type Server struct {
	router  *mux.Router
	server  *http.Server
	config  Config
	reg     *prometheus.Registry
	log     zerolog.Logger
	readyFn ReadyFunc

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewServer builds a Server bound to cfg.Host:cfg.Port, exposing reg's
// metrics and calling readyFn (if non-nil) for /readyz.
func NewServer(cfg Config, reg *prometheus.Registry, readyFn ReadyFunc) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		config:   cfg,
		reg:      reg,
		log:      corelog.Component("http_server"),
		readyFn:  readyFn,
		limiters: make(map[string]*rate.Limiter),
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/readyz", s.handleReadyz).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if s.readyFn == nil {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ready")
		return
	}
	ready, reason := s.readyFn()
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, reason)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ready")
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type requestIDKey struct{}

// rateLimitMiddleware enforces a per-client-IP token bucket (spec §6.4:
// default 100 req/60s/IP, 429+Retry-After over limit): the bucket holds
// RateLimitPerMinute tokens and refills at RateLimitPerMinute per 60s. It is
// not a sliding window, so a full bucket followed by steady refill can admit
// more than RateLimitPerMinute requests within one 60s span.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		limiter := s.limiterFor(ip)
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		perMinute := s.config.RateLimitPerMinute
		if perMinute <= 0 {
			perMinute = 100
		}
		l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
		s.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Start runs the server until Shutdown is called; it returns
// http.ErrServerClosed on a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}
