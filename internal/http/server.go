// Package http exposes the ledger and the entitlement machine as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"budget/internal/entitlement"
	"budget/internal/ledger"
	"budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
)

// Entitlements is the part of *entitlement.Machine the API drives.
type Entitlements interface {
	Status() entitlement.Status
	IsPremium() bool
	ProductID() string
	Recheck(ctx context.Context)
	InitiatePurchase(ctx context.Context, listener func(entitlement.Outcome)) error
	HandlePurchaseResult(ctx context.Context, res entitlement.PurchaseResult)
}

type Server struct {
	http.Server
	ledger       *ledger.Aggregator
	entitlements Entitlements
	logger       *log.Logger
	errors       *log.StructuredLogger
	limiter      *ratelimit.Limiter
	ready        func(ctx context.Context) error
	now          func() time.Time

	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithReadiness makes /readyz report the result of check.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = check }
}

// WithRateLimit limits state-changing requests per client and minute.
func WithRateLimit(requestsPerMinute int) Option {
	return func(s *Server) {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: requestsPerMinute})
	}
}

// WithClock replaces the clock used when a request names no date.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, agg *ledger.Aggregator, ent Entitlements, opts ...Option) *Server {
	s := &Server{
		ledger:       agg,
		entitlements: ent,
		logger:       log.Nop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentHTTP)
	s.errors = log.NewStructuredLogger(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /balance", s.handleBalance)
	mux.HandleFunc("POST /balance/adjust", s.handleAdjustBalance)

	mux.HandleFunc("GET /entries", s.handleListEntries)
	mux.HandleFunc("POST /entries", s.handleCreateEntry)
	mux.HandleFunc("POST /entries/restore", s.handleRestoreEntry)
	mux.HandleFunc("PUT /entries/{id}", s.handleUpdateEntry)
	mux.HandleFunc("DELETE /entries/{id}", s.handleDeleteEntry)

	mux.HandleFunc("GET /months/{month}", s.handleMonthOverview)

	mux.HandleFunc("POST /recurring", s.handleCreateTemplate)
	mux.HandleFunc("DELETE /recurring/{id}", s.handleDeactivateTemplate)
	mux.HandleFunc("PUT /recurring/{id}/occurrences/{month}", s.handleEditOccurrence)
	mux.HandleFunc("DELETE /recurring/{id}/occurrences/{month}", s.handleDeleteOccurrence)

	mux.HandleFunc("GET /premium", s.handlePremiumStatus)
	mux.HandleFunc("POST /premium/check", s.handlePremiumCheck)
	mux.HandleFunc("POST /premium/purchase", s.handlePurchase)
	mux.HandleFunc("POST /premium/purchase/result", s.handlePurchaseResult)

	var handler http.Handler = mux
	if s.limiter != nil {
		clientIP := security.NewClientIP()
		handler = s.limiter.Middleware(clientIP.Extract, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded, try again later"})
		})(handler)
	}
	handler = security.NewHeadersMiddleware(security.APIHeadersConfig()).Middleware(handler)
	handler = log.Middleware(s.logger)(handler)
	handler = trace.Middleware(s.logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and the rate limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
