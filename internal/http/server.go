// Package http exposes the ledger as a JSON API.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"envelopes/internal/ledger"
	"envelopes/internal/log"
	"envelopes/internal/metrics"
	"envelopes/internal/middleware/ratelimit"
	"envelopes/internal/middleware/security"
)

// Server wraps http.Server with the ledger routes and their middleware.
type Server struct {
	http.Server

	ledger      *ledger.Service
	mux         *http.ServeMux
	logger      *log.Logger
	metrics     *metrics.Metrics
	rateLimiter *ratelimit.Limiter
	clientIPs   *security.ClientIPResolver
	started     time.Time

	shutdownOnce sync.Once
}

type Option func(*Server)

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit caps mutating requests per client IP per minute.
// Zero or less disables the limit.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: perMinute})
		}
	}
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc *ledger.Service, opts ...Option) *Server {
	s := &Server{
		ledger:    svc,
		logger:    log.Discard(),
		clientIPs: security.NewClientIPResolver(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = http.NewServeMux()
	s.routes(s.mux)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.middleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	mux.HandleFunc("GET /envelopes", s.handleListEnvelopes)
	mux.HandleFunc("POST /envelopes", s.handleCreateEnvelope)
	mux.HandleFunc("GET /envelopes/summary", s.handleSummary)
	mux.HandleFunc("POST /envelopes/transfer", s.handleTransfer)
	mux.HandleFunc("GET /envelopes/{id}", s.handleGetEnvelope)
	mux.HandleFunc("PUT /envelopes/{id}", s.handleUpdateEnvelope)
	// form-era clients update with POST
	mux.HandleFunc("POST /envelopes/{id}", s.handleUpdateEnvelope)
	mux.HandleFunc("DELETE /envelopes/{id}", s.handleDeleteEnvelope)
	mux.HandleFunc("POST /envelopes/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("GET /envelopes/{id}/transactions", s.handleEnvelopeTransactions)

	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("GET /transactions/{id}", s.handleGetTransaction)

	mux.HandleFunc("/", s.handleNotFound)
}

// middleware applies, outermost first: metrics, request-scoped logger,
// request id, access log, security headers and the write rate limit.
func (s *Server) middleware(next http.Handler) http.Handler {
	h := next
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(s.clientIPs.ClientIP, s.onRateLimited)(h)
	}
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.AccessLogMiddleware()(h)
	h = log.RequestIDMiddleware(requestID)(h)
	h = log.Middleware(s.logger.WithComponent(log.ComponentHTTP))(h)
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(h)
	}
	return h
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.clientIPs.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").Write(w)
}

// requestID keeps a caller-supplied id when it parses as a UUID.
func requestID(r *http.Request) string {
	if id, err := uuid.Parse(r.Header.Get("X-Request-ID")); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
