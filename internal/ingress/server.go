// Package ingress exposes the REST chat endpoint and the WhatsApp
// (Meta Cloud API) webhook described in spec.md §4.9/§6, wired against
// internal/raclock for per-session locking/rate-limiting/dedupe/ordering,
// internal/sessionstore for persistence, and internal/router for turn
// dispatch. Grounded on the teacher's internal/httpapi package for the
// mux/handler/error-response shape (net/http 1.22+ method-pattern
// routing, a ServeHTTP-satisfying Server wrapping one *http.ServeMux) and
// on original_source/hlas/src/hlas/main.py +
// utils/whatsapp_handler.py for the REST and webhook semantics
// respectively.
package ingress

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/config"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/metrics"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/raclock"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/router"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/sessionstore"
)

// Deps bundles every dependency the ingress layer needs. It is wider than
// the teacher's single-service NewServer(service) because this module's
// ingress genuinely sits atop several independent backends (session
// store, four Redis-backed concurrency primitives, the turn router, an
// outbound HTTP client) rather than one service facade.
type Deps struct {
	Config      config.Config
	Store       *sessionstore.Store
	Router      *router.Router
	Lock        *raclock.Lock
	RateLimiter *raclock.RateLimiter
	Dedupe      *raclock.Deduplicator
	Order       *raclock.OrderGuard
	Metrics     *metrics.Registry
	Logger      zerolog.Logger
	HTTPClient  *http.Client
	Location    *time.Location
	PGPool      *pgxpool.Pool
	RedisClient redis.UniversalClient
}

// Server is the HTTP handler exposing /chat, /health, /ready, /metrics,
// and the WhatsApp webhook endpoints.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer builds a Server wired to deps.
func NewServer(deps Deps) *Server {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	s := &Server{deps: deps, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /chat", s.handleChat)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Metrics.Gatherer(), promhttp.HandlerOpts{}))

	s.mux.HandleFunc("GET /meta-whatsapp", s.handleWhatsAppVerify)
	s.mux.HandleFunc("POST /meta-whatsapp", s.handleWhatsAppWebhook)
	s.mux.HandleFunc("GET /whatsapp/health", s.handleWhatsAppHealth)
}

func (s *Server) now() time.Time { return time.Now().In(s.deps.Location) }
