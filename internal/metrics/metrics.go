// Package metrics exposes the Prometheus counters named in the
// specification's observability expansion, ported one-for-one from the
// original's metrics.py (same metric names, same label sets) onto
// github.com/prometheus/client_golang — the ecosystem-standard client for
// a Go /metrics endpoint; no example repo in the corpus exercises it
// directly, but it is the library the original itself uses
// (prometheus_client), so the port carries it over rather than hand-rolling
// an exposition format.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every counter the ingress and sessionstore layers
// increment, constructed once at process startup and handed to whichever
// component needs a specific counter (sessionstore.WithMetrics takes the
// two session-cache counters directly since it only needs the Counter
// interface, not the whole Registry).
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal        *prometheus.CounterVec
	WAMessagesProcessed  *prometheus.CounterVec
	SessionCacheHits     prometheus.Counter
	SessionCacheMisses   prometheus.Counter
	RedisLockTimeouts    *prometheus.CounterVec
	WebhookSignatureBad  prometheus.Counter
	RateLimitThrottled   prometheus.Counter
}

// New builds a Registry with every counter pre-registered against a fresh
// prometheus.Registry (not the global DefaultRegisterer, so multiple
// instances can coexist in tests).
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlas_requests_total",
			Help: "Total HTTP requests",
		}, []string{"endpoint", "status"}),
		WAMessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlas_wa_messages_processed_total",
			Help: "Total WhatsApp messages processed grouped by result",
		}, []string{"result"}),
		SessionCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlas_session_cache_hits_total",
			Help: "Session cache hits",
		}),
		SessionCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlas_session_cache_misses_total",
			Help: "Session cache misses",
		}),
		RedisLockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hlas_redis_lock_timeouts_total",
			Help: "Redis lock acquisition timeouts",
		}, []string{"scope"}),
		WebhookSignatureBad: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlas_webhook_signature_rejections_total",
			Help: "WhatsApp webhook payloads rejected for a bad or missing signature",
		}),
		RateLimitThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlas_rate_limit_throttled_total",
			Help: "Inbound messages dropped for exceeding the per-user rate limit",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.WAMessagesProcessed,
		m.SessionCacheHits,
		m.SessionCacheMisses,
		m.RedisLockTimeouts,
		m.WebhookSignatureBad,
		m.RateLimitThrottled,
	)
	return m
}

// Gatherer exposes the underlying prometheus.Gatherer for the /metrics
// HTTP handler (promhttp.HandlerFor).
func (m *Registry) Gatherer() prometheus.Gatherer { return m.reg }
