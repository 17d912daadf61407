package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by API and worker flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	messagesSentTotal     *prometheus.CounterVec
	messagesFailedTotal   *prometheus.CounterVec
	providerSendDuration  *prometheus.HistogramVec
	dispatchInflight      *prometheus.GaugeVec
	dispatchJobsTotal     *prometheus.CounterVec
	receiptsTotal         *prometheus.CounterVec
	retriesRequestedTotal prometheus.Counter
	staleClaimsTotal      prometheus.Counter
}

const metricsNamespace = "campaign_engine"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_sent_total",
				Help:      "Total number of campaign messages accepted by a provider.",
			},
			[]string{"provider"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "messages_failed_total",
				Help:      "Total number of campaign messages that ended failed, by provider and error kind.",
			},
			[]string{"provider", "reason"},
		),
		providerSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "provider_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		dispatchInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight provider sends grouped by provider.",
			},
			[]string{"provider"},
		),
		dispatchJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "dispatch_jobs_total",
				Help:      "Dispatch jobs handled by the worker, by outcome.",
			},
			[]string{"outcome"},
		),
		receiptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "receipts_total",
				Help:      "Webhook status events by result (applied, ignored, failed).",
			},
			[]string{"result"},
		),
		retriesRequestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "retries_requested_total",
				Help:      "Total number of operator retry requests that re-queued recipients.",
			},
		),
		staleClaimsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "stale_claims_swept_total",
				Help:      "Recipients marked failed after their dispatch was interrupted.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.providerSendDuration,
		m.dispatchInflight,
		m.dispatchJobsTotal,
		m.receiptsTotal,
		m.retriesRequestedTotal,
		m.staleClaimsTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncMessageSent(provider string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncMessageFailed(provider string, reason string) {
	if m == nil {
		return
	}
	m.messagesFailedTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveProviderSendDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncDispatchInFlight(provider string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) DecDispatchInFlight(provider string) {
	if m == nil {
		return
	}
	m.dispatchInflight.WithLabelValues(normalizeLabel(provider)).Dec()
}

func (m *Metrics) IncDispatchJob(outcome string) {
	if m == nil {
		return
	}
	m.dispatchJobsTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) AddReceipts(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.receiptsTotal.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}

func (m *Metrics) IncRetriesRequested() {
	if m == nil {
		return
	}
	m.retriesRequestedTotal.Inc()
}

func (m *Metrics) AddStaleClaims(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleClaimsTotal.Add(float64(n))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
