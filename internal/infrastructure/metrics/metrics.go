package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metamarket.backend/internal/domain/entities"
)

const namespace = "metamarket"

// Metrics owns a private registry so tests can build as many as they like
type Metrics struct {
	registry *prometheus.Registry

	attemptsStarted  prometheus.Counter
	attemptsInFlight prometheus.Gauge
	attemptsFinished *prometheus.CounterVec
	attemptDuration  *prometheus.HistogramVec
	bridges          *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_attempts_started_total",
			Help:      "Purchase attempts accepted by the orchestrator.",
		}),
		attemptsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "purchase_attempts_in_flight",
			Help:      "Purchase attempts currently running.",
		}),
		attemptsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_attempts_finished_total",
			Help:      "Purchase attempts by final state and failure code.",
		}, []string{"state", "code"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "purchase_attempt_duration_seconds",
			Help:      "Wall time of one orchestrator invocation.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"state"}),
		bridges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_transfers_total",
			Help:      "Completed bridge transfers by source and destination chain.",
		}, []string{"from_chain", "to_chain"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.attemptsStarted,
		m.attemptsInFlight,
		m.attemptsFinished,
		m.attemptDuration,
		m.bridges,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) AttemptStarted() {
	m.attemptsStarted.Inc()
	m.attemptsInFlight.Inc()
}

func (m *Metrics) AttemptFinished(state entities.PurchaseState, code string, elapsed time.Duration) {
	m.attemptsInFlight.Dec()
	m.attemptsFinished.WithLabelValues(string(state), code).Inc()
	m.attemptDuration.WithLabelValues(string(state)).Observe(elapsed.Seconds())
}

func (m *Metrics) BridgeExecuted(fromChain, toChain uint64) {
	m.bridges.WithLabelValues(strconv.FormatUint(fromChain, 10), strconv.FormatUint(toChain, 10)).Inc()
}

// Middleware records every request under its route template
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
