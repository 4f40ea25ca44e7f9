package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Outcome label values of requests_total.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Outcome classifies a result for the requests_total counter.
func (r Result) Outcome() string {
	switch {
	case r.Success:
		return OutcomeSuccess
	case r.Rejected:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}

// PrometheusExporterConfig holds configuration for the Prometheus exporter.
type PrometheusExporterConfig struct {
	// Port is the HTTP port for the metrics endpoint. Port -1 picks a free
	// port, which Addr reports after Start.
	// Default: 9090
	Port int

	// Path is the URL path for the metrics endpoint.
	// Default: /metrics
	Path string

	// Namespace prefixes every metric.
	// Default: "loadgen"
	Namespace string

	// HistogramBuckets are the request duration buckets.
	// Default: prometheus.DefBuckets
	HistogramBuckets []float64

	Logger *zap.Logger
}

// PrometheusExporter serves run metrics for Prometheus. It is a Recorder,
// a SessionTracker and a snapshot observer, so one value follows the whole
// run. Safe for concurrent use.
type PrometheusExporter struct {
	mu sync.Mutex

	config   PrometheusExporterConfig
	logger   *zap.Logger
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	responseBytes  *prometheus.CounterVec
	activeUsers    prometheus.Gauge
	activeSessions prometheus.Gauge
	sessionsOpened prometheus.Counter
	currentQPS     prometheus.Gauge
	successRate    prometheus.Gauge

	server *http.Server
	ln     net.Listener
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter(config PrometheusExporterConfig) *PrometheusExporter {
	if config.Port == 0 {
		config.Port = 9090
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "loadgen"
	}
	if len(config.HistogramBuckets) == 0 {
		config.HistogramBuckets = prometheus.DefBuckets
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ns := config.Namespace
	e := &PrometheusExporter{
		config:   config,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "requests_total",
			Help:      "Stickyapp requests by command, HTTP status (0 when no response) and outcome.",
		}, []string{"command", "status", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "request_duration_seconds",
			Help:      "Stickyapp request duration in seconds.",
			Buckets:   config.HistogramBuckets,
		}, []string{"command"}),
		responseBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "response_bytes_total",
			Help:      "Response body bytes received by command.",
		}, []string{"command"}),
		activeUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_users",
			Help:      "Simulated users currently running.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "active_sessions",
			Help:      "Stickyapp sessions currently open.",
		}),
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "sessions_opened_total",
			Help:      "Stickyapp sessions created during the run.",
		}),
		currentQPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "current_qps",
			Help:      "Requests per second since the run started.",
		}),
		successRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "success_rate",
			Help:      "Request success rate (0.0-100.0).",
		}),
	}

	e.registry.MustRegister(
		e.requests,
		e.duration,
		e.responseBytes,
		e.activeUsers,
		e.activeSessions,
		e.sessionsOpened,
		e.currentQPS,
		e.successRate,
	)
	return e
}

// Start serves the metrics endpoint and /health in the background.
// Starting a running exporter is a no-op.
func (e *PrometheusExporter) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.server != nil {
		return nil
	}

	port := max(e.config.Port, 0)
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("starting Prometheus exporter: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(e.config.Path, promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.server = server
	e.ln = ln

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("prometheus exporter stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the HTTP server down. Stopping a stopped exporter is a no-op.
func (e *PrometheusExporter) Stop(ctx context.Context) error {
	e.mu.Lock()
	server := e.server
	e.server = nil
	e.ln = nil
	e.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Record implements Recorder.
func (e *PrometheusExporter) Record(result Result) {
	e.requests.WithLabelValues(result.Command, strconv.Itoa(result.StatusCode), result.Outcome()).Inc()
	e.duration.WithLabelValues(result.Command).Observe(result.Latency.Seconds())
	e.responseBytes.WithLabelValues(result.Command).Add(float64(result.ResponseSize))
}

// UserStarted implements SessionTracker.
func (e *PrometheusExporter) UserStarted() { e.activeUsers.Inc() }

// UserStopped implements SessionTracker.
func (e *PrometheusExporter) UserStopped() { e.activeUsers.Dec() }

// SessionOpened implements SessionTracker.
func (e *PrometheusExporter) SessionOpened() {
	e.activeSessions.Inc()
	e.sessionsOpened.Inc()
}

// SessionClosed implements SessionTracker.
func (e *PrometheusExporter) SessionClosed() { e.activeSessions.Dec() }

// UpdateFromSnapshot refreshes the gauges derived from the collector.
func (e *PrometheusExporter) UpdateFromSnapshot(snapshot Snapshot) {
	e.currentQPS.Set(snapshot.QPS)
	e.successRate.Set(snapshot.SuccessRate)
}

// Addr returns the listening address, or "" when not serving.
func (e *PrometheusExporter) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ln == nil {
		return ""
	}
	return e.ln.Addr().String()
}

// GetAddress returns the full URL of the metrics endpoint.
func (e *PrometheusExporter) GetAddress() string {
	port := strconv.Itoa(e.config.Port)
	if addr := e.Addr(); addr != "" {
		if _, p, err := net.SplitHostPort(addr); err == nil {
			port = p
		}
	}
	return "http://localhost:" + port + e.config.Path
}

// Gather collects the exporter's current metric families.
func (e *PrometheusExporter) Gather() ([]*dto.MetricFamily, error) {
	return e.registry.Gather()
}

// SessionTracker is notified when users and sessions come and go.
type SessionTracker interface {
	UserStarted()
	UserStopped()
	SessionOpened()
	SessionClosed()
}

// NopTracker ignores all notifications.
type NopTracker struct{}

func (NopTracker) UserStarted()   {}
func (NopTracker) UserStopped()   {}
func (NopTracker) SessionOpened() {}
func (NopTracker) SessionClosed() {}
