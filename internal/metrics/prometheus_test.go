package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func gather(t *testing.T, e *PrometheusExporter) []*dto.MetricFamily {
	t.Helper()
	families, err := e.Gather()
	require.NoError(t, err)
	return families
}

func TestResult_Outcome(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{"decoded with status true", Result{StatusCode: 200, Success: true}, OutcomeSuccess},
		{"decoded with status false", Result{StatusCode: 200, Rejected: true}, OutcomeRejected},
		{"http error", Result{StatusCode: 500}, OutcomeFailed},
		{"no response", Result{Error: "connection refused"}, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Outcome())
		})
	}
}

func TestPrometheusExporter_RequestOutcomes(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})

	e.Record(Result{Command: "create_session", StatusCode: 200, Success: true, ResponseSize: 90})
	e.Record(Result{Command: "encrypt", StatusCode: 200, Success: true, ResponseSize: 70})
	e.Record(Result{Command: "encrypt", StatusCode: 200, Success: true, ResponseSize: 70})
	e.Record(Result{Command: "mean", StatusCode: 200, Rejected: true, ResponseSize: 60})
	e.Record(Result{Command: "shutdown", StatusCode: 500})

	requests := findMetricFamily(gather(t, e), "requests_total")
	require.NotNil(t, requests)

	for _, tt := range []struct {
		labels map[string]string
		want   float64
	}{
		{map[string]string{"command": "create_session", "status": "200", "outcome": "success"}, 1},
		{map[string]string{"command": "encrypt", "status": "200", "outcome": "success"}, 2},
		{map[string]string{"command": "mean", "status": "200", "outcome": "rejected"}, 1},
		{map[string]string{"command": "shutdown", "status": "500", "outcome": "failed"}, 1},
	} {
		m := findMetricByLabels(requests, tt.labels)
		require.NotNil(t, m, "%v", tt.labels)
		assert.Equal(t, tt.want, m.GetCounter().GetValue(), "%v", tt.labels)
	}

	bytes := findMetricFamily(gather(t, e), "response_bytes_total")
	require.NotNil(t, bytes)
	encrypt := findMetricByLabels(bytes, map[string]string{"command": "encrypt"})
	require.NotNil(t, encrypt)
	assert.Equal(t, 140.0, encrypt.GetCounter().GetValue())
}

func TestPrometheusExporter_TransportFailureIsStatusZero(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})

	e.Record(Result{Command: "mean", Latency: time.Second, Error: "context deadline exceeded"})

	requests := findMetricFamily(gather(t, e), "requests_total")
	require.NotNil(t, requests)
	m := findMetricByLabels(requests, map[string]string{"command": "mean", "status": "0", "outcome": "failed"})
	require.NotNil(t, m)
	assert.Equal(t, 1.0, m.GetCounter().GetValue())
}

func TestPrometheusExporter_TracksUsersAndSessions(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})
	var tracker SessionTracker = e

	// Three users start, two get a session, one of those shuts down
	for range 3 {
		tracker.UserStarted()
	}
	tracker.SessionOpened()
	tracker.SessionOpened()
	tracker.SessionClosed()
	tracker.UserStopped()

	families := gather(t, e)
	assert.Equal(t, 2.0, gaugeValue(t, families, "active_users"))
	assert.Equal(t, 1.0, gaugeValue(t, families, "active_sessions"))

	opened := findMetricFamily(families, "sessions_opened_total")
	require.NotNil(t, opened)
	assert.Equal(t, 2.0, opened.Metric[0].GetCounter().GetValue())
}

func TestPrometheusExporter_UpdateFromCollector(t *testing.T) {
	c := NewCollector(DefaultCollectorConfig())
	c.Start()
	c.Record(Result{Command: "encrypt", StatusCode: 200, Success: true})
	c.Record(Result{Command: "encrypt", StatusCode: 200, Success: true})
	c.Record(Result{Command: "encrypt", StatusCode: 200, Success: true})
	c.Record(Result{Command: "mean", StatusCode: 200, Rejected: true})
	c.Stop()
	snapshot := c.Snapshot()

	e := NewPrometheusExporter(PrometheusExporterConfig{})
	e.UpdateFromSnapshot(snapshot)

	families := gather(t, e)
	assert.InDelta(t, 75.0, gaugeValue(t, families, "success_rate"), 0.001)
	assert.InDelta(t, snapshot.QPS, gaugeValue(t, families, "current_qps"), 0.001)
}

func TestPrometheusExporter_ServesEndpoint(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{Port: -1, Namespace: "stickyapp"})
	assert.Empty(t, e.Addr())

	require.NoError(t, e.Start())
	require.NoError(t, e.Start())
	assert.NotEmpty(t, e.Addr())

	e.Record(Result{Command: "encrypt", StatusCode: 200, Success: true, Latency: 12 * time.Millisecond})
	e.SessionOpened()

	resp, err := http.Get(e.GetAddress())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	content := string(body)
	assert.Contains(t, content, `stickyapp_requests_total{command="encrypt",outcome="success",status="200"} 1`)
	assert.Contains(t, content, "stickyapp_request_duration_seconds_bucket")
	assert.Contains(t, content, "stickyapp_active_sessions 1")

	resp, err = http.Get(strings.TrimSuffix(e.GetAddress(), "/metrics") + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Stop(ctx))
	require.NoError(t, e.Stop(ctx))
	assert.Empty(t, e.Addr())
}

func TestPrometheusExporter_PortInUse(t *testing.T) {
	first := NewPrometheusExporter(PrometheusExporterConfig{Port: -1})
	require.NoError(t, first.Start())
	defer func() { _ = first.Stop(context.Background()) }()

	_, port, err := net.SplitHostPort(first.Addr())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)

	second := NewPrometheusExporter(PrometheusExporterConfig{Port: n, Logger: zaptest.NewLogger(t)})
	err = second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting Prometheus exporter")
	assert.Empty(t, second.Addr())
}

func TestPrometheusExporter_Defaults(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})
	assert.Equal(t, "http://localhost:9090/metrics", e.GetAddress())

	e = NewPrometheusExporter(PrometheusExporterConfig{Port: 8089, Path: "/stats"})
	assert.Equal(t, "http://localhost:8089/stats", e.GetAddress())

	for _, f := range gather(t, e) {
		assert.True(t, strings.HasPrefix(f.GetName(), "loadgen_"), f.GetName())
	}
}

func TestPrometheusExporter_CustomBuckets(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{HistogramBuckets: []float64{0.01, 0.1, 1}})

	for i := range 5 {
		e.Record(Result{Command: "encrypt", Success: true, StatusCode: 200, Latency: time.Duration(i*10) * time.Millisecond})
	}

	duration := findMetricFamily(gather(t, e), "request_duration_seconds")
	require.NotNil(t, duration)
	hist := duration.Metric[0].GetHistogram()
	assert.Equal(t, uint64(5), hist.GetSampleCount())
	assert.Len(t, hist.GetBucket(), 3)
}

func TestPrometheusExporter_ConcurrentUsers(t *testing.T) {
	e := NewPrometheusExporter(PrometheusExporterConfig{})

	const users = 10
	var wg sync.WaitGroup
	for range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.UserStarted()
			e.SessionOpened()
			for range 50 {
				e.Record(Result{Command: "encrypt", StatusCode: 200, Success: true})
			}
			e.SessionClosed()
			e.UserStopped()
		}()
	}
	wg.Wait()

	families := gather(t, e)
	requests := findMetricFamily(families, "requests_total")
	require.NotNil(t, requests)
	assert.Equal(t, float64(users*50), requests.Metric[0].GetCounter().GetValue())
	assert.Zero(t, gaugeValue(t, families, "active_users"))
	assert.Zero(t, gaugeValue(t, families, "active_sessions"))
}

func gaugeValue(t *testing.T, families []*dto.MetricFamily, name string) float64 {
	t.Helper()
	f := findMetricFamily(families, name)
	require.NotNil(t, f, name)
	require.Len(t, f.Metric, 1)
	return f.Metric[0].GetGauge().GetValue()
}

func findMetricFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if strings.HasSuffix(f.GetName(), "_"+name) {
			return f
		}
	}
	return nil
}

func findMetricByLabels(family *dto.MetricFamily, labels map[string]string) *dto.Metric {
	for _, m := range family.Metric {
		got := make(map[string]string, len(m.Label))
		for _, l := range m.Label {
			got[l.GetName()] = l.GetValue()
		}
		match := true
		for k, v := range labels {
			if got[k] != v {
				match = false
				break
			}
		}
		if match {
			return m
		}
	}
	return nil
}
