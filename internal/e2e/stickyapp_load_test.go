// Package e2e provides end-to-end tests for the loadgen. The in-process
// tests run the full stack against the fake stickyapp service. The live
// tests need a running stickyapp deployment; they are skipped by default
// and can be enabled by setting LOADGEN_E2E_TEST=1.
//
// Usage:
//
//	LOADGEN_E2E_TEST=1 go test -v ./internal/e2e/...
//	LOADGEN_E2E_TEST=1 STICKYAPP_BASE_URL=http://localhost:8080 STICKYAPP_VHOST=stickyapp-rust.10.0.2.15.sslip.io go test -v ./internal/e2e/...
package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/stickyapp/tools/loadgen/internal/client"
	"github.com/example/stickyapp/tools/loadgen/internal/config"
	"github.com/example/stickyapp/tools/loadgen/internal/fakeapp"
	"github.com/example/stickyapp/tools/loadgen/internal/loadctrl"
	"github.com/example/stickyapp/tools/loadgen/internal/metrics"
	"github.com/example/stickyapp/tools/loadgen/internal/runner"
	"github.com/example/stickyapp/tools/loadgen/internal/stickyapp"
)

// skipUnlessE2E skips the test unless live E2E testing is enabled.
func skipUnlessE2E(t *testing.T) {
	t.Helper()
	if os.Getenv("LOADGEN_E2E_TEST") != "1" {
		t.Skip("E2E tests disabled. Set LOADGEN_E2E_TEST=1 to enable.")
	}
}

// liveConfig returns the stickyapp-rust profile pointed at the target from
// the environment.
func liveConfig() *config.Config {
	cfg := config.Default()
	if url := os.Getenv("STICKYAPP_BASE_URL"); url != "" {
		cfg.Target.BaseURL = url
	}
	if vhost := os.Getenv("STICKYAPP_VHOST"); vhost != "" {
		cfg.Target.VirtualHost = vhost
	}
	return cfg
}

type stack struct {
	cfg       *config.Config
	collector *metrics.Collector
	exporter  *metrics.PrometheusExporter
	runner    *runner.Runner
	logs      *observer.ObservedLogs
}

func newStack(t *testing.T, cfg *config.Config) *stack {
	t.Helper()

	c, err := client.NewClient(cfg.Target, client.ProxyConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	collector := metrics.NewCollector(metrics.DefaultCollectorConfig())
	exporter := metrics.NewPrometheusExporter(metrics.PrometheusExporterConfig{})

	opts := runner.OptionsFromConfig(cfg)
	opts.HandleSignals = false
	opts.Logger = logger
	opts.Collector = collector
	opts.Tracker = exporter
	opts.Observers = []runner.SnapshotObserver{exporter}

	r, err := runner.New(opts, stickyapp.NewUserFactory(cfg, stickyapp.FactoryDeps{
		Client:   c,
		Logger:   logger,
		Recorder: metrics.Recorders{collector, exporter},
		Tracker:  exporter,
	}))
	require.NoError(t, err)

	return &stack{cfg: cfg, collector: collector, exporter: exporter, runner: r, logs: logs}
}

func fakeConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Target.BaseURL = baseURL
	cfg.Target.VirtualHost = "stickyapp-rust.test"
	cfg.Users = 3
	cfg.SpawnRate = 50
	cfg.Duration = 500 * time.Millisecond
	cfg.Wait = config.WaitConfig{Min: 5 * time.Millisecond, Max: 15 * time.Millisecond}
	cfg.Output.OnlySummary = true
	return cfg
}

func TestFakeService_FullRun(t *testing.T) {
	fake, err := fakeapp.New(fakeapp.Config{Location: "10.9.8.7"})
	require.NoError(t, err)

	var (
		mu            sync.Mutex
		hosts, routes []string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hosts = append(hosts, r.Host)
		routes = append(routes, r.Header.Get(client.HeaderOriginalDstHost))
		mu.Unlock()
		fake.Handler().ServeHTTP(w, r)
	}))
	defer ts.Close()

	s := newStack(t, fakeConfig(ts.URL))
	snapshot, err := s.runner.Run(context.Background())
	require.NoError(t, err)

	// Every user opened and shut down its session
	assert.Empty(t, fake.Sessions())
	assert.Equal(t, 3, s.runner.SpawnedUsers())

	require.Contains(t, snapshot.CommandStats, stickyapp.CommandCreateSession)
	assert.Equal(t, int64(3), snapshot.CommandStats[stickyapp.CommandCreateSession].SuccessRequests)
	require.Contains(t, snapshot.CommandStats, "shutdown")
	assert.Equal(t, int64(3), snapshot.CommandStats["shutdown"].SuccessRequests)
	require.Contains(t, snapshot.CommandStats, "encrypt")
	assert.Positive(t, snapshot.CommandStats["encrypt"].SuccessRequests)
	assert.Zero(t, snapshot.CommandStats["encrypt"].FailedRequests)

	mu.Lock()
	defer mu.Unlock()
	for _, h := range hosts {
		assert.Equal(t, "stickyapp-rust.test", h)
	}
	pinned := 0
	for _, r := range routes {
		if r == "10.9.8.7:8080" {
			pinned++
		}
	}
	// Only the three session creations go out unpinned
	assert.Equal(t, len(routes)-3, pinned)

	families, err := s.exporter.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		if m := f.GetMetric(); len(m) == 1 {
			values[f.GetName()] = m[0].GetGauge().GetValue() + m[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, values["loadgen_sessions_opened_total"])
	assert.Zero(t, values["loadgen_active_sessions"])
	assert.Zero(t, values["loadgen_active_users"])

	assert.Equal(t, 3, s.logs.FilterMessageSnippet("User is starting").Len())
	assert.Equal(t, 3, s.logs.FilterMessageSnippet("User is ending").Len())
}

func TestFakeService_ShutdownFailure(t *testing.T) {
	fake, err := fakeapp.New(fakeapp.Config{})
	require.NoError(t, err)
	fake.SetFault(stickyapp.ActionShutdown, http.StatusInternalServerError)

	ts := httptest.NewServer(fake.Handler())
	defer ts.Close()

	cfg := fakeConfig(ts.URL)
	cfg.Users = 1
	s := newStack(t, cfg)

	snapshot, err := s.runner.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, snapshot.CommandStats, "shutdown")
	shutdown := snapshot.CommandStats["shutdown"]
	assert.Equal(t, int64(1), shutdown.TotalRequests)
	assert.Equal(t, int64(1), shutdown.FailedRequests)
	assert.Equal(t, int64(1), snapshot.StatusCodes[http.StatusInternalServerError])

	// The session was never shut down
	assert.Len(t, fake.Sessions(), 1)
	warnings := s.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessage("shutdown: Failed")
	assert.Equal(t, 1, warnings.Len())
}

func TestFakeService_SetupFailureKeepsUserRunning(t *testing.T) {
	fake, err := fakeapp.New(fakeapp.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(fake.Handler())
	defer ts.Close()

	cfg := fakeConfig(ts.URL)
	cfg.Users = 1
	// An empty encoder interval makes session creation fail
	minV, maxV := 5.0, 5.0
	cfg.Encryption.EncoderMin = &minV
	cfg.Encryption.EncoderMax = &maxV
	s := newStack(t, cfg)

	snapshot, err := s.runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), snapshot.CommandStats[stickyapp.CommandCreateSession].FailedRequests)
	// Commands still go out, against the empty session path
	require.Contains(t, snapshot.CommandStats, "encrypt")
	assert.Positive(t, snapshot.CommandStats["encrypt"].TotalRequests)
	assert.Zero(t, snapshot.CommandStats["encrypt"].SuccessRequests)
	assert.Equal(t, 1, s.logs.FilterMessage("Initialization Failed").Len())
}

func TestFakeService_PacedSingleSession(t *testing.T) {
	fake, err := fakeapp.New(fakeapp.Config{})
	require.NoError(t, err)
	ts := httptest.NewServer(fake.Handler())
	defer ts.Close()

	c, err := client.NewClient(config.TargetConfig{BaseURL: ts.URL}, client.ProxyConfig{})
	require.NoError(t, err)

	user := stickyapp.NewUser(stickyapp.UserConfig{
		Session: stickyapp.SessionConfig{
			Transport: c,
			Headers:   c.NewHeaders(),
			PodPort:   8080,
			Encrypted: false,
		},
		EncryptWeight: 1,
		MeanWeight:    1,
	})

	ctx := context.Background()
	user.OnStart(ctx)
	require.True(t, strings.HasPrefix(user.Session().ID(), "open"))

	limiter := loadctrl.NewSpawnLimiter(0)
	for range 5 {
		require.NoError(t, limiter.Acquire(ctx))
		result := user.Session().Encrypt(ctx, 50)
		assert.True(t, result.OK(), result.String())
	}
	result := user.Session().Mean(ctx)
	v, ok := result.Value()
	require.True(t, ok)
	assert.Equal(t, 50.0, v)

	user.OnStop(ctx)
	assert.Empty(t, fake.Sessions())
}

// TestLiveConnectivity verifies basic connectivity to a stickyapp deployment.
func TestLiveConnectivity(t *testing.T) {
	skipUnlessE2E(t)

	cfg := liveConfig()
	c, err := client.NewClient(cfg.Target, client.LoadProxyConfig(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.Get(ctx, "/", c.NewHeaders())
	require.NoError(t, err, "Failed to connect to stickyapp at %s", cfg.Target.BaseURL)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	t.Logf("Root response: %s", resp.Text())
}

// TestLiveLoadRun runs a short load test against a live deployment.
func TestLiveLoadRun(t *testing.T) {
	skipUnlessE2E(t)

	cfg := liveConfig()
	cfg.Users = 2
	cfg.SpawnRate = 2
	cfg.Duration = 15 * time.Second
	s := newStack(t, cfg)

	snapshot, err := s.runner.Run(context.Background())
	require.NoError(t, err)

	t.Logf("Requests: %d, success rate: %.1f%%, P95: %v",
		snapshot.TotalRequests, snapshot.SuccessRate, snapshot.P95Latency)
	assert.Positive(t, snapshot.TotalRequests)
	assert.Equal(t, int64(2), snapshot.CommandStats[stickyapp.CommandCreateSession].SuccessRequests)
}
