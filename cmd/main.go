// Package main provides the CLI entry point for the load generator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/stickyapp/tools/loadgen/internal/apispec"
	"github.com/example/stickyapp/tools/loadgen/internal/client"
	"github.com/example/stickyapp/tools/loadgen/internal/config"
	"github.com/example/stickyapp/tools/loadgen/internal/fakeapp"
	"github.com/example/stickyapp/tools/loadgen/internal/logger"
	"github.com/example/stickyapp/tools/loadgen/internal/metrics"
	"github.com/example/stickyapp/tools/loadgen/internal/runner"
	"github.com/example/stickyapp/tools/loadgen/internal/stickyapp"
)

// Version information (populated at build time)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// CLI flags
var (
	configPath     string
	host           string
	virtualHost    string
	users          int
	spawnRate      float64
	runTime        string
	logLevel       string
	onlySummary    bool
	headless       bool
	colors         bool
	list           bool
	validate       bool
	dryRun         bool
	check          bool
	useFake        bool
	showVersion    bool
	reportFile     string
	prometheusAddr string
)

func init() {
	// Configuration
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	flag.StringVar(&configPath, "c", "", "Path to the YAML configuration file (shorthand)")

	// Target
	flag.StringVar(&host, "host", "", "Override target base URL (e.g., http://localhost:8080)")
	flag.StringVar(&virtualHost, "virtual-host", "", "Override the Host header sent to the target")

	// Override flags
	flag.IntVar(&users, "users", 0, "Override number of simulated users")
	flag.IntVar(&users, "u", 0, "Override number of simulated users (shorthand)")
	flag.Float64Var(&spawnRate, "spawn-rate", 0, "Override users started per second")
	flag.Float64Var(&spawnRate, "r", 0, "Override users started per second (shorthand)")
	flag.StringVar(&runTime, "duration", "", "Override test duration (e.g., 597, 10m, 1h30m)")
	flag.StringVar(&runTime, "t", "", "Override test duration (shorthand)")
	flag.StringVar(&logLevel, "loglevel", "", "Override log level (DEBUG, INFO, WARNING, ERROR)")

	// Utility flags
	flag.BoolVar(&list, "list", false, "List the stickyapp API endpoints")
	flag.BoolVar(&list, "l", false, "List the stickyapp API endpoints (shorthand)")
	flag.BoolVar(&validate, "validate", false, "Validate configuration and exit")
	flag.BoolVar(&dryRun, "dry-run", false, "Parse config and show execution plan without running")
	flag.BoolVar(&check, "check", false, "Check the target is reachable and exit")
	flag.BoolVar(&useFake, "fake", false, "Run against an in-process fake stickyapp service")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	// Output flags
	flag.BoolVar(&onlySummary, "only-summary", false, "Only print the final summary, no progress lines")
	flag.BoolVar(&headless, "headless", false, "Accepted for compatibility; runs are always headless")
	flag.BoolVar(&colors, "colors", false, "Enable ANSI colors in console output")
	flag.StringVar(&reportFile, "report", "", "JSON report file path (supports {{.Timestamp}} and {{.Date}})")
	flag.StringVar(&prometheusAddr, "prometheus", "", "Prometheus metrics endpoint (e.g., :9090 or localhost:9090)")

	// Custom usage
	flag.Usage = printUsage
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Load Generator - stickyapp Session Load Testing Tool

USAGE:
    loadgen [-config <path>] [options]

DESCRIPTION:
    Simulates users of the stickyapp encrypted-computation service. Each user
    creates a session, pins its traffic to the pod that owns the session,
    sends weighted encrypt and mean commands and shuts the session down when
    the run ends.

    Without -config the built-in stickyapp-rust profile is used.

CONFIGURATION:
    -config, -c <path>      Path to the YAML configuration file
    -host <url>             Override target base URL
    -virtual-host <name>    Override the Host header

OVERRIDE OPTIONS:
    -users, -u <n>          Override number of simulated users
    -spawn-rate, -r <n>     Override users started per second
    -duration, -t <dur>     Override test duration ("597" is seconds, or "10m", "1h30m")
    -loglevel <level>       Override log level (DEBUG, INFO, WARNING, ERROR)

UTILITY OPTIONS:
    -list, -l               List the stickyapp API endpoints
    -validate               Validate configuration and exit
    -dry-run                Show execution plan without running
    -check                  Check the target is reachable and exit
    -fake                   Run against an in-process fake stickyapp service
    -version                Show version information
    -help, -h               Show this help message

OUTPUT OPTIONS:
    -only-summary           Only print the final summary
    -headless               Accepted for compatibility
    -colors                 Enable ANSI colors in console output
    -report <path>          Write a JSON report (supports {{.Timestamp}} template)
    -prometheus <addr>      Enable Prometheus metrics endpoint (e.g., :9090)

EXAMPLES:
    # Run the stickyapp-rust profile
    loadgen -config configs/stickyapp-rust.yaml

    # One user for 597 seconds with debug logging
    loadgen -host http://localhost:8080 -headless -only-summary -loglevel DEBUG -u 1 -r 1 -t 597

    # Self-contained smoke run against the fake service
    loadgen -fake -u 5 -r 5 -t 10s

    # Generate a JSON report
    loadgen -config configs/stickyapp-rust.yaml -report results/run-{{.Timestamp}}.json

    # Check connectivity
    loadgen -host http://localhost:8080 -check

    # Dry run to see the execution plan
    loadgen -config configs/stickyapp-rust.yaml -dry-run

CONFIGURATION FILE FORMAT:
    The configuration file is in YAML format and supports:
    - Target settings (baseURL, virtualHost, podPort, headers)
    - Users, spawn rate, duration and wait range
    - Task weights and encrypt value range
    - Session encryption parameters
    - Logging and output settings

    See configs/stickyapp-rust.yaml for a complete example.
`)
}

func main() {
	flag.Parse()

	// Handle version flag
	if showVersion {
		printVersion()
		os.Exit(0)
	}

	if list {
		if err := printEndpointList(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading API description: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Apply CLI overrides
	if err := applyOverrides(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Handle utility commands
	if validate {
		fmt.Printf("Configuration '%s' is valid.\n", cfg.Name)
		printConfigSummary(cfg)
		os.Exit(0)
	}

	if dryRun {
		printExecutionPlan(cfg)
		os.Exit(0)
	}

	if check {
		if err := checkTarget(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Run the load test
	if err := runLoadTest(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error running load test: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("loadgen version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}

	absConfigPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	return config.LoadFromFile(absConfigPath)
}

func applyOverrides(cfg *config.Config) error {
	if host != "" {
		cfg.Target.BaseURL = host
	}
	if virtualHost != "" {
		cfg.Target.VirtualHost = virtualHost
	}
	if users > 0 {
		cfg.Users = users
	}
	if spawnRate > 0 {
		cfg.SpawnRate = spawnRate
	}
	if runTime != "" {
		d, err := parseRunTime(runTime)
		if err != nil {
			return err
		}
		cfg.Duration = d
	}
	if logLevel != "" {
		cfg.Log.Level = strings.ToLower(logLevel)
	}
	if onlySummary {
		cfg.Output.OnlySummary = true
	}
	if colors {
		cfg.Output.Colors = true
	}
	if reportFile != "" {
		cfg.Output.ReportFile = reportFile
	}

	// Apply Prometheus override
	if prometheusAddr != "" {
		port := parsePrometheusPort(prometheusAddr)
		if port == 0 {
			return fmt.Errorf("invalid prometheus address %q", prometheusAddr)
		}
		cfg.Output.Prometheus.Enabled = true
		cfg.Output.Prometheus.Port = port
		if cfg.Output.Prometheus.Path == "" {
			cfg.Output.Prometheus.Path = "/metrics"
		}
	}
	return nil
}

// parseRunTime accepts a bare number of seconds or a Go duration.
func parseRunTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("invalid duration %q: must be positive", s)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid duration %q: must be positive", s)
	}
	return d, nil
}

// parsePrometheusPort extracts port from address string.
// Supports formats: :9090, localhost:9090, 9090
// Returns 0 for invalid ports (including out of range 1-65535).
func parsePrometheusPort(addr string) int {
	addr = strings.TrimSpace(addr)

	// Handle just port number
	if !strings.Contains(addr, ":") {
		var port int
		if _, err := fmt.Sscanf(addr, "%d", &port); err == nil {
			if port > 0 && port <= 65535 {
				return port
			}
		}
		return 0
	}

	// Handle :port or host:port
	parts := strings.Split(addr, ":")
	if len(parts) >= 2 {
		var port int
		if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &port); err == nil {
			if port > 0 && port <= 65535 {
				return port
			}
		}
	}
	return 0
}

func printConfigSummary(cfg *config.Config) {
	fmt.Println()
	fmt.Println("Configuration Summary:")
	fmt.Printf("  Name:        %s\n", cfg.Name)
	fmt.Printf("  Target:      %s\n", cfg.Target.BaseURL)
	fmt.Printf("  Host:        %s\n", cfg.Target.HostHeader())
	fmt.Printf("  Pod Port:    %d\n", cfg.Target.PodPort)
	fmt.Printf("  Users:       %d\n", cfg.Users)
	fmt.Printf("  Spawn Rate:  %.1f/s\n", cfg.SpawnRate)
	fmt.Printf("  Duration:    %v\n", cfg.Duration)
	fmt.Printf("  Encrypted:   %v\n", cfg.Session.IsEncrypted())
	fmt.Printf("  Log Level:   %s\n", cfg.Log.Level)
}

func printEndpointList() error {
	spec, err := apispec.Load(context.Background())
	if err != nil {
		return err
	}

	endpoints := spec.Endpoints()
	fmt.Printf("Endpoints of '%s' (v%s, %d total):\n", spec.Title(), spec.Version(), len(endpoints))
	fmt.Println()
	for _, ep := range endpoints {
		fmt.Printf("  %-6s %-22s %-16s %s\n", ep.Method, ep.Path, ep.OperationID, ep.Summary)
	}
	return nil
}

func printExecutionPlan(cfg *config.Config) {
	fmt.Println("=== Execution Plan (Dry Run) ===")

	// Configuration summary
	printConfigSummary(cfg)

	// User spawning
	fmt.Println()
	fmt.Println("User Spawning:")
	spawnTime := time.Duration(float64(cfg.Users-1) / cfg.SpawnRate * float64(time.Second))
	fmt.Printf("  Users:        %d\n", cfg.Users)
	fmt.Printf("  All started:  after %v\n", spawnTime.Round(time.Millisecond))
	fmt.Printf("  Wait:         %v - %v between tasks\n", cfg.Wait.Min, cfg.Wait.Max)
	fmt.Printf("  Stop Timeout: %v\n", cfg.StopTimeout)

	// Task distribution
	encrypt, mean := cfg.Tasks.EncryptWeight(), cfg.Tasks.MeanWeight()
	total := float64(encrypt + mean)
	fmt.Println()
	fmt.Println("Task Distribution:")
	fmt.Printf("  %-10s w:%-3d (%.1f%%) values in [%d, %d)\n",
		stickyapp.TaskEncrypt, encrypt, float64(encrypt)/total*100, cfg.EncryptValues.Min, cfg.EncryptValues.Max)
	fmt.Printf("  %-10s w:%-3d (%.1f%%)\n", stickyapp.TaskMean, mean, float64(mean)/total*100)

	// Session setup
	fmt.Println()
	fmt.Println("Session Setup:")
	fmt.Printf("  POST %s?encrypted=%v\n", stickyapp.SessionsPath, cfg.Session.IsEncrypted())
	params := stickyapp.ParamsFromConfig(cfg.Encryption)
	fmt.Printf("  Encoder:      [%v, %v] precision %d padding %d\n",
		params.EncoderMin, params.EncoderMax, params.EncoderPrecisionBits, params.EncoderPaddingBits)
	fmt.Printf("  Secret Key:   dimensions %d log2 stddev %d\n",
		params.SecretKeyDimensions, params.SecretKeyLog2StdDev)
	fmt.Printf("  Routing:      %s: <location>:%d\n", client.HeaderOriginalDstHost, cfg.Target.PodPort)

	// Output
	fmt.Println()
	fmt.Println("Output:")
	fmt.Printf("  Only Summary: %v\n", cfg.Output.OnlySummary)
	if cfg.Output.ReportFile != "" {
		fmt.Printf("  Report:       %s\n", cfg.Output.ReportFile)
	}
	if cfg.Output.Prometheus.Enabled {
		fmt.Printf("  Prometheus:   :%d%s\n", cfg.Output.Prometheus.Port, cfg.Output.Prometheus.Path)
	}

	fmt.Println()
	fmt.Println("Ready to execute. Remove -dry-run flag to start the load test.")
}

// checkTarget pings the root route and lists sessions.
func checkTarget(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.NewClient(cfg.Target, client.LoadProxyConfig(nil))
	if err != nil {
		return err
	}
	defer c.Close()

	headers := c.NewHeaders()
	fmt.Printf("Checking %s (Host: %s)\n", cfg.Target.BaseURL, headers.Host())

	resp, err := c.Get(ctx, "/", headers)
	if err != nil {
		return fmt.Errorf("GET /: %w", err)
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("GET /: unexpected status %d", resp.StatusCode)
	}
	fmt.Printf("  GET /          %d %s\n", resp.StatusCode, strings.TrimSpace(resp.Text()))

	resp, err = c.Get(ctx, stickyapp.SessionsPath, headers)
	if err != nil {
		return fmt.Errorf("GET %s: %w", stickyapp.SessionsPath, err)
	}
	spec, err := apispec.Load(ctx)
	if err != nil {
		return err
	}
	if err := spec.ValidateJSON(apispec.SchemaSessionList, resp.Body); err != nil {
		return fmt.Errorf("GET %s: %w", stickyapp.SessionsPath, err)
	}
	fmt.Printf("  GET %-10s %d %s\n", stickyapp.SessionsPath, resp.StatusCode, strings.TrimSpace(resp.Text()))
	return nil
}

func runLoadTest(cfg *config.Config) error {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync(log)

	ctx := context.Background()

	if useFake {
		addr, stop, err := startFake(ctx, log)
		if err != nil {
			return err
		}
		defer stop()
		cfg.Target.BaseURL = "http://" + addr
	}

	c, err := client.NewClient(cfg.Target, client.LoadProxyConfig(nil))
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer c.Close()

	collector := metrics.NewCollector(metrics.DefaultCollectorConfig())
	recorders := metrics.Recorders{collector}
	var tracker metrics.SessionTracker = metrics.NopTracker{}
	var observers []runner.SnapshotObserver

	if cfg.Output.Prometheus.Enabled {
		exporter := metrics.NewPrometheusExporter(metrics.PrometheusExporterConfig{
			Port:   cfg.Output.Prometheus.Port,
			Path:   cfg.Output.Prometheus.Path,
			Logger: log,
		})
		if err := exporter.Start(); err != nil {
			return fmt.Errorf("starting prometheus exporter: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = exporter.Stop(stopCtx)
		}()
		log.Info("prometheus metrics enabled", zap.String("address", exporter.GetAddress()))

		recorders = append(recorders, exporter)
		tracker = exporter
		observers = append(observers, exporter)
	}

	opts := runner.OptionsFromConfig(cfg)
	opts.Logger = log
	opts.Collector = collector
	opts.Console = metrics.NewConsole(metrics.ConsoleConfig{Writer: os.Stdout, UseColors: cfg.Output.Colors})
	opts.Tracker = tracker
	opts.Observers = observers

	r, err := runner.New(opts, stickyapp.NewUserFactory(cfg, stickyapp.FactoryDeps{
		Client:   c,
		Logger:   log,
		Recorder: recorders,
		Tracker:  tracker,
	}))
	if err != nil {
		return err
	}

	snapshot, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.Output.ReportFile != "" {
		reporter := metrics.NewReporter(version)
		report := reporter.GenerateReport(snapshot, metrics.ReportOptions{
			ConfigName:        cfg.Name,
			ConfigDescription: cfg.Description,
			TargetBaseURL:     cfg.Target.BaseURL,
			VirtualHost:       cfg.Target.HostHeader(),
			TestDuration:      cfg.Duration,
			Users:             cfg.Users,
			SpawnRate:         cfg.SpawnRate,
			Encrypted:         cfg.Session.IsEncrypted(),
			TaskWeights:       opts.Banner.Tasks,
		})
		path, err := reporter.WriteToFile(report, cfg.Output.ReportFile)
		if err != nil {
			return err
		}
		fmt.Printf("JSON report written to %s\n", path)
	}
	return nil
}

// startFake serves a fake stickyapp on a free loopback port.
func startFake(ctx context.Context, log *zap.Logger) (string, func(), error) {
	fake, err := fakeapp.New(fakeapp.Config{Logger: log})
	if err != nil {
		return "", nil, fmt.Errorf("creating fake service: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- fake.ListenAndServe(ctx, "127.0.0.1:0", ready)
	}()

	select {
	case addr := <-ready:
		stop := func() {
			cancel()
			<-errCh
		}
		return addr, stop, nil
	case err := <-errCh:
		cancel()
		return "", nil, fmt.Errorf("starting fake service: %w", err)
	}
}
