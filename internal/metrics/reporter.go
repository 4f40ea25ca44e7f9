package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// JSONReport is a machine-readable summary of one load test run.
type JSONReport struct {
	Metadata      ReportMetadata      `json:"metadata"`
	Configuration ReportConfiguration `json:"configuration"`
	Summary       ReportSummary       `json:"summary"`
	Commands      []CommandReport     `json:"commands"`
	StatusCodes   map[string]int64    `json:"statusCodes"`
	Failures      []FailureReport     `json:"failures,omitempty"`
}

// ReportMetadata contains metadata about the report.
type ReportMetadata struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generatedAt"`
	Generator   string    `json:"generator"`
}

// ReportConfiguration captures the run configuration.
type ReportConfiguration struct {
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	TargetBaseURL string         `json:"targetBaseURL"`
	VirtualHost   string         `json:"virtualHost,omitempty"`
	Duration      Duration       `json:"duration"`
	Users         int            `json:"users"`
	SpawnRate     float64        `json:"spawnRate"`
	Encrypted     bool           `json:"encrypted"`
	TaskWeights   map[string]int `json:"taskWeights"`
}

// Duration wraps time.Duration for JSON serialization.
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler for Duration.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"seconds": d.Seconds(),
		"human":   formatDuration(d.Duration),
	})
}

// UnmarshalJSON implements json.Unmarshaler for Duration.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v struct {
		Seconds float64 `json:"seconds"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	d.Duration = time.Duration(v.Seconds * float64(time.Second))
	return nil
}

// ReportSummary contains overall run statistics.
type ReportSummary struct {
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Duration  Duration  `json:"duration"`

	TotalRequests    int64 `json:"totalRequests"`
	SuccessRequests  int64 `json:"successRequests"`
	FailedRequests   int64 `json:"failedRequests"`
	RejectedRequests int64 `json:"rejectedRequests"`
	TotalBytes       int64 `json:"totalBytes"`

	SuccessRate float64 `json:"successRate"`
	QPS         float64 `json:"qps"`

	Latency LatencyStats `json:"latency"`
}

// LatencyStats contains latency statistics in milliseconds.
type LatencyStats struct {
	MinMs float64 `json:"minMs"`
	AvgMs float64 `json:"avgMs"`
	P50Ms float64 `json:"p50Ms"`
	P95Ms float64 `json:"p95Ms"`
	P99Ms float64 `json:"p99Ms"`
	MaxMs float64 `json:"maxMs"`
}

// CommandReport contains statistics for a single command.
type CommandReport struct {
	Name             string       `json:"name"`
	TotalRequests    int64        `json:"totalRequests"`
	SuccessRequests  int64        `json:"successRequests"`
	FailedRequests   int64        `json:"failedRequests"`
	RejectedRequests int64        `json:"rejectedRequests"`
	SuccessRate      float64      `json:"successRate"`
	QPS              float64      `json:"qps"`
	Latency          LatencyStats `json:"latency"`
}

// FailureReport is one row of the failures table.
type FailureReport struct {
	Command     string `json:"command"`
	Error       string `json:"error"`
	Occurrences int64  `json:"occurrences"`
}

// Reporter generates JSON reports from run metrics.
type Reporter struct {
	version string
}

// NewReporter creates a new Reporter.
func NewReporter(version string) *Reporter {
	if version == "" {
		version = "dev"
	}
	return &Reporter{version: version}
}

// ReportOptions configures report generation.
type ReportOptions struct {
	ConfigName        string
	ConfigDescription string
	TargetBaseURL     string
	VirtualHost       string
	TestDuration      time.Duration
	Users             int
	SpawnRate         float64
	Encrypted         bool
	TaskWeights       map[string]int
}

// GenerateReport creates a JSON report from a metrics snapshot.
func (r *Reporter) GenerateReport(snapshot Snapshot, opts ReportOptions) *JSONReport {
	statusCodes := make(map[string]int64, len(snapshot.StatusCodes))
	for code, count := range snapshot.StatusCodes {
		statusCodes[strconv.Itoa(code)] = count
	}

	report := &JSONReport{
		Metadata: ReportMetadata{
			Version:     r.version,
			GeneratedAt: time.Now().UTC(),
			Generator:   "stickyapp-loadgen",
		},
		Configuration: ReportConfiguration{
			Name:          opts.ConfigName,
			Description:   opts.ConfigDescription,
			TargetBaseURL: opts.TargetBaseURL,
			VirtualHost:   opts.VirtualHost,
			Duration:      Duration{opts.TestDuration},
			Users:         opts.Users,
			SpawnRate:     opts.SpawnRate,
			Encrypted:     opts.Encrypted,
			TaskWeights:   opts.TaskWeights,
		},
		Summary: ReportSummary{
			StartTime:        snapshot.StartTime,
			EndTime:          snapshot.EndTime,
			Duration:         Duration{snapshot.Duration},
			TotalRequests:    snapshot.TotalRequests,
			SuccessRequests:  snapshot.SuccessRequests,
			FailedRequests:   snapshot.FailedRequests,
			RejectedRequests: snapshot.RejectedRequests,
			TotalBytes:       snapshot.TotalBytes,
			SuccessRate:      snapshot.SuccessRate,
			QPS:              snapshot.QPS,
			Latency: LatencyStats{
				MinMs: toMs(snapshot.MinLatency),
				AvgMs: toMs(snapshot.AvgLatency),
				P50Ms: toMs(snapshot.P50Latency),
				P95Ms: toMs(snapshot.P95Latency),
				P99Ms: toMs(snapshot.P99Latency),
				MaxMs: toMs(snapshot.MaxLatency),
			},
		},
		StatusCodes: statusCodes,
	}

	for _, s := range sortedCommands(snapshot.CommandStats) {
		report.Commands = append(report.Commands, CommandReport{
			Name:             s.Name,
			TotalRequests:    s.TotalRequests,
			SuccessRequests:  s.SuccessRequests,
			FailedRequests:   s.FailedRequests,
			RejectedRequests: s.RejectedRequests,
			SuccessRate:      s.SuccessRate,
			QPS:              s.QPS,
			Latency: LatencyStats{
				MinMs: toMs(s.MinLatency),
				AvgMs: toMs(s.AvgLatency),
				P50Ms: toMs(s.P50Latency),
				P95Ms: toMs(s.P95Latency),
				P99Ms: toMs(s.P99Latency),
				MaxMs: toMs(s.MaxLatency),
			},
		})
	}

	for _, f := range snapshot.Failures {
		report.Failures = append(report.Failures, FailureReport(f))
	}

	return report
}

func toMs(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// ToJSON serializes a report to JSON bytes.
func (r *Reporter) ToJSON(report *JSONReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// WriteToFile writes a report to a file and returns the expanded path.
// The path supports template variables:
// - {{.Timestamp}} - Current timestamp in format YYYYMMDD-HHMMSS
// - {{.Date}} - Current date in format YYYY-MM-DD
func (r *Reporter) WriteToFile(report *JSONReport, path string) (string, error) {
	expandedPath := filepath.Clean(expandPathTemplate(path, time.Now()))

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	data, err := r.ToJSON(report)
	if err != nil {
		return "", fmt.Errorf("marshaling report to JSON: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing report file: %w", err)
	}

	return expandedPath, nil
}

func expandPathTemplate(path string, now time.Time) string {
	r := strings.NewReplacer(
		"{{.Timestamp}}", now.Format("20060102-150405"),
		"{{.Date}}", now.Format("2006-01-02"),
	)
	return r.Replace(path)
}
