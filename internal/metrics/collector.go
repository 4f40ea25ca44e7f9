// Package metrics aggregates stickyapp request results for a load run and
// renders them on the console, as a JSON report and for Prometheus.
package metrics

import (
	"cmp"
	"maps"
	"slices"
	"sync"
	"time"
)

// Result represents the outcome of a single stickyapp request.
type Result struct {
	// Command is the action name, or "create_session" for setup.
	Command string
	Path    string
	// StatusCode is 0 when the request never got an HTTP response.
	StatusCode int
	Latency    time.Duration
	// Success means the envelope decoded and reported status true.
	Success bool
	// Rejected means the envelope decoded but reported status false.
	Rejected     bool
	ResponseSize int64
	Timestamp    time.Time
	// Error describes a failed or rejected request.
	Error string
}

// Failure counts identical errors reported by one command.
type Failure struct {
	Command     string
	Error       string
	Occurrences int64
}

// Snapshot represents a point-in-time view of a run.
type Snapshot struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	RejectedRequests int64
	TotalBytes       int64

	MinLatency time.Duration
	AvgLatency time.Duration
	P50Latency time.Duration
	P95Latency time.Duration
	P99Latency time.Duration
	MaxLatency time.Duration

	SuccessRate float64 // 0.0 - 100.0 percentage
	QPS         float64

	StatusCodes  map[int]int64
	CommandStats map[string]*CommandSnapshot
	// Failures is ordered by occurrences, most frequent first.
	Failures []Failure
}

// CommandSnapshot is the per-command slice of a Snapshot.
type CommandSnapshot struct {
	Name             string
	TotalRequests    int64
	SuccessRequests  int64
	FailedRequests   int64
	RejectedRequests int64
	TotalBytes       int64
	MinLatency       time.Duration
	AvgLatency       time.Duration
	P50Latency       time.Duration
	P95Latency       time.Duration
	P99Latency       time.Duration
	MaxLatency       time.Duration
	SuccessRate      float64
	QPS              float64
}

// CollectorConfig holds configuration for the metrics collector.
type CollectorConfig struct {
	// LatencySamples bounds the samples kept for percentiles, overall and
	// per command. Default: 100000.
	LatencySamples int
}

const defaultLatencySamples = 100000

// DefaultCollectorConfig returns default configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{LatencySamples: defaultLatencySamples}
}

type failureKey struct {
	command string
	err     string
}

// Collector aggregates the results of a run, overall and per command. It
// is safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	samples   int
	startTime time.Time
	endTime   time.Time

	overall     *tally
	commands    map[string]*tally
	statusCodes map[int]int64
	failures    map[failureKey]int64
}

// NewCollector creates a new metrics collector.
func NewCollector(config CollectorConfig) *Collector {
	if config.LatencySamples <= 0 {
		config.LatencySamples = defaultLatencySamples
	}
	return &Collector{
		samples:     config.LatencySamples,
		overall:     newTally(config.LatencySamples),
		commands:    make(map[string]*tally),
		statusCodes: make(map[int]int64),
		failures:    make(map[failureKey]int64),
	}
}

// Start marks the beginning of the run.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
}

// Stop marks the end of the run.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record implements Recorder. Transport failures carry status code 0 and
// are counted under that code.
func (c *Collector) Record(result Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.overall.add(result)
	c.statusCodes[result.StatusCode]++

	if result.Command == "" {
		return
	}
	t, ok := c.commands[result.Command]
	if !ok {
		t = newTally(c.samples)
		c.commands[result.Command] = t
	}
	t.add(result)

	if !result.Success {
		c.failures[failureKey{command: result.Command, err: result.Error}]++
	}
}

// Snapshot returns a point-in-time view of everything recorded so far.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var duration time.Duration
	switch {
	case c.startTime.IsZero():
	case c.endTime.IsZero():
		duration = time.Since(c.startTime)
	default:
		duration = c.endTime.Sub(c.startTime)
	}

	lat := c.overall.latency.summary()
	snapshot := Snapshot{
		StartTime:        c.startTime,
		EndTime:          c.endTime,
		Duration:         duration,
		TotalRequests:    c.overall.total,
		SuccessRequests:  c.overall.success,
		FailedRequests:   c.overall.failed,
		RejectedRequests: c.overall.rejected,
		TotalBytes:       c.overall.bytes,
		MinLatency:       lat.min,
		AvgLatency:       lat.avg,
		P50Latency:       lat.p50,
		P95Latency:       lat.p95,
		P99Latency:       lat.p99,
		MaxLatency:       lat.max,
		SuccessRate:      c.overall.successRate(),
		QPS:              rate(c.overall.total, duration),
		StatusCodes:      maps.Clone(c.statusCodes),
		CommandStats:     make(map[string]*CommandSnapshot, len(c.commands)),
		Failures:         make([]Failure, 0, len(c.failures)),
	}

	for name, t := range c.commands {
		lat := t.latency.summary()
		snapshot.CommandStats[name] = &CommandSnapshot{
			Name:             name,
			TotalRequests:    t.total,
			SuccessRequests:  t.success,
			FailedRequests:   t.failed,
			RejectedRequests: t.rejected,
			TotalBytes:       t.bytes,
			MinLatency:       lat.min,
			AvgLatency:       lat.avg,
			P50Latency:       lat.p50,
			P95Latency:       lat.p95,
			P99Latency:       lat.p99,
			MaxLatency:       lat.max,
			SuccessRate:      t.successRate(),
			QPS:              rate(t.total, duration),
		}
	}

	for key, n := range c.failures {
		snapshot.Failures = append(snapshot.Failures, Failure{Command: key.command, Error: key.err, Occurrences: n})
	}
	slices.SortFunc(snapshot.Failures, func(a, b Failure) int {
		if n := cmp.Compare(b.Occurrences, a.Occurrences); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Command, b.Command); n != 0 {
			return n
		}
		return cmp.Compare(a.Error, b.Error)
	})

	return snapshot
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// tally holds the counters shared by the overall and per-command views.
type tally struct {
	total    int64
	success  int64
	failed   int64
	rejected int64
	bytes    int64
	latency  latencyWindow
}

func newTally(samples int) *tally {
	return &tally{latency: latencyWindow{limit: samples}}
}

// add counts one result. A rejected request is also a failed one.
func (t *tally) add(r Result) {
	t.total++
	switch {
	case r.Success:
		t.success++
	case r.Rejected:
		t.failed++
		t.rejected++
	default:
		t.failed++
	}
	t.bytes += r.ResponseSize
	t.latency.add(r.Latency)
}

func (t *tally) successRate() float64 {
	if t.total == 0 {
		return 0
	}
	return float64(t.success) / float64(t.total) * 100
}

// latencyWindow keeps exact min, max and mean over every sample and a
// bounded window of recent samples for percentiles. When the window is
// full its older half is dropped.
type latencyWindow struct {
	limit   int
	count   int64
	sum     time.Duration
	min     time.Duration
	max     time.Duration
	samples []time.Duration
}

func (w *latencyWindow) add(d time.Duration) {
	if w.count == 0 || d < w.min {
		w.min = d
	}
	if d > w.max {
		w.max = d
	}
	w.count++
	w.sum += d

	if len(w.samples) >= w.limit {
		w.samples = slices.Delete(w.samples, 0, len(w.samples)-w.limit/2)
	}
	w.samples = append(w.samples, d)
}

type latencySummary struct {
	min, avg, p50, p95, p99, max time.Duration
}

func (w *latencyWindow) summary() latencySummary {
	if w.count == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(w.samples)
	slices.Sort(sorted)
	return latencySummary{
		min: w.min,
		avg: w.sum / time.Duration(w.count),
		p50: percentile(sorted, 0.50),
		p95: percentile(sorted, 0.95),
		p99: percentile(sorted, 0.99),
		max: w.max,
	}
}

// percentile picks the nearest-rank sample from sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
