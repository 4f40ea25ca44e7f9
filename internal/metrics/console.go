package metrics

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Console prints the run banner, progress lines and the final report.
//
// Thread Safety: Safe for concurrent use.
type Console struct {
	mu     sync.Mutex
	writer io.Writer
	config ConsoleConfig
}

// ConsoleConfig holds configuration for console output.
type ConsoleConfig struct {
	// Writer is the output destination. Default: os.Stdout
	Writer io.Writer

	// UseColors enables ANSI color codes. Default: false
	UseColors bool
}

// BannerInfo describes a run for PrintBanner.
type BannerInfo struct {
	Name        string
	Target      string
	VirtualHost string
	Users       int
	SpawnRate   float64
	Duration    time.Duration
	Tasks       map[string]int
}

// ANSI color codes.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// NewConsole creates a new console output handler.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	return &Console{writer: config.Writer, config: config}
}

func (c *Console) color(code string) string {
	if c.config.UseColors {
		return code
	}
	return ""
}

// PrintBanner prints the run header.
func (c *Console) PrintBanner(info BannerInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.writer
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════════════╗")
	fmt.Fprintf(w, "║  Load Generator: %-42s ║\n", truncate(info.Name, 42))
	fmt.Fprintln(w, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Target:    %-48s ║\n", truncate(info.Target, 48))
	if info.VirtualHost != "" {
		fmt.Fprintf(w, "║  Host:      %-48s ║\n", truncate(info.VirtualHost, 48))
	}
	fmt.Fprintf(w, "║  Users:     %-48s ║\n", fmt.Sprintf("%d (%.1f/s)", info.Users, info.SpawnRate))
	fmt.Fprintf(w, "║  Duration:  %-48s ║\n", info.Duration)
	fmt.Fprintf(w, "║  Tasks:     %-48s ║\n", truncate(formatWeights(info.Tasks), 48))
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════╝")
}

// PrintProgress prints a one-line progress report.
func (c *Console) PrintProgress(snapshot Snapshot, activeUsers int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.writer, "  [%s] Users: %d | Requests: %d | QPS: %.1f | Success: %s%.1f%%%s | P95: %s\n",
		formatDuration(snapshot.Duration),
		activeUsers,
		snapshot.TotalRequests,
		snapshot.QPS,
		c.successRateColor(snapshot.SuccessRate), snapshot.SuccessRate, c.color(colorReset),
		formatLatency(snapshot.P95Latency))
}

// PrintFinalReport prints the summary and the per-command table.
func (c *Console) PrintFinalReport(snapshot Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.writer

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s╔════════════════════════════════════════════════════════════╗%s\n",
		c.color(colorBold), c.color(colorReset))
	fmt.Fprintf(w, "%s║                    LOAD TEST RESULTS                       ║%s\n",
		c.color(colorBold), c.color(colorReset))
	fmt.Fprintf(w, "%s╠════════════════════════════════════════════════════════════╣%s\n",
		c.color(colorBold), c.color(colorReset))
	fmt.Fprintf(w, "║  Duration:       %-42s ║\n", formatDuration(snapshot.Duration))
	fmt.Fprintf(w, "║  Total Requests: %-42d ║\n", snapshot.TotalRequests)
	fmt.Fprintf(w, "║  Successful:     %-42d ║\n", snapshot.SuccessRequests)
	fmt.Fprintf(w, "║  Failed:         %-42d ║\n", snapshot.FailedRequests)
	fmt.Fprintf(w, "║    Rejected:     %-42d ║\n", snapshot.RejectedRequests)
	fmt.Fprintf(w, "║  QPS:            %-42.2f ║\n", snapshot.QPS)
	fmt.Fprintf(w, "║  Success Rate:   %-41.2f%% ║\n", snapshot.SuccessRate)
	fmt.Fprintf(w, "║  Received:       %-42s ║\n", formatBytes(snapshot.TotalBytes))
	fmt.Fprintln(w, "╠════════════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Min Latency:    %-42s ║\n", formatLatency(snapshot.MinLatency))
	fmt.Fprintf(w, "║  Avg Latency:    %-42s ║\n", formatLatency(snapshot.AvgLatency))
	fmt.Fprintf(w, "║  P50 Latency:    %-42s ║\n", formatLatency(snapshot.P50Latency))
	fmt.Fprintf(w, "║  P95 Latency:    %-42s ║\n", formatLatency(snapshot.P95Latency))
	fmt.Fprintf(w, "║  P99 Latency:    %-42s ║\n", formatLatency(snapshot.P99Latency))
	fmt.Fprintf(w, "║  Max Latency:    %-42s ║\n", formatLatency(snapshot.MaxLatency))
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════════════╝")

	if len(snapshot.StatusCodes) > 0 {
		codes := make([]int, 0, len(snapshot.StatusCodes))
		for code := range snapshot.StatusCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)

		fmt.Fprintf(w, "\n%s── Status Codes ──────────────────────────────────────────────%s\n",
			c.color(colorCyan), c.color(colorReset))
		for _, code := range codes {
			fmt.Fprintf(w, "  %s%d%s: %d\n", c.statusCodeColor(code), code, c.color(colorReset), snapshot.StatusCodes[code])
		}
	}

	if len(snapshot.CommandStats) > 0 {
		fmt.Fprintf(w, "\n%s── Per-Command Statistics ────────────────────────────────────%s\n",
			c.color(colorCyan), c.color(colorReset))
		fmt.Fprintf(w, "  %-16s %8s %8s %8s %8s %10s %10s\n",
			"Command", "Requests", "Failed", "Rejected", "Success%", "P95", "Avg")
		fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 74))

		for _, s := range sortedCommands(snapshot.CommandStats) {
			fmt.Fprintf(w, "  %-16s %8d %8d %8d %s%7.1f%%%s %10s %10s\n",
				truncate(s.Name, 16),
				s.TotalRequests,
				s.FailedRequests,
				s.RejectedRequests,
				c.successRateColor(s.SuccessRate), s.SuccessRate, c.color(colorReset),
				formatLatency(s.P95Latency),
				formatLatency(s.AvgLatency))
		}
	}

	if len(snapshot.Failures) > 0 {
		fmt.Fprintf(w, "\n%s── Failures ──────────────────────────────────────────────────%s\n",
			c.color(colorCyan), c.color(colorReset))
		fmt.Fprintf(w, "  %8s  %-16s %s\n", "Count", "Command", "Error")
		for _, f := range snapshot.Failures {
			fmt.Fprintf(w, "  %s%8d%s  %-16s %s\n",
				c.color(colorRed), f.Occurrences, c.color(colorReset),
				truncate(f.Command, 16), truncate(f.Error, 80))
		}
	}
	fmt.Fprintln(w)
}

// sortedCommands orders commands by request count, then name.
func sortedCommands(stats map[string]*CommandSnapshot) []*CommandSnapshot {
	out := make([]*CommandSnapshot, 0, len(stats))
	for _, s := range stats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRequests != out[j].TotalRequests {
			return out[i].TotalRequests > out[j].TotalRequests
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (c *Console) successRateColor(rate float64) string {
	switch {
	case rate >= 99:
		return c.color(colorGreen)
	case rate >= 95:
		return c.color(colorYellow)
	default:
		return c.color(colorRed)
	}
}

func (c *Console) statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return c.color(colorGreen)
	case code >= 400 && code < 500:
		return c.color(colorYellow)
	default:
		return c.color(colorRed)
	}
}

func formatWeights(weights map[string]int) string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, weights[name]))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// formatLatency formats a duration for display.
func formatLatency(d time.Duration) string {
	if d == 0 {
		return "0ms"
	}
	if d < time.Microsecond {
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fµs", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
