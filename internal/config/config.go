// Package config provides configuration structures for the load generator.
// The main Config struct ties together all loadgen components.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/example/stickyapp/tools/loadgen/internal/logger"
	"gopkg.in/yaml.v3"
)

// Errors returned by the config package.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("config: invalid configuration")
	// ErrConfigNotFound is returned when the config file is not found.
	ErrConfigNotFound = errors.New("config: configuration file not found")
)

// Config is the root configuration structure for the load generator.
type Config struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name" json:"name"`

	// Description provides additional context about the configuration.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Target describes the stickyapp deployment under test.
	Target TargetConfig `yaml:"target" json:"target"`

	// Users is the number of simulated users to spawn.
	// Default: 1
	Users int `yaml:"users,omitempty" json:"users,omitempty"`

	// SpawnRate is how many users are started per second.
	// Default: 1
	SpawnRate float64 `yaml:"spawnRate,omitempty" json:"spawnRate,omitempty"`

	// Duration is the total duration of the load test.
	// Default: 10m
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`

	// StopTimeout bounds each user's shutdown work once the run ends.
	// Default: 30s
	StopTimeout time.Duration `yaml:"stopTimeout,omitempty" json:"stopTimeout,omitempty"`

	// Wait is the pause between two tasks of one user.
	Wait WaitConfig `yaml:"wait,omitempty" json:"wait,omitempty"`

	// Tasks holds the relative task weights.
	Tasks TaskWeights `yaml:"tasks,omitempty" json:"tasks,omitempty"`

	// EncryptValues bounds the values sent with the encrypt command.
	EncryptValues ValueRange `yaml:"encryptValues,omitempty" json:"encryptValues,omitempty"`

	// Session configures session creation.
	Session SessionConfig `yaml:"session,omitempty" json:"session,omitempty"`

	// Encryption holds the parameters sent when a session is created.
	Encryption EncryptionConfig `yaml:"encryption,omitempty" json:"encryption,omitempty"`

	// Log configures logging.
	Log logger.Config `yaml:"log,omitempty" json:"log,omitempty"`

	// Output configures output and reporting.
	Output OutputConfig `yaml:"output,omitempty" json:"output,omitempty"`
}

// TargetConfig holds target system configuration.
type TargetConfig struct {
	// BaseURL is the address requests are sent to (e.g., "http://localhost:8080").
	BaseURL string `yaml:"baseURL" json:"baseURL"`

	// VirtualHost is sent as the Host header. Empty means the host of BaseURL.
	VirtualHost string `yaml:"virtualHost,omitempty" json:"virtualHost,omitempty"`

	// PodPort is the port paired with the session location in the
	// x-envoy-original-dst-host routing header.
	// Default: 8080
	PodPort int `yaml:"podPort,omitempty" json:"podPort,omitempty"`

	// RequestTimeout is the declared per-request timeout.
	// Default: 100s
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty" json:"requestTimeout,omitempty"`

	// ApplyRequestTimeout enforces RequestTimeout on every request.
	// Off by default: requests are bounded only by the run context.
	ApplyRequestTimeout bool `yaml:"applyRequestTimeout,omitempty" json:"applyRequestTimeout,omitempty"`

	// TLSSkipVerify skips TLS certificate verification (for testing only).
	TLSSkipVerify bool `yaml:"tlsSkipVerify,omitempty" json:"tlsSkipVerify,omitempty"`

	// Headers are additional headers to include in all requests.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// WaitConfig is a uniform wait-time range.
type WaitConfig struct {
	// Min is the shortest pause. Default: 1s
	Min time.Duration `yaml:"min,omitempty" json:"min,omitempty"`
	// Max is the longest pause. Default: 3s
	Max time.Duration `yaml:"max,omitempty" json:"max,omitempty"`
}

// TaskWeights are the relative frequencies of the session tasks.
type TaskWeights struct {
	// Encrypt weight. Default: 10
	Encrypt *int `yaml:"encrypt,omitempty" json:"encrypt,omitempty"`
	// Mean weight. Default: 1
	Mean *int `yaml:"mean,omitempty" json:"mean,omitempty"`
}

// EncryptWeight returns the encrypt weight with its default applied.
func (w TaskWeights) EncryptWeight() int {
	if w.Encrypt == nil {
		return 10
	}
	return *w.Encrypt
}

// MeanWeight returns the mean weight with its default applied.
func (w TaskWeights) MeanWeight() int {
	if w.Mean == nil {
		return 1
	}
	return *w.Mean
}

// ValueRange is a half-open integer range [Min, Max).
type ValueRange struct {
	Min int `yaml:"min,omitempty" json:"min,omitempty"`
	Max int `yaml:"max,omitempty" json:"max,omitempty"`
}

// SessionConfig configures session creation.
type SessionConfig struct {
	// Encrypted requests an encrypted session. Default: true
	Encrypted *bool `yaml:"encrypted,omitempty" json:"encrypted,omitempty"`
}

// IsEncrypted reports whether encrypted sessions are requested.
func (s SessionConfig) IsEncrypted() bool {
	return s.Encrypted == nil || *s.Encrypted
}

// EncryptionConfig holds the session encryption parameters.
type EncryptionConfig struct {
	EncoderMin           *float64 `yaml:"encoderMin,omitempty" json:"encoderMin,omitempty"`
	EncoderMax           *float64 `yaml:"encoderMax,omitempty" json:"encoderMax,omitempty"`
	EncoderPrecisionBits int      `yaml:"encoderPrecisionBits,omitempty" json:"encoderPrecisionBits,omitempty"`
	EncoderPaddingBits   int      `yaml:"encoderPaddingBits,omitempty" json:"encoderPaddingBits,omitempty"`
	SecretKeyDimensions  int      `yaml:"secretKeyDimensions,omitempty" json:"secretKeyDimensions,omitempty"`
	SecretKeyLog2StdDev  int      `yaml:"secretKeyLog2StdDev,omitempty" json:"secretKeyLog2StdDev,omitempty"`
}

// OutputConfig configures output and reporting.
type OutputConfig struct {
	// OnlySummary suppresses periodic progress lines.
	OnlySummary bool `yaml:"onlySummary,omitempty" json:"onlySummary,omitempty"`

	// ReportInterval is how often to print progress reports.
	// Default: 5s
	ReportInterval time.Duration `yaml:"reportInterval,omitempty" json:"reportInterval,omitempty"`

	// ReportFile is where the JSON report is written. Supports
	// {{.Timestamp}} and {{.Date}}. Empty disables the report.
	ReportFile string `yaml:"reportFile,omitempty" json:"reportFile,omitempty"`

	// Colors enables ANSI colors in the final report.
	Colors bool `yaml:"colors,omitempty" json:"colors,omitempty"`

	// Prometheus configures the metrics endpoint.
	Prometheus PrometheusConfig `yaml:"prometheus,omitempty" json:"prometheus,omitempty"`
}

// PrometheusConfig configures the Prometheus exporter.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Port    int    `yaml:"port,omitempty" json:"port,omitempty"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Default returns a configuration equivalent to the stickyapp-rust profile.
func Default() *Config {
	cfg := &Config{
		Name: "stickyapp-rust",
		Target: TargetConfig{
			BaseURL:     "http://localhost:8080",
			VirtualHost: "stickyapp-rust.10.0.2.15.sslip.io",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}

	if c.Target.BaseURL == "" {
		return fmt.Errorf("%w: target.baseURL is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Target.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: target.baseURL %q is not an absolute URL", ErrInvalidConfig, c.Target.BaseURL)
	}
	if c.Target.PodPort <= 0 || c.Target.PodPort > 65535 {
		return fmt.Errorf("%w: target.podPort must be within 1-65535", ErrInvalidConfig)
	}

	if c.Users < 1 {
		return fmt.Errorf("%w: users must be at least 1", ErrInvalidConfig)
	}
	if c.SpawnRate <= 0 {
		return fmt.Errorf("%w: spawnRate must be positive", ErrInvalidConfig)
	}
	if c.Duration < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalidConfig)
	}

	if c.Wait.Min < 0 || c.Wait.Max < c.Wait.Min {
		return fmt.Errorf("%w: wait range [%v, %v] is invalid", ErrInvalidConfig, c.Wait.Min, c.Wait.Max)
	}

	if c.Tasks.EncryptWeight() < 0 || c.Tasks.MeanWeight() < 0 {
		return fmt.Errorf("%w: task weights must not be negative", ErrInvalidConfig)
	}
	if c.Tasks.EncryptWeight()+c.Tasks.MeanWeight() == 0 {
		return fmt.Errorf("%w: at least one task needs a positive weight", ErrInvalidConfig)
	}

	if c.EncryptValues.Max <= c.EncryptValues.Min {
		return fmt.Errorf("%w: encryptValues range [%d, %d) is empty", ErrInvalidConfig, c.EncryptValues.Min, c.EncryptValues.Max)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: log: %v", ErrInvalidConfig, err)
	}

	if c.Output.Prometheus.Enabled && (c.Output.Prometheus.Port <= 0 || c.Output.Prometheus.Port > 65535) {
		return fmt.Errorf("%w: output.prometheus.port must be within 1-65535", ErrInvalidConfig)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Target.PodPort == 0 {
		c.Target.PodPort = 8080
	}
	if c.Target.RequestTimeout == 0 {
		c.Target.RequestTimeout = 100 * time.Second
	}

	if c.Users == 0 {
		c.Users = 1
	}
	if c.SpawnRate == 0 {
		c.SpawnRate = 1
	}
	if c.Duration == 0 {
		c.Duration = 10 * time.Minute
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 30 * time.Second
	}

	if c.Wait.Min == 0 && c.Wait.Max == 0 {
		c.Wait.Min = 1 * time.Second
		c.Wait.Max = 3 * time.Second
	}

	if c.EncryptValues.Min == 0 && c.EncryptValues.Max == 0 {
		c.EncryptValues.Min = 10
		c.EncryptValues.Max = 90
	}

	if c.Encryption.EncoderMin == nil {
		v := 0.0
		c.Encryption.EncoderMin = &v
	}
	if c.Encryption.EncoderMax == nil {
		v := 99.0
		c.Encryption.EncoderMax = &v
	}
	if c.Encryption.EncoderPrecisionBits == 0 {
		c.Encryption.EncoderPrecisionBits = 16
	}
	if c.Encryption.EncoderPaddingBits == 0 {
		c.Encryption.EncoderPaddingBits = 6
	}
	if c.Encryption.SecretKeyDimensions == 0 {
		c.Encryption.SecretKeyDimensions = 1024
	}
	if c.Encryption.SecretKeyLog2StdDev == 0 {
		c.Encryption.SecretKeyLog2StdDev = -40
	}

	c.Log.ApplyDefaults()

	if c.Output.ReportInterval == 0 {
		c.Output.ReportInterval = 5 * time.Second
	}
	if c.Output.Prometheus.Port == 0 {
		c.Output.Prometheus.Port = 9090
	}
	if c.Output.Prometheus.Path == "" {
		c.Output.Prometheus.Path = "/metrics"
	}
}

// HostHeader returns the value sent as the HTTP Host header.
func (t TargetConfig) HostHeader() string {
	if t.VirtualHost != "" {
		return t.VirtualHost
	}
	if u, err := url.Parse(t.BaseURL); err == nil {
		return u.Host
	}
	return ""
}
