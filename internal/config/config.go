// ABOUTME: Configuration loading and parsing for the carekeeper companion
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete companion configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" toml:"backend"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Monitor  MonitorConfig  `yaml:"monitor" toml:"monitor"`
	Panic    PanicConfig    `yaml:"panic" toml:"panic"`
	Control  ControlConfig  `yaml:"control" toml:"control"`
	Sensors  SensorsConfig  `yaml:"sensors" toml:"sensors"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// BackendConfig holds the monitoring service location
type BackendConfig struct {
	URL     string        `yaml:"url" toml:"url"`
	Timeout time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// MonitorConfig controls the telemetry upload loop
type MonitorConfig struct {
	UploadInterval           time.Duration `yaml:"-" toml:"-"`
	SendTimeout              time.Duration `yaml:"-" toml:"-"`
	MaxInFlight              int           `yaml:"max_in_flight" toml:"max_in_flight"`
	InvalidateOnUnauthorized bool          `yaml:"invalidate_on_unauthorized" toml:"invalidate_on_unauthorized"`

	// Raw string values for unmarshaling
	UploadIntervalRaw string `yaml:"upload_interval" toml:"upload_interval"`
	SendTimeoutRaw    string `yaml:"send_timeout" toml:"send_timeout"`
}

// PanicConfig controls the hold-to-confirm trigger
type PanicConfig struct {
	// HoldDuration seeds the user setting on first run only.
	HoldDuration    time.Duration `yaml:"-" toml:"-"`
	ProgressStep    time.Duration `yaml:"-" toml:"-"`
	DispatchTimeout time.Duration `yaml:"-" toml:"-"`

	HoldDurationRaw    string `yaml:"hold_duration" toml:"hold_duration"`
	ProgressStepRaw    string `yaml:"progress_step" toml:"progress_step"`
	DispatchTimeoutRaw string `yaml:"dispatch_timeout" toml:"dispatch_timeout"`
}

// ControlConfig holds the local control API address
type ControlConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// SensorsConfig selects where readings come from
type SensorsConfig struct {
	Source          string  `yaml:"source" toml:"source"` // "simulated" or "passive"
	OriginLatitude  float64 `yaml:"origin_latitude" toml:"origin_latitude"`
	OriginLongitude float64 `yaml:"origin_longitude" toml:"origin_longitude"`
	// DenyLocation starts with location permission withheld until granted
	// through the control API.
	DenyLocation bool `yaml:"deny_location" toml:"deny_location"`

	MotionInterval   time.Duration `yaml:"-" toml:"-"`
	LocationInterval time.Duration `yaml:"-" toml:"-"`

	MotionIntervalRaw   string `yaml:"motion_interval" toml:"motion_interval"`
	LocationIntervalRaw string `yaml:"location_interval" toml:"location_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds OTLP metrics export configuration
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	Endpoint string        `yaml:"endpoint" toml:"endpoint"`
	Interval time.Duration `yaml:"-" toml:"-"`

	IntervalRaw string `yaml:"interval" toml:"interval"`
}

// Sensor sources
const (
	SourceSimulated = "simulated"
	SourcePassive   = "passive"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Backend:  BackendConfig{URL: "http://localhost:8080"},
		Database: DatabaseConfig{Path: "carekeeper.db"},
		Sensors: SensorsConfig{
			OriginLatitude:  -23.5505,
			OriginLongitude: -46.6333,
		},
	}
	applyDefaults(cfg)
	// Defaults are well-formed; parse errors are impossible here.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// YAML renders cfg as a document suitable for Load.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Backend.TimeoutRaw == "" {
		cfg.Backend.TimeoutRaw = "10s"
	}
	if cfg.Monitor.UploadIntervalRaw == "" {
		cfg.Monitor.UploadIntervalRaw = "1s"
	}
	if cfg.Monitor.SendTimeoutRaw == "" {
		cfg.Monitor.SendTimeoutRaw = "10s"
	}
	if cfg.Monitor.MaxInFlight == 0 {
		cfg.Monitor.MaxInFlight = 1
	}
	if cfg.Panic.HoldDurationRaw == "" {
		cfg.Panic.HoldDurationRaw = "3s"
	}
	if cfg.Panic.ProgressStepRaw == "" {
		cfg.Panic.ProgressStepRaw = "50ms"
	}
	if cfg.Panic.DispatchTimeoutRaw == "" {
		cfg.Panic.DispatchTimeoutRaw = "30s"
	}
	if cfg.Control.Addr == "" {
		cfg.Control.Addr = "127.0.0.1:9090"
	}
	if cfg.Sensors.Source == "" {
		cfg.Sensors.Source = SourceSimulated
	}
	if cfg.Sensors.MotionIntervalRaw == "" {
		cfg.Sensors.MotionIntervalRaw = "200ms"
	}
	if cfg.Sensors.LocationIntervalRaw == "" {
		cfg.Sensors.LocationIntervalRaw = "5s"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metrics.IntervalRaw == "" {
		cfg.Metrics.IntervalRaw = "30s"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https, got %q", u.Scheme)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Monitor.UploadInterval <= 0 {
		return fmt.Errorf("monitor.upload_interval must be positive")
	}
	if c.Monitor.MaxInFlight < 1 {
		return fmt.Errorf("monitor.max_in_flight must be at least 1")
	}

	if c.Panic.HoldDuration < time.Second {
		return fmt.Errorf("panic.hold_duration must be at least 1s")
	}
	if c.Panic.ProgressStep <= 0 || c.Panic.ProgressStep > c.Panic.HoldDuration {
		return fmt.Errorf("panic.progress_step must be positive and no longer than panic.hold_duration")
	}

	switch c.Sensors.Source {
	case SourceSimulated, SourcePassive:
	default:
		return fmt.Errorf("sensors.source must be %q or %q, got %q", SourceSimulated, SourcePassive, c.Sensors.Source)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics.endpoint is required when metrics are enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"monitor.upload_interval", cfg.Monitor.UploadIntervalRaw, &cfg.Monitor.UploadInterval},
		{"monitor.send_timeout", cfg.Monitor.SendTimeoutRaw, &cfg.Monitor.SendTimeout},
		{"panic.hold_duration", cfg.Panic.HoldDurationRaw, &cfg.Panic.HoldDuration},
		{"panic.progress_step", cfg.Panic.ProgressStepRaw, &cfg.Panic.ProgressStep},
		{"panic.dispatch_timeout", cfg.Panic.DispatchTimeoutRaw, &cfg.Panic.DispatchTimeout},
		{"sensors.motion_interval", cfg.Sensors.MotionIntervalRaw, &cfg.Sensors.MotionInterval},
		{"sensors.location_interval", cfg.Sensors.LocationIntervalRaw, &cfg.Sensors.LocationInterval},
		{"metrics.interval", cfg.Metrics.IntervalRaw, &cfg.Metrics.Interval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
