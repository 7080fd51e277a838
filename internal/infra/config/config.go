// Package config loads the server configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file when --config is not given.
const DefaultPath = "audacity-mcp.yaml"

// envPrefix namespaces every environment override.
const envPrefix = "AUDACITYMCP_"

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pipes      PipesConfig      `yaml:"pipes"`
	Transport  TransportConfig  `yaml:"transport"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig identifies the MCP server to its clients.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// PipesConfig overrides the mod-script-pipe endpoints. Empty values select
// the platform defaults.
type PipesConfig struct {
	ToPath   string `yaml:"to_path"`
	FromPath string `yaml:"from_path"`
}

// TransportConfig bounds a single exchange.
type TransportConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int           `yaml:"max_response_bytes"`
}

// WorkspaceConfig holds filesystem settings. ExportDir empty disables exports.
type WorkspaceConfig struct {
	ExportDir string `yaml:"export_dir"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // "stderr" or a file path

	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ResilienceConfig groups the gateway's protective hooks.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig trips the breaker after consecutive transport failures.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"` // open -> half-open
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig caps commands per second with a token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// MetricsConfig controls the periodic summary log line.
type MetricsConfig struct {
	SummaryInterval string `yaml:"summary_interval"` // cron expression or duration; empty disables
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "audacity-mcp",
			Version: "0.1.0",
		},
		Transport: TransportConfig{
			Timeout:          5000 * time.Millisecond,
			MaxResponseBytes: 1 << 20,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 20,
				Burst:             5,
			},
		},
		Metrics: MetricsConfig{
			SummaryInterval: "5m",
		},
	}
}

// Load reads a YAML config file, applies env var overrides and validates the
// result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
		if err := validatePermissions(absPath); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps AUDACITYMCP_* env vars to config fields. Values that
// fail to parse are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := getenv("PIPES_TO_PATH"); v != "" {
		cfg.Pipes.ToPath = v
	}
	if v := getenv("PIPES_FROM_PATH"); v != "" {
		cfg.Pipes.FromPath = v
	}
	if v := getenv("TRANSPORT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Transport.Timeout = d
		}
	}
	if v := getenv("TRANSPORT_MAX_RESPONSE_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.MaxResponseBytes = n
		}
	}
	if v := getenv("WORKSPACE_EXPORT_DIR"); v != "" {
		cfg.Workspace.ExportDir = v
	}
	if v := getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := getenv("LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := getenv("LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := getenv("TRACER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracer.Enabled = b
		}
	}
	if v := getenv("TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := getenv("CIRCUIT_BREAKER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Resilience.CircuitBreaker.Enabled = b
		}
	}
	if v := getenv("RATE_LIMIT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Resilience.RateLimit.Enabled = b
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "METRICS_SUMMARY_INTERVAL"); ok {
		cfg.Metrics.SummaryInterval = v
	}
}

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
