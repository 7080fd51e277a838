package config

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validatePipes(cfg, ve)
	validateTransport(cfg, ve)
	validateWorkspace(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateResilience(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if strings.TrimSpace(cfg.Server.Name) == "" {
		ve.Add("server.name is required")
	}
}

func validatePipes(cfg *Config, ve *ValidationError) {
	p := cfg.Pipes
	if (p.ToPath == "") != (p.FromPath == "") {
		ve.Add("pipes.to_path and pipes.from_path must be set together")
	}
	if p.ToPath != "" && p.ToPath == p.FromPath {
		ve.Add("pipes.to_path and pipes.from_path must differ")
	}
}

func validateTransport(cfg *Config, ve *ValidationError) {
	t := cfg.Transport
	if t.Timeout <= 0 {
		ve.Add("transport.timeout must be > 0")
	} else if t.Timeout < 10*time.Millisecond {
		ve.Add("transport.timeout %s is too short (minimum 10ms)", t.Timeout)
	}
	if t.MaxResponseBytes <= 0 {
		ve.Add("transport.max_response_bytes must be > 0")
	}
}

// Export paths are sent unquoted, so the directory must survive that.
func validateWorkspace(cfg *Config, ve *ValidationError) {
	dir := cfg.Workspace.ExportDir
	if dir != "" && strings.ContainsFunc(dir, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(";\"'", r)
	}) {
		ve.Add("workspace.export_dir may not contain whitespace, quotes or semicolons")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	l := cfg.Logger
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is invalid (want debug, info, warn or error)", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", l.Format)
	}
	switch strings.TrimSpace(l.Output) {
	case "":
		ve.Add("logger.output is required")
	case "stdout":
		ve.Add("logger.output cannot be stdout: stdout carries the MCP protocol")
	}
	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		ve.Add("logger rotation limits must be >= 0")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	t := cfg.Tracer
	if !t.Enabled {
		return
	}
	switch t.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is unsupported (want stdout or noop)", t.Exporter)
	}
	if math.IsNaN(t.SampleRatio) || t.SampleRatio < 0 || t.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}

func validateResilience(cfg *Config, ve *ValidationError) {
	cb := cfg.Resilience.CircuitBreaker
	if cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("resilience.circuit_breaker.max_failures must be > 0")
		}
		if cb.Timeout <= 0 {
			ve.Add("resilience.circuit_breaker.timeout must be > 0")
		}
		if cb.Interval < 0 {
			ve.Add("resilience.circuit_breaker.interval must be >= 0")
		}
	}
	rl := cfg.Resilience.RateLimit
	if rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			ve.Add("resilience.rate_limit.requests_per_second must be > 0")
		}
		if rl.Burst <= 0 {
			ve.Add("resilience.rate_limit.burst must be > 0")
		}
	}
}
