package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audacity-mcp/internal/adapter/pipe"
	"audacity-mcp/internal/domain"
	"audacity-mcp/internal/infra/config"
	"audacity-mcp/internal/security"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and writes a report to w.
func runDoctor(w io.Writer, cfgPath string) error {
	// Try to load config; the pipe checks fall back to defaults without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Log output", Fn: checkLogOutput},
		{Name: "Audacity pipes", Fn: checkPipes},
		{Name: "Pipe round trip", Fn: checkRoundTrip},
		{Name: "Export directory", Fn: checkExportDir},
	}

	fmt.Fprintln(w, "audacity-mcp doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check for the config file. A missing file is
// only a warning because the defaults are usable.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix the problems listed above in %s", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkLogOutput(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Status: StatusWarn, Message: "skipped, config did not load"}
	}
	out := cfg.Logger.Output
	if out == "stderr" || out == "" {
		return CheckResult{Status: StatusPass, Message: "logging to stderr"}
	}
	dir := filepath.Dir(out)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s will be created on start", dir)}
	case err != nil:
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot stat %s: %v", dir, err)}
	case !info.IsDir():
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not a directory", dir),
			Fix:     "Point logger.output at a file inside a writable directory",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("logging to %s", out)}
}

func transportFor(cfg *config.Config) *pipe.Transport {
	opts := pipe.Options{}
	if cfg != nil {
		opts.Paths = pipe.Paths{ToApp: cfg.Pipes.ToPath, FromApp: cfg.Pipes.FromPath}
		opts.MaxResponseBytes = cfg.Transport.MaxResponseBytes
	}
	return pipe.New(opts)
}

func checkPipes(cfg *config.Config) CheckResult {
	tr := transportFor(cfg)
	paths := tr.Paths()
	if !tr.Connected() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("pipes not found (%s, %s)", paths.ToApp, paths.FromApp),
			Fix:     "Start Audacity and enable mod-script-pipe under Preferences > Modules, then restart Audacity",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("found %s and %s", paths.ToApp, paths.FromApp)}
}

// checkRoundTrip sends a harmless query when the pipes exist.
func checkRoundTrip(cfg *config.Config) CheckResult {
	tr := transportFor(cfg)
	if !tr.Connected() {
		return CheckResult{Status: StatusWarn, Message: "skipped, pipes not found"}
	}
	timeout := domain.DefaultExchangeTimeout
	if cfg != nil {
		timeout = cfg.Transport.Timeout
	}

	start := time.Now()
	_, err := tr.Exchange(context.Background(), domain.CommandTrackInfo, timeout)
	switch {
	case err == nil:
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("Audacity answered in %s", time.Since(start).Round(time.Millisecond))}
	case errors.Is(err, domain.ErrTimeout):
		return CheckResult{
			Status:  StatusFail,
			Message: "no response before the timeout",
			Fix:     "Close any modal dialog in Audacity, or raise transport.timeout",
		}
	default:
		return CheckResult{Status: StatusFail, Message: security.RedactPaths(err.Error())}
	}
}

func checkExportDir(cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Workspace.ExportDir == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "exports disabled",
			Fix:     "Set workspace.export_dir to enable the export_audio tool",
		}
	}
	sb, err := security.NewSandbox(cfg.Workspace.ExportDir)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Create the directory or correct workspace.export_dir",
		}
	}
	if !security.IsBareValue(sb.Root()) {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s contains characters Export2 cannot carry", sb.Root()),
			Fix:     "Use a directory path without spaces, quotes or semicolons",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("exporting into %s", sb.Root())}
}
