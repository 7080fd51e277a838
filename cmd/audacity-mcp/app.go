package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"audacity-mcp/internal/adapter/mcpserver"
	"audacity-mcp/internal/adapter/pipe"
	"audacity-mcp/internal/domain"
	"audacity-mcp/internal/infra/config"
	"audacity-mcp/internal/infra/logger"
	"audacity-mcp/internal/infra/tracer"
	"audacity-mcp/internal/security"
	"audacity-mcp/internal/usecase/gateway"
	"audacity-mcp/internal/usecase/metrics"
)

// app holds the wired components for one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	transport *pipe.Transport
	collector *metrics.Collector
	reporter  *metrics.Reporter
	gateway   *gateway.Gateway
	server    *mcpserver.Server

	closers []func() error
}

// newApp loads configuration and wires every component.
func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	return wire(ctx, cfg)
}

func wire(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	wired := false
	defer func() {
		if !wired {
			a.Close()
		}
	}()

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}
	a.logger = log
	a.closers = append(a.closers, closeLog)

	shutdown, err := tracer.Setup(ctx, cfg.Tracer, cfg.Server.Name)
	if err != nil {
		return nil, fmt.Errorf("setup tracer: %w", err)
	}
	a.closers = append(a.closers, func() error { return shutdown(context.Background()) })

	a.transport = pipe.New(pipe.Options{
		Paths:            pipe.Paths{ToApp: cfg.Pipes.ToPath, FromApp: cfg.Pipes.FromPath},
		MaxResponseBytes: cfg.Transport.MaxResponseBytes,
		Logger:           log.With("component", "pipe"),
	})

	a.collector = metrics.NewCollector()
	if cfg.Metrics.SummaryInterval != "" {
		a.reporter, err = metrics.NewReporter(a.collector, cfg.Metrics.SummaryInterval, log.With("component", "metrics"))
		if err != nil {
			return nil, err
		}
	}

	opts := gateway.Options{
		Transport: a.transport,
		Timeout:   cfg.Transport.Timeout,
		Metrics:   a.collector,
		Tracing:   cfg.Tracer.Enabled,
		Logger:    log.With("component", "gateway"),
	}
	if cb := cfg.Resilience.CircuitBreaker; cb.Enabled {
		opts.Breaker = gateway.NewBreaker(gateway.BreakerConfig{
			MaxFailures: cb.MaxFailures,
			Timeout:     cb.Timeout,
			Interval:    cb.Interval,
		}, log)
	}
	if rl := cfg.Resilience.RateLimit; rl.Enabled {
		opts.RateLimit = gateway.NewRateLimitHook(rl.RequestsPerSecond, rl.Burst)
	}
	if cfg.Workspace.ExportDir != "" {
		sb, err := security.NewSandbox(cfg.Workspace.ExportDir)
		if err != nil {
			return nil, fmt.Errorf("export directory: %w", err)
		}
		opts.Exports = sb
	}
	a.gateway = gateway.New(opts)

	a.server = mcpserver.New(mcpserver.Options{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
		Gateway: a.gateway,
		Prober:  a.transport,
		Metrics: a.collector,
		Logger:  log.With("component", "mcp"),
	})

	if a.reporter != nil {
		a.reporter.Start()
	}
	wired = true
	return a, nil
}

// Close stops the reporter and releases the logger and tracer.
func (a *app) Close() error {
	if a.reporter != nil {
		a.reporter.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
