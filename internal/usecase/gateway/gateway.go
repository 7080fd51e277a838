// Package gateway turns a command string into a single validated exchange
// with Audacity and shapes every outcome into readable text.
//
// Each call runs through a fixed hook pipeline, outermost first:
// metrics, tracing, validation, rate limit, circuit breaker, transport.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"audacity-mcp/internal/domain"
	"audacity-mcp/internal/security"
)

// ErrorPrefix starts the text of every failed Result.
const ErrorPrefix = "Error"

// exportExtensions are the formats Export2 infers from the file name.
var exportExtensions = []string{".wav", ".mp3", ".ogg", ".flac", ".aiff", ".m4a"}

// Result is the outcome of one gateway call. On failure Text holds the
// caller-visible message and Err the typed cause.
type Result struct {
	Text string
	Err  error
}

// Failed reports whether the call failed. A response whose text starts with
// ErrorPrefix counts as a failure even without an error.
func (r Result) Failed() bool {
	return r.Err != nil || strings.HasPrefix(r.Text, ErrorPrefix)
}

// Handler performs one step of a call.
type Handler func(ctx context.Context, command string) (string, error)

// Hook wraps a Handler with cross-cutting behavior.
type Hook func(next Handler) Handler

// Options configures a Gateway. Only Transport is required.
type Options struct {
	Transport domain.Transport
	Timeout   time.Duration
	Metrics   domain.MetricsRecorder
	Tracing   bool
	RateLimit Hook
	Breaker   *Breaker
	Exports   *security.Sandbox // nil disables Export
	Logger    *slog.Logger
}

// Gateway composes validation and transport into one synchronous call.
// It holds no per-call state; callers serialize calls against one pipe pair.
type Gateway struct {
	transport domain.Transport
	timeout   time.Duration
	outer     []Hook // ahead of validation
	inner     []Hook // between validation and transport
	exports   *security.Sandbox
	logger    *slog.Logger
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		transport: opts.Transport,
		timeout:   opts.Timeout,
		exports:   opts.Exports,
		logger:    opts.Logger,
	}
	if g.timeout <= 0 {
		g.timeout = domain.DefaultExchangeTimeout
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics != nil {
		g.outer = append(g.outer, MetricsHook(opts.Metrics))
	}
	if opts.Tracing {
		g.outer = append(g.outer, TracingHook())
	}
	if opts.RateLimit != nil {
		g.inner = append(g.inner, opts.RateLimit)
	}
	if opts.Breaker != nil {
		g.inner = append(g.inner, opts.Breaker.Hook())
	}
	return g
}

// Send validates command against the safety policy and forwards it.
func (g *Gateway) Send(ctx context.Context, command string) Result {
	return g.run(ctx, command, security.Check)
}

// GetTrackInfo returns metadata for every track in the open project.
func (g *Gateway) GetTrackInfo(ctx context.Context) Result {
	return g.Send(ctx, domain.CommandTrackInfo)
}

// ListCommands returns Audacity's scripting command reference.
func (g *Gateway) ListCommands(ctx context.Context) Result {
	return g.Send(ctx, domain.CommandListCommands)
}

// ExportEnabled reports whether an export directory is configured.
func (g *Gateway) ExportEnabled() bool { return g.exports != nil }

// Export writes the project mix to relPath inside the export directory.
// Export2 is never on the allowlist, so only the grammar applies to the
// command built here.
func (g *Gateway) Export(ctx context.Context, relPath string) Result {
	command, prepErr := g.exportCommand(relPath)
	return g.run(ctx, command, func(cmd string) error {
		if prepErr != nil {
			return prepErr
		}
		return security.CheckGrammar(cmd)
	})
}

func (g *Gateway) exportCommand(relPath string) (string, error) {
	const verb = "Export2"
	if g.exports == nil {
		return verb, domain.NewDomainError("Gateway.Export", domain.ErrExportDisabled, "no export directory configured")
	}
	if strings.ContainsFunc(relPath, unicode.IsSpace) {
		return verb, domain.NewDomainError("Gateway.Export", domain.ErrInvalidCommand, "file name may not contain whitespace")
	}
	if ext := strings.ToLower(filepath.Ext(relPath)); !slices.Contains(exportExtensions, ext) {
		return verb, domain.NewDomainError("Gateway.Export", domain.ErrInvalidCommand,
			fmt.Sprintf("unsupported export format %q", ext))
	}
	path, err := g.exports.Confine(relPath)
	if err != nil {
		return verb, err
	}
	// The resolved root can itself carry a space, e.g. via a symlink.
	if !security.IsBareValue(path) {
		return verb, domain.NewDomainError("Gateway.Export", domain.ErrPathOutsideSandbox,
			"export path cannot be sent unquoted")
	}
	return verb + ": Filename=" + path, nil
}

func (g *Gateway) run(ctx context.Context, command string, check func(string) error) Result {
	hooks := make([]Hook, 0, len(g.outer)+1+len(g.inner))
	hooks = append(hooks, g.outer...)
	hooks = append(hooks, ValidationHook(check))
	hooks = append(hooks, g.inner...)

	text, err := Chain(g.exchange, hooks...)(ctx, command)
	if err != nil {
		g.logger.Warn("command failed",
			"verb", security.ParseVerb(command),
			"error_code", string(domain.ErrorCodeOf(err)),
			"error", security.RedactPaths(err.Error()))
		return Result{Text: errorText(err), Err: err}
	}
	return Result{Text: text}
}

func (g *Gateway) exchange(ctx context.Context, command string) (string, error) {
	g.logger.Info("sending command", "command", security.RedactPaths(command))
	return g.transport.Exchange(ctx, command, g.timeout)
}

// Chain wraps h with hooks so that hooks[0] runs first.
func Chain(h Handler, hooks ...Hook) Handler {
	for i := len(hooks) - 1; i >= 0; i-- {
		h = hooks[i](h)
	}
	return h
}
