// Package mcpserver exposes the command gateway as MCP tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"audacity-mcp/internal/domain"
	"audacity-mcp/internal/usecase/gateway"
)

// Gateway is the call surface the tools dispatch to.
type Gateway interface {
	Send(ctx context.Context, command string) gateway.Result
	GetTrackInfo(ctx context.Context) gateway.Result
	ListCommands(ctx context.Context) gateway.Result
	Export(ctx context.Context, relPath string) gateway.Result
	ExportEnabled() bool
}

// SummaryReader exposes aggregated call metrics.
type SummaryReader interface {
	Summary() domain.MetricsSummary
}

// Options configures a Server.
type Options struct {
	Name    string
	Version string
	Gateway Gateway
	Prober  domain.PipeProber
	Metrics SummaryReader
	Logger  *slog.Logger
}

// Server registers the Audacity tools on an MCP server. Gateway calls are
// serialized because every call shares one pipe pair.
type Server struct {
	mcp     *server.MCPServer
	gw      Gateway
	prober  domain.PipeProber
	metrics SummaryReader
	logger  *slog.Logger
	tools   []string

	mu sync.Mutex
}

// Health is the payload of the server_health tool.
type Health struct {
	PipesConnected bool                   `json:"pipes_connected"`
	ExportEnabled  bool                   `json:"export_enabled"`
	Metrics        *domain.MetricsSummary `json:"metrics,omitempty"`
}

// New creates a Server with every tool registered.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		mcp:     server.NewMCPServer(opts.Name, opts.Version, server.WithToolCapabilities(false), server.WithRecovery()),
		gw:      opts.Gateway,
		prober:  opts.Prober,
		metrics: opts.Metrics,
		logger:  logger,
	}
	s.register()
	return s
}

func (s *Server) register() {
	s.add(mcp.NewTool("audacity_command",
		mcp.WithDescription("Send a scripting command to Audacity, for example 'GetInfo: Type=Tracks', "+
			"'SelectAll' or 'Help: Command=Help'. Commands with parameters are limited to a safe set of verbs."),
		mcp.WithString("command", mcp.Required(), mcp.Description("mod-script-pipe command text")),
	), s.handleCommand)

	s.add(mcp.NewTool("get_track_info",
		mcp.WithDescription("Get information about all tracks in the current project."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleTrackInfo)

	s.add(mcp.NewTool("list_available_commands",
		mcp.WithDescription("List all available scripting commands in Audacity."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListCommands)

	s.add(mcp.NewTool("server_health",
		mcp.WithDescription("Report whether Audacity's pipes are present, plus call metrics."),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleHealth)

	if s.gw.ExportEnabled() {
		s.add(mcp.NewTool("export_audio",
			mcp.WithDescription("Export the project mix to a file in the configured export directory. "+
				"The format follows the extension (.wav, .mp3, .ogg, .flac, .aiff, .m4a)."),
			mcp.WithString("filename", mcp.Required(), mcp.Description("file name relative to the export directory")),
		), s.handleExport)
	}
}

func (s *Server) add(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
}

// Tools returns the registered tool names in registration order.
func (s *Server) Tools() []string {
	return append([]string(nil), s.tools...)
}

func (s *Server) handleCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	return s.call(func() gateway.Result { return s.gw.Send(ctx, command) }), nil
}

func (s *Server) handleTrackInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.call(func() gateway.Result { return s.gw.GetTrackInfo(ctx) }), nil
}

func (s *Server) handleListCommands(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.call(func() gateway.Result { return s.gw.ListCommands(ctx) }), nil
}

func (s *Server) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filename, err := req.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError("Error: " + err.Error()), nil
	}
	return s.call(func() gateway.Result { return s.gw.Export(ctx, filename) }), nil
}

func (s *Server) handleHealth(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h := Health{ExportEnabled: s.gw.ExportEnabled()}
	if s.prober != nil {
		h.PipesConnected = s.prober.Connected()
	}
	if s.metrics != nil {
		sum := s.metrics.Summary()
		h.Metrics = &sum
	}
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal health: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) call(fn func() gateway.Result) *mcp.CallToolResult {
	s.mu.Lock()
	res := fn()
	s.mu.Unlock()

	if res.Failed() {
		return mcp.NewToolResultError(res.Text)
	}
	return mcp.NewToolResultText(res.Text)
}

// Serve speaks MCP over in/out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(&slogWriter{logger: s.logger}, "", 0))
	s.logger.Info("mcp server listening on stdio", "tools", s.tools)
	err := stdio.Listen(ctx, in, out)
	if err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("serve stdio: %w", err)
	}
	return nil
}

// slogWriter adapts the stdio server's *log.Logger to slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Error("mcp transport", "detail", string(p))
	return len(p), nil
}
