package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"audacity-mcp/internal/infra/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "audacity-mcp",
	Short: "MCP server that drives Audacity through mod-script-pipe",
	Long: `audacity-mcp exposes Audacity's scripting pipe as MCP tools over stdio.

Run without a subcommand to serve. Configuration is read from ./audacity-mcp.yaml
(or --config) and AUDACITYMCP_* environment variables override it.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdin/stdout (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var sendCmd = &cobra.Command{
	Use:   "send COMMAND...",
	Short: "Send one command to Audacity and print the response",
	Example: `  audacity-mcp send GetInfo: Type=Tracks
  audacity-mcp send SelectAll`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on the configuration and Audacity pipes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd.OutOrStdout(), configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(doctorCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.server.Serve(ctx, os.Stdin, os.Stdout)
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), configFile)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.gateway.Send(cmd.Context(), strings.Join(args, " "))
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	if res.Failed() {
		return errCommandFailed
	}
	return nil
}

// errCommandFailed signals a failed send whose message was already printed.
var errCommandFailed = errors.New("command failed")

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		if !errors.Is(err, errCommandFailed) {
			fmt.Fprintf(os.Stderr, "audacity-mcp: %v\n", err)
		}
		os.Exit(1)
	}
}
