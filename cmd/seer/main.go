// Seer retrieves news from several search providers and ranks it for one
// reader: heuristic scoring, rank fusion, LLM reranking, diversity
// selection and novelty filtering against what the reader already saw.
//
// Usage:
//
//	# Start the HTTP/SSE server
//	seer serve
//
//	# One-off ranking in the terminal
//	seer run -q "AI infrastructure funding" --role CTO --interest "GPU cloud"
//
//	# Serve the MCP tools over stdio
//	seer mcp
//
// Configuration is read from ~/.config/seer/config.yaml and environment
// variables; .env and .env.local in the working directory are loaded first.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// logLevel overrides logging.level when set.
	logLevel string
)

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "seer",
	Short: "Personalised news retrieval and ranking",
	Long: `seer searches Exa and Perplexity for news, then ranks the merged results
for a reader profile: recency, source authority and profile match, reciprocal
rank fusion, an LLM reranker, MMR diversity and novelty against past
deliveries.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/seer/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(os.Stderr, "Received signal %v, shutting down gracefully...\n", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// app holds what every command needs: configuration, logger and telemetry.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

type appOptions struct {
	// unchecked skips credential validation, for commands that never call
	// a provider.
	unchecked bool
	// stderr sends logs to stderr so stdout stays clean for command output
	// or the MCP stdio transport.
	stderr bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	if err := config.LoadEnvFiles(".env", ".env.local"); err != nil {
		return nil, err
	}

	load := config.LoadWithFile
	if opts.unchecked {
		load = config.LoadUnchecked
	}
	cfg, err := load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging, tel.LoggerProvider() != nil)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	if opts.stderr {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	if h := tel.Health(); h.Degraded {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

// close flushes telemetry and the logger. It runs on a fresh context since
// the command context is usually cancelled by then.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
