package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
	"github.com/fyrsmithlabs/seer/internal/ranking"
)

// Pipeline is what the tools call. *pipeline.Orchestrator implements it.
type Pipeline interface {
	Run(ctx context.Context, profile ranking.UserProfile, plan pipeline.QueryPlan, opts ...pipeline.RunOption) (*pipeline.Result, error)
	Explain(item pipeline.ExplainItem, profile ranking.UserProfile) (pipeline.Explanation, error)
}

// Server is an MCP server backed by the retrieval pipeline.
type Server struct {
	mcp      *mcp.Server
	pipeline Pipeline
	metrics  *toolMetrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "seer")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "seer",
		Version: "dev",
		Logger:  logging.NewNop(),
	}
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(cfg *Config, p Pipeline) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}

	metrics, err := newToolMetrics(otel.Meter(instrumentationName))
	if err != nil {
		cfg.Logger.Warn(context.Background(), "mcp metrics unavailable", zap.Error(err))
		metrics, _ = newToolMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		pipeline: p,
		metrics:  metrics,
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server, for custom transports.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves on the stdio transport until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
