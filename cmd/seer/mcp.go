package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/mcp"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	Long: `Serve seer as an MCP server over stdio.

Tools:
  retrieve_news   search, rank and filter news for a profile
  explain_score   break down the heuristic score of one article

Logs go to stderr; stdout carries the protocol.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{stderr: true})
	if err != nil {
		return err
	}
	defer a.close()

	orch, err := pipeline.Build(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := orch.Close(); err != nil {
			a.logger.Warn(context.Background(), "pipeline close failed", zap.Error(err))
		}
	}()

	server, err := mcp.NewServer(&mcp.Config{
		Name:    "seer",
		Version: version,
		Logger:  a.logger,
	}, orch)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	a.logger.Info(ctx, "serving MCP over stdio")
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}
