package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/seer/internal/http"
	"github.com/fyrsmithlabs/seer/internal/jobs"
	"github.com/fyrsmithlabs/seer/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP/SSE server",
	Long: `Start the seer HTTP server.

Endpoints:
  GET  /health                    liveness and configured providers
  GET  /metrics                   Prometheus metrics
  POST /api/v1/retrieve           run the pipeline and wait for the ranking
  POST /api/v1/jobs               start a run in the background
  GET  /api/v1/jobs/{id}          job state and result
  GET  /api/v1/jobs/{id}/stream   progress as Server-Sent Events
  POST /api/v1/deliveries         record what was shown to a user

When nats.url is set, job progress is also published to
{nats.subject_prefix}.{user_id}.{job_id}.{event}.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	a.logger.Info(ctx, "starting seer",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	orch, err := pipeline.Build(ctx, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() {
		if err := orch.Close(); err != nil {
			a.logger.Warn(context.Background(), "pipeline close failed", zap.Error(err))
		}
	}()

	nc, err := connectNATS(ctx, cfg.NATS.URL, a)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
	}

	registry, err := jobs.New(jobs.Options{
		Size:          cfg.Server.JobCacheSize,
		Conn:          nc,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
		Logger:        a.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create job registry: %w", err)
	}

	srv, err := httpserver.NewServer(orch, orch.Store(), registry, a.logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	return serveUntilDone(ctx, srv, cfg.Server.ShutdownTimeout.Duration(), a)
}

// connectNATS returns nil without error when url is empty.
func connectNATS(ctx context.Context, url string, a *app) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("seer"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	a.logger.Info(ctx, "connected to NATS", zap.String("url", url))
	return nc, nil
}

type server interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serveUntilDone starts srv and shuts it down once ctx is cancelled,
// giving running jobs up to timeout to finish.
func serveUntilDone(ctx context.Context, srv server, timeout time.Duration, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	a.logger.Info(shutdownCtx, "seer stopped")
	return nil
}
