package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seer/internal/config"
	"github.com/fyrsmithlabs/seer/internal/delivery"
	"github.com/fyrsmithlabs/seer/internal/embeddings"
	"github.com/fyrsmithlabs/seer/internal/llm"
	"github.com/fyrsmithlabs/seer/internal/logging"
	"github.com/fyrsmithlabs/seer/internal/ranking"
	"github.com/fyrsmithlabs/seer/internal/reranker"
	"github.com/fyrsmithlabs/seer/internal/search"
)

// BuildScorer creates the heuristic scorer and, when ranking.authority_file
// is set, a watcher that reloads the authority overrides on change. The
// watcher is nil otherwise; the caller starts and stops it.
func BuildScorer(cfg *config.Config, logger *logging.Logger) (*ranking.Scorer, *ranking.AuthorityWatcher, error) {
	table := ranking.NewAuthorityTable(cfg.Ranking.AuthorityDefault)

	var watcher *ranking.AuthorityWatcher
	if path := cfg.Ranking.AuthorityFile; path != "" {
		expanded, err := config.ExpandHome(path)
		if err != nil {
			return nil, nil, err
		}
		watcher, err = ranking.NewAuthorityWatcher(table, expanded, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: authority file: %v", config.ErrFatalConfiguration, err)
		}
	}

	scorer, err := ranking.ScorerFromConfig(cfg.Ranking, table, time.Now)
	if err != nil {
		if watcher != nil {
			watcher.Stop()
		}
		return nil, nil, fmt.Errorf("%w: %v", config.ErrFatalConfiguration, err)
	}
	return scorer, watcher, nil
}

// Build wires an Orchestrator from configuration: search adapters, the
// heuristic scorer, the reranker with its LLM client, the embedding
// provider and the delivery store. Close on the returned Orchestrator
// releases all of them.
func Build(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	var closers []func() error
	fail := func(err error) (*Orchestrator, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	providers, err := search.FromConfig(cfg)
	if err != nil {
		return fail(err)
	}
	for _, p := range []struct {
		name string
		cfg  config.ProviderConfig
	}{{"exa", cfg.Exa}, {"perplexity", cfg.Perplexity}} {
		if p.cfg.Enabled() {
			logger.Debug(ctx, "search provider enabled",
				zap.String("provider", p.name),
				zap.String("base_url", p.cfg.BaseURL),
				logging.Secret("key", p.cfg.APIKey))
		}
	}

	scorer, watcher, err := BuildScorer(cfg, logger)
	if err != nil {
		return fail(err)
	}
	if watcher != nil {
		watcher.OnReload(func(err error) {
			if err == nil {
				logger.Debug(ctx, "authority overrides active", zap.Int("domains", scorer.Authority().Overrides()))
			}
		})
		if err := watcher.Start(ctx); err != nil {
			watcher.Stop()
			return fail(err)
		}
		closers = append(closers, func() error { watcher.Stop(); return nil })
	}

	var client llm.Client
	if cfg.Reranker.Backend == reranker.BackendLLM {
		client, err = llm.New(llm.FromSettings(cfg.Reranker.Provider, cfg.RerankerLLM()))
		if err != nil {
			return fail(fmt.Errorf("%w: %v", config.ErrFatalConfiguration, err))
		}
	}
	rr, err := reranker.New(cfg, client, logger)
	if err != nil {
		return fail(err)
	}

	embedder, err := embeddings.FromConfig(cfg.Embeddings, logger)
	if err != nil {
		return fail(fmt.Errorf("%w: embeddings: %v", config.ErrFatalConfiguration, err))
	}
	if embedder != nil {
		closers = append(closers, embedder.Close)
	}

	store, err := delivery.New(ctx, cfg.Delivery, logger)
	if err != nil {
		return fail(fmt.Errorf("delivery store: %w", err))
	}
	closers = append(closers, store.Close)

	o, err := New(Deps{
		Providers: providers,
		Scorer:    scorer,
		Reranker:  rr,
		Embedder:  embedder,
		Store:     store,
		Logger:    logger,
	}, SettingsFromConfig(cfg))
	if err != nil {
		return fail(err)
	}
	o.closers = closers

	logger.Info(ctx, "pipeline ready",
		zap.Strings("providers", o.ProviderNames()),
		zap.String("reranker", rr.Name()),
		zap.Bool("embeddings", embedder != nil),
		zap.String("delivery_backend", cfg.Delivery.Backend))
	return o, nil
}
