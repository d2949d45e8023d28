package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forecast-cli/internal/agent"
	"github.com/sells-group/forecast-cli/internal/cost"
	"github.com/sells-group/forecast-cli/internal/forecast"
	"github.com/sells-group/forecast-cli/internal/resilience"
	"github.com/sells-group/forecast-cli/internal/store"
	anthropicpkg "github.com/sells-group/forecast-cli/pkg/anthropic"
	"github.com/sells-group/forecast-cli/pkg/jina"
	"github.com/sells-group/forecast-cli/pkg/perplexity"
)

// pipelineEnv holds the store and pipeline shared by the forecast, batch
// and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *forecast.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline builds the API clients, the agents and the Pipeline.
// Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(true); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	retry := resilience.FromSettings(
		cfg.Pipeline.RetryMaxAttempts,
		time.Duration(cfg.Pipeline.RetryBackoffMs)*time.Millisecond,
		0,
	)

	llm := anthropicpkg.NewRateLimited(
		anthropicpkg.NewClient(cfg.Anthropic.Key, anthropicpkg.WithMaxRetries(cfg.Anthropic.MaxRetries)),
		cfg.Anthropic.RequestsPerSecond,
		cfg.Anthropic.Burst,
	)

	var opts []agent.Option
	if cfg.Perplexity.Key != "" {
		opts = append(opts, agent.WithPerplexity(perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
			perplexity.WithRetry(retry),
		)))
		zap.L().Info("perplexity background research enabled")
	} else {
		zap.L().Debug("FORECAST_PERPLEXITY_KEY not set, background uses claude only")
	}
	if cfg.Jina.Key != "" {
		opts = append(opts, agent.WithSearch(jina.NewClient(cfg.Jina.Key,
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL),
			jina.WithRetry(retry),
		)))
		zap.L().Info("jina search enrichment enabled")
	} else {
		zap.L().Debug("FORECAST_JINA_KEY not set, search enrichment disabled")
	}

	agents, err := agent.New(llm, agent.Config{
		Model:         cfg.Anthropic.Model,
		FastModel:     cfg.Anthropic.FastModel,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		Temperature:   cfg.Anthropic.Temperature,
		SearchResults: cfg.Jina.MaxResults,
		CacheSize:     cfg.Pipeline.BackgroundCacheSize,
	}, opts...)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init agents")
	}

	p, err := forecast.New(agents.Collaborators(), st,
		forecast.WithPolicy(cfg.Calibration),
		forecast.WithCalculator(cost.NewCalculator(cfg.Pricing)),
	)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init pipeline")
	}

	return &pipelineEnv{Store: st, Pipeline: p}, nil
}
