package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/yangwenmai/copydeck/internal/cache"
	"github.com/yangwenmai/copydeck/internal/config"
	"github.com/yangwenmai/copydeck/internal/engine"
	"github.com/yangwenmai/copydeck/internal/guard"
	"github.com/yangwenmai/copydeck/internal/logging"
	"github.com/yangwenmai/copydeck/internal/observability"
	"github.com/yangwenmai/copydeck/internal/store"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *observability.Metrics
	db      *sql.DB
	store   *store.Store
	cache   *cache.Cache
	guard   *guard.Guard
	orch    *engine.Orchestrator
}

// newApp loads configuration and opens every dependency. Close releases them.
func newApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	g, err := rules.Guard()
	if err != nil {
		return nil, err
	}
	policy, err := guard.PolicyByName(cfg.ConfidencePolicy)
	if err != nil {
		return nil, err
	}

	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s, err := store.New(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}

	durable, err := openDurable(ctx, cfg, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	metrics := observability.NewMetrics()
	c := cache.New(durable, cache.Options{
		Capacity: cfg.CacheCapacity,
		FastTTL:  cfg.CacheFastTTL,
		TTL:      cfg.CacheTTL,
		Stats:    cache.NewStats(metrics.CacheLookupVec()),
		Logger:   log.With("component", "cache"),
	})

	provider, extractor := buildProvider(cfg, log)
	var limiter *rate.Limiter
	if cfg.ProviderRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ProviderRPS), max(cfg.ProviderBurst, 1))
	}

	orch, err := engine.NewOrchestrator(engine.Options{
		Provider:     provider,
		Extractor:    extractor,
		Cache:        c,
		Guard:        g,
		Classifier:   rules.Classifier(),
		Policy:       policy,
		QualityLevel: guard.ParseLevel(cfg.QualityLevel),
		Retry: engine.RetryPolicy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
			Jitter:      cfg.RetryJitter,
			CallTimeout: cfg.StageTimeout,
		},
		Limiter:        limiter,
		Metrics:        metrics,
		Logger:         log.With("component", "engine"),
		CacheTTL:       cfg.CacheTTL,
		MaxPrimaryText: cfg.MaxTextLength,
	})
	if err != nil {
		c.Close()
		db.Close()
		return nil, err
	}

	return &app{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		db:      db,
		store:   s,
		cache:   c,
		guard:   g,
		orch:    orch,
	}, nil
}

// Close flushes the cache and closes the databases.
func (a *app) Close() error {
	return errors.Join(a.cache.Close(), a.db.Close())
}

// openDurable returns the configured durable cache tier. The sqlite backend
// shares the job database.
func openDurable(ctx context.Context, cfg config.Config, db *sql.DB, log *slog.Logger) (cache.Durable, error) {
	switch cfg.CacheBackend {
	case "sqlite", "":
		c, err := store.NewSQLiteCache(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("init sqlite cache: %w", err)
		}
		return c, nil
	case "badger":
		c, err := store.OpenBadgerCache(store.BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: log.With("component", "badger"),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger cache: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q (want sqlite or badger)", cfg.CacheBackend)
	}
}

// buildProvider selects the model backend. Without credentials everything
// runs on stubs, including extraction.
func buildProvider(cfg config.Config, log *slog.Logger) (engine.Provider, engine.ContentExtractor) {
	if cfg.UseStubs() {
		log.Warn("no API key for provider, using stub pipeline", "provider", cfg.LLMProvider)
		return engine.NewStubProvider(), &engine.StubExtractor{}
	}

	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	extractor := engine.NewHTTPExtractor(
		engine.WithExtractorHTTPClient(hc),
		engine.WithMaxTextLength(cfg.MaxTextLength),
	)

	var client engine.ModelClient
	switch cfg.LLMProvider {
	case "claude":
		client = engine.NewClaudeClient(cfg.AnthropicKey,
			engine.WithModel(cfg.AnthropicModel),
			engine.WithHTTPClient(hc))
	case "gemini":
		client = engine.NewGeminiClient(cfg.GeminiKey,
			engine.WithModel(cfg.GeminiModel),
			engine.WithHTTPClient(hc))
	case "ollama":
		client = engine.NewOllamaClient(cfg.OllamaURL,
			engine.WithModel(cfg.OllamaModel),
			engine.WithHTTPClient(hc))
	default:
		client = engine.NewOpenAIClient(cfg.OpenAIKey,
			engine.WithModel(cfg.OpenAIModel),
			engine.WithBaseURL(cfg.OpenAIBaseURL),
			engine.WithHTTPClient(hc))
	}
	log.Info("using model client", "provider", cfg.LLMProvider)
	return engine.NewLLMProvider(cfg.LLMProvider, client), extractor
}
