package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lucidata-ai/lucid-engine/pkg/agents"
	"github.com/lucidata-ai/lucid-engine/pkg/cache"
	"github.com/lucidata-ai/lucid-engine/pkg/config"
	"github.com/lucidata-ai/lucid-engine/pkg/datasource"
	"github.com/lucidata-ai/lucid-engine/pkg/handlers"
	"github.com/lucidata-ai/lucid-engine/pkg/identity"
	"github.com/lucidata-ai/lucid-engine/pkg/llm"
	"github.com/lucidata-ai/lucid-engine/pkg/logging"
	"github.com/lucidata-ai/lucid-engine/pkg/metrics"
	"github.com/lucidata-ai/lucid-engine/pkg/middleware"
	"github.com/lucidata-ai/lucid-engine/pkg/models"
	"github.com/lucidata-ai/lucid-engine/pkg/ratelimit"
	"github.com/lucidata-ai/lucid-engine/pkg/recovery"
	"github.com/lucidata-ai/lucid-engine/pkg/schema"
	"github.com/lucidata-ai/lucid-engine/pkg/sqltrans"
	"github.com/lucidata-ai/lucid-engine/pkg/store"
	"github.com/lucidata-ai/lucid-engine/pkg/workflow"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.Bool("streaming", cfg.EnableStreaming),
		zap.String("redis", cfg.Redis.Addr()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared Redis backend for cache, rate limits, and quotas. The engine
	// runs on in-process fallbacks when it is absent or unreachable.
	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, using in-process fallbacks", zap.Error(err))
		redisClient = nil
	}
	var cacheBackend cache.Backend
	if redisClient != nil {
		cacheBackend = cache.NewRedisBackend(redisClient)
	}
	layered := cache.NewLayered(cacheBackend, cache.TTLsFromConfig(&cfg.CacheTTL), logger)

	gateway, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		logger.Fatal("failed to build llm gateway", zap.Error(err))
	}
	var client llm.Client = gateway
	if cfg.EnableAIResponseCache {
		client = llm.NewCachedClient(gateway, layered, logger)
	}

	// Data source registry, seeded from the configured YAML file.
	var seeds []*models.DataSource
	if cfg.DataSourcesFile != "" {
		seeds, err = datasource.LoadSourcesFile(cfg.DataSourcesFile)
		if err != nil {
			logger.Fatal("failed to load data sources", zap.Error(err))
		}
		logger.Info("data sources loaded", zap.Int("count", len(seeds)))
	}
	dsStore := datasource.NewInMemoryStore(seeds...)
	registry := datasource.NewRegistry(dsStore, nil, logger)
	defer registry.Close()
	runner := datasource.NewExecutor(registry, layered, cfg.Workflow.DefaultTimeoutSec, cfg.Workflow.DefaultMaxRows, logger)

	schemas := schema.NewRegistry(registry, layered, logger)
	dialectOf := func(ctx context.Context, dataSourceID string) (models.Dialect, error) {
		ds, err := dsStore.GetDataSource(ctx, dataSourceID)
		if err != nil {
			return models.DialectStandard, err
		}
		return ds.EffectiveDialect(), nil
	}

	recorder := metrics.NewRecorder()
	ag := workflow.Agents{
		Router:           agents.NewRouter(client, logger),
		NL2SQL:           agents.NewNL2SQL(client, schemas, dialectOf, cfg.Workflow.MaxSchemaTokens, logger),
		SQLValidator:     agents.NewSQLValidator(logger),
		Executor:         agents.NewExecutor(runner, sqltrans.NewTranslator(), dialectOf, cfg.Workflow.DefaultTimeoutSec, cfg.Workflow.DefaultMaxRows, logger),
		ResultsValidator: agents.NewResultsValidator(logger),
		Chart:            agents.NewChart(client, cfg.EnableFunctionCalling, logger),
		Insights:         agents.NewInsights(client, logger),
		Narrator:         agents.NewNarrator(client, logger),
	}
	orch := workflow.New(
		ag,
		recovery.NewPlanner(cfg.Workflow.RetryBudgetPerStage),
		recorder,
		time.Duration(cfg.Workflow.StageTimeoutSec)*time.Second,
		logger,
	)

	resolver, err := identity.NewJWTResolver(ctx, &cfg.Auth)
	if err != nil {
		logger.Fatal("failed to build identity resolver", zap.Error(err))
	}

	var st store.Store
	if cfg.Database.URL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pgStore.Close()
		st = pgStore
	} else {
		logger.Warn("no database configured, conversations and usage are in-memory only")
		st = store.NewMemoryStore()
	}

	limiter := ratelimit.NewLimiter(redisClient, &cfg.RateLimits, nil, logger)
	quota := ratelimit.NewQuota(redisClient, &cfg.PlanCredits, nil, logger)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMetricsHandler(recorder).RegisterRoutes(mux)
	handlers.NewAnalyzeHandler(cfg, resolver, limiter, quota, orch, st, recorder, gateway.Name(), logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting lucid-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
