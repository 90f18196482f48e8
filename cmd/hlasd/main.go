// Command hlasd is the HLAS insurance assistant's process entrypoint: it
// wires configuration, persistence, retrieval, the LLM provider, every
// conversational sub-flow, and the router into internal/ingress's HTTP
// server, then serves REST and WhatsApp traffic until signalled to stop.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/compareflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/config"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/infoflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/ingress"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm/anthropic"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm/openai"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/logging"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/metrics"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/migrations"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/promptrunner"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/raclock"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/recflow"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/retrieval"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/router"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/sessionstore"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/summaryflow"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("hlasd")
	}
}

func run() error {
	cfg := config.Load()

	logger := logging.New(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info"))
	log.Logger = logger

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("falling back to UTC")
		loc = time.UTC
	}

	baseCtx := context.Background()

	if err := runMigrations(cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pgPool, err := pgxpool.New(baseCtx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("init postgres pool: %w", err)
	}
	defer pgPool.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	metricsReg := metrics.New()

	store := sessionstore.New(
		pgPool, redisClient,
		time.Duration(cfg.SessionTTLSeconds)*time.Second,
		time.Duration(cfg.IdleResetSeconds)*time.Second,
		loc,
		sessionstore.WithLogger(logger),
		sessionstore.WithMetrics(metricsReg.SessionCacheHits, metricsReg.SessionCacheMisses),
	)
	if err := store.Init(baseCtx); err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	registry, err := promptrunner.LoadEmbedded()
	if err != nil {
		return fmt.Errorf("load prompt registry: %w", err)
	}

	provider, err := newLLMProvider(cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	embedder := retrieval.NewOpenAIEmbedder(
		cfg.Embedder.APIKey, cfg.Embedder.BaseURL, cfg.Embedder.Model,
		cfg.Vector.Dimensions, nil,
	)

	contentStore, questionsStore, err := retrieval.NewQdrantVectorSpaces(
		cfg.Vector.DSN, cfg.Vector.Collection, cfg.Vector.Dimensions,
	)
	if err != nil {
		return fmt.Errorf("init qdrant vector spaces: %w", err)
	}

	lexical, err := retrieval.NewPostgresKnowledgeStore(baseCtx, pgPool)
	if err != nil {
		return fmt.Errorf("init knowledge store: %w", err)
	}

	hybrid := retrieval.NewHybridStore(embedder, contentStore, questionsStore, lexical)

	infoHandler, err := infoflow.New(registry, provider, cfg.LLM.ResponseModel, hybrid)
	if err != nil {
		return fmt.Errorf("init info flow: %w", err)
	}
	recHandler, err := recflow.New(registry, provider, cfg.LLM.ResponseModel, lexical, loc)
	if err != nil {
		return fmt.Errorf("init recommendation flow: %w", err)
	}
	compareHandler, err := compareflow.New(registry, provider, cfg.LLM.ResponseModel, lexical)
	if err != nil {
		return fmt.Errorf("init comparison flow: %w", err)
	}
	summaryHandler, err := summaryflow.New(registry, provider, cfg.LLM.ResponseModel, lexical)
	if err != nil {
		return fmt.Errorf("init summary flow: %w", err)
	}

	turnRouter := router.New(registry, provider, cfg.LLM.ResponseModel, loc, infoHandler, recHandler, compareHandler, summaryHandler)

	lock := raclock.NewLock(redisClient, time.Duration(cfg.LockTTLSeconds)*time.Second, time.Duration(cfg.LockWaitSeconds)*time.Second)
	rateLimiter := raclock.NewRateLimiter(redisClient, time.Duration(cfg.RateLimitWindowSeconds)*time.Second, int64(cfg.RateLimitMaxMessages), "whatsapp")
	dedupe := raclock.NewDeduplicator(redisClient, time.Duration(cfg.DedupeTTLSeconds)*time.Second, "whatsapp")
	order := raclock.NewOrderGuard(redisClient, time.Duration(cfg.OrderTTLSeconds)*time.Second, "whatsapp")

	server := ingress.NewServer(ingress.Deps{
		Config:      cfg,
		Store:       store,
		Router:      turnRouter,
		Lock:        lock,
		RateLimiter: rateLimiter,
		Dedupe:      dedupe,
		Order:       order,
		Metrics:     metricsReg,
		Logger:      logger,
		Location:    loc,
		PGPool:      pgPool,
		RedisClient: redisClient,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("hlasd listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	logger.Info().Msg("hlasd stopped")
	return nil
}

// runMigrations applies the Postgres schema through golang-migrate via a
// database/sql handle opened against pgx's stdlib driver. This is a
// separate connection from the pgxpool used by the rest of the process
// because golang-migrate's Postgres driver operates on database/sql.
func runMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return migrations.Apply(db)
}

func newLLMProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.New(cfg.APIKey, cfg.BaseURL, cfg.Model, nil), nil
	case "openai", "":
		return openai.New(cfg.APIKey, cfg.BaseURL, cfg.Model, nil), nil
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.Provider)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
