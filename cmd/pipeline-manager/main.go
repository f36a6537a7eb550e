// cmd/pipeline-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"offerflow/internal/common/config"
	"offerflow/internal/common/database"
	"offerflow/internal/common/genai"
	"offerflow/internal/common/logger"
	"offerflow/internal/common/observability"
	"offerflow/internal/pipeline/credentials"
	"offerflow/internal/pipeline/offerstore"
	"offerflow/internal/pipeline/stages/analyze"
	"offerflow/internal/pipeline/stages/fetch"
	"offerflow/internal/pipeline/stages/organize"
	"offerflow/internal/pipeline/workflow"
	"offerflow/internal/server"
	"offerflow/pkg/registry"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting pipeline manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("pipeline-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Credential resolution ---
	keyStore := credentials.NewPostgresStore(pg.DB, redis.Client, log)
	resolver := credentials.NewResolver(keyStore, cfg.Provider.APIKey, log)

	factory := genai.NewFactory(cfg.Provider.Model)

	offerStore := offerstore.NewElasticStore(esClient.Client, cfg.Database.Elasticsearch.OfferIndex, log)

	// --- Stage runners ---
	fetchCfg := fetch.LoadConfig()
	analyzeCfg := analyze.LoadConfig()
	organizeCfg := organize.LoadConfig()
	applyStageConfig(cfg, fetch.StageName, &fetchCfg.MaxAttempts, &fetchCfg.Timeout, &fetchCfg.BatchSize)
	applyStageConfig(cfg, analyze.StageName, &analyzeCfg.MaxAttempts, &analyzeCfg.Timeout, nil)
	applyStageConfig(cfg, organize.StageName, &organizeCfg.MaxAttempts, &organizeCfg.Timeout, nil)
	fetchCfg.Provider = cfg.Provider.Name
	analyzeCfg.Provider = cfg.Provider.Name
	organizeCfg.Provider = cfg.Provider.Name

	fetchRunner := fetch.NewRunner(fetchCfg, factory, resolver, log)
	analyzeRunner := analyze.NewRunner(analyzeCfg, factory, resolver, log)
	organizeRunner := organize.NewRunner(organizeCfg, factory, resolver, log)

	// --- Orchestrator ---
	cancelRegistry := workflow.NewRedisRegistry(redis.Client, time.Duration(cfg.Workflow.CancelMarkerTTL)*time.Second)
	orchestrator := workflow.NewOrchestrator(fetchRunner, analyzeRunner, organizeRunner, cancelRegistry, log).
		WithObservability(obs)

	zapLog.Info("All stage runners initialized")

	httpHandler := server.New(orchestrator, offerStore, log)
	if catalog, err := registry.LoadRegistry("configs/stages.json"); err != nil {
		zapLog.Warn("stage catalog unavailable", zap.Error(err))
	} else {
		httpHandler.WithCatalog(catalog)
	}

	// --- HTTP Server ---
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: httpHandler.Handler(),
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error shutting down HTTP server", zap.Error(err))
	}

	zapLog.Info("Pipeline manager stopped gracefully")
}

// applyStageConfig overlays per-stage config values when set. batchSize is nil
// for stages without a batch dimension.
func applyStageConfig(cfg *config.Config, stageName string, maxAttempts *int, timeout *time.Duration, batchSize *int) {
	stage, ok := cfg.Stages[stageName]
	if !ok {
		return
	}
	if stage.MaxAttempts > 0 {
		*maxAttempts = stage.MaxAttempts
	}
	if stage.Timeout > 0 {
		*timeout = config.GetDuration(stage.Timeout)
	}
	if batchSize != nil && stage.BatchSize > 0 {
		*batchSize = stage.BatchSize
	}
}
