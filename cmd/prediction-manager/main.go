// cmd/prediction-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"admission-pipeline/internal/batching"
	"admission-pipeline/internal/common/aws"
	"admission-pipeline/internal/common/config"
	"admission-pipeline/internal/common/database"
	"admission-pipeline/internal/common/eventbus"
	"admission-pipeline/internal/common/logger"
	"admission-pipeline/internal/common/observability"
	"admission-pipeline/internal/indexer"
	"admission-pipeline/internal/notifier"
	"admission-pipeline/internal/orchestrator"
	"admission-pipeline/internal/reconciler"
	"admission-pipeline/internal/repository"
	"admission-pipeline/internal/scoring"
	"admission-pipeline/internal/stages/l1"
	"admission-pipeline/internal/stages/l2"
	"admission-pipeline/internal/stages/l3"

	// Event Listeners (2)
	oc "admission-pipeline/internal/listeners/ocr-completed"
	sc "admission-pipeline/internal/listeners/student-created"
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
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

// stageSettings maps the shared batching knobs plus one stage's cap and
// complexity class onto the executor settings for that stage.
func stageSettings(shared config.BatchingConfig, stage config.StageConfig) batching.Settings {
	return batching.Settings{
		Chunk: batching.ChunkConfig{
			MaxChunkSize:      stage.MaxChunkSize,
			MemoryLimitMB:     shared.MemoryLimitMB,
			NetworkLatencyMs:  shared.NetworkLatencyMs,
			Complexity:        batching.Complexity(stage.Complexity),
			ServerConcurrency: shared.ServerConcurrency,
		},
		Concurrency: batching.ConcurrencyConfig{
			InputsPerWorker: shared.InputsPerWorker,
			MinConcurrency:  shared.MinConcurrency,
			MaxConcurrency:  shared.MaxConcurrency,
		},
		Retry: batching.RetryConfig{
			MaxRetries: shared.MaxRetries,
			BaseDelay:  time.Duration(shared.BaseDelayMs) * time.Millisecond,
			SweepDelay: time.Duration(shared.SweepDelayMs) * time.Millisecond,
		},
	}
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting prediction manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("prediction-manager")
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Init Elasticsearch with retry (only when the indexer is on) ---
	var esClient *database.ElasticsearchClient
	if cfg.Indexer.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			// Test the connection
			return esClient.Ping()
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}
		zapLog.Info("Elasticsearch connected successfully")
	}

	// --- Init Scoring Service Client ---
	scoringClient, err := scoring.NewClient(&scoring.Config{
		BaseURL: cfg.Scoring.BaseURL,
		Timeout: time.Duration(cfg.Scoring.TimeoutMs) * time.Millisecond,
	}, log)
	if err != nil {
		zapLog.Fatal("scoring client failed", zap.Error(err))
	}
	zapLog.Info("Scoring client initialized")

	// --- Init Repositories ---
	predictions := repository.NewPredictionRepository(pg, log)
	admissions := repository.NewAdmissionRepository(pg, log)
	students := repository.NewStudentRepository(pg, log)

	// --- Init Prediction Stages (3) ---
	l1Service := l1.NewService(l1.ServiceDependencies{
		Logger:  log,
		Scoring: scoringClient,
	}, stageSettings(cfg.Batching, cfg.Stages.L1))

	l2Service := l2.NewService(l2.ServiceDependencies{
		Logger:  log,
		Scoring: scoringClient,
	}, stageSettings(cfg.Batching, cfg.Stages.L2))

	l3Service := l3.NewService(l3.ServiceDependencies{
		Logger:  log,
		Scoring: scoringClient,
	}, stageSettings(cfg.Batching, cfg.Stages.L3))

	// --- Init Post-Commit Hooks (optional) ---
	var completionNotifier orchestrator.CompletionNotifier
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client failed", zap.Error(err))
		}
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		completionNotifier = notifier.New(cfg.Notifications, pg.DB, log, sesClient, snsClient)
		zapLog.Info("Completion notifier enabled")
	}

	var resultIndexer orchestrator.ResultIndexer
	if cfg.Indexer.Enabled {
		resultIndexer = indexer.New(esClient.Client, cfg.Indexer.Index, log)
		zapLog.Info("Result indexer enabled", zap.String("index", cfg.Indexer.Index))
	}

	// --- Init Orchestrator ---
	orchestratorService := orchestrator.NewService(orchestrator.ServiceDependencies{
		Logger:      log,
		L1:          l1Service,
		L2:          l2Service,
		L3:          l3Service,
		Predictions: predictions,
		Students:    students,
		Tx:          pg,
		Reconciler:  reconciler.New(admissions, log),
		Notifier:    completionNotifier,
		Indexer:     resultIndexer,
	})

	// --- START: Register Event Listeners (2) ---
	bus := eventbus.NewRedisBus(redis.Client, log).WithObservability(obs)
	defer bus.Close()

	if key := "student-created"; cfg.Listeners[key].Enabled {
		handler, err := sc.NewHandler(sc.LoadConfig(cfg.Listeners[key]), orchestratorService, log)
		if err != nil {
			zapLog.Fatal("failed to create student-created handler", zap.Error(err))
		}
		if err := bus.Subscribe(ctx, sc.Topic, handler.Handle); err != nil {
			zapLog.Fatal("failed to subscribe student-created listener", zap.Error(err))
		}
	}

	if key := "ocr-completed"; cfg.Listeners[key].Enabled {
		handler, err := oc.NewHandler(oc.LoadConfig(cfg.Listeners[key]), orchestratorService, log)
		if err != nil {
			zapLog.Fatal("failed to create ocr-completed handler", zap.Error(err))
		}
		if err := bus.Subscribe(ctx, oc.Topic, handler.Handle); err != nil {
			zapLog.Fatal("failed to subscribe ocr-completed listener", zap.Error(err))
		}
	}
	zapLog.Info("All listeners registered successfully")

	// --- Health & Metrics Server ---
	metricsPort := cfg.App.MetricsPort
	if metricsPort == 0 {
		metricsPort = 8080
	}
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening", zap.Int("port", metricsPort))
		if err := http.ListenAndServe(fmt.Sprintf(":%d", metricsPort), nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping listeners...")
	cancel()

	if err := bus.Close(); err != nil {
		zapLog.Error("Error closing event bus", zap.Error(err))
	}

	zapLog.Info("Prediction manager stopped gracefully")
}
