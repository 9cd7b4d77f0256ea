// forge runs the autonomous browser-test generation pipeline: an HTTP
// API for intent intake and HITL review, a worker pool claiming Tasks
// and driving them through the router's generate/critique/execute/
// repair/validate state machine, and the WebSocket event stream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/e2eforge/forge/pkg/api"
	"github.com/e2eforge/forge/pkg/config"
	"github.com/e2eforge/forge/pkg/cost"
	"github.com/e2eforge/forge/pkg/difftext"
	"github.com/e2eforge/forge/pkg/events"
	"github.com/e2eforge/forge/pkg/hitl"
	"github.com/e2eforge/forge/pkg/hotstore"
	"github.com/e2eforge/forge/pkg/lifecycle"
	"github.com/e2eforge/forge/pkg/llm"
	"github.com/e2eforge/forge/pkg/notify"
	"github.com/e2eforge/forge/pkg/queue"
	"github.com/e2eforge/forge/pkg/router"
	"github.com/e2eforge/forge/pkg/secrets"
	"github.com/e2eforge/forge/pkg/store"
	"github.com/e2eforge/forge/pkg/vectorindex"
	"github.com/e2eforge/forge/pkg/worker/critic"
	"github.com/e2eforge/forge/pkg/worker/executor"
	"github.com/e2eforge/forge/pkg/worker/generator"
	"github.com/e2eforge/forge/pkg/worker/repair"
	"github.com/e2eforge/forge/pkg/worker/validator"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting forge", "config_dir", *configDir)

	cfg, err := config.Load(ctx, *configDir)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	dbClient, err := store.NewClient(ctx, store.Config{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres state plane")

	hot, err := hotstore.NewClient(ctx, hotstore.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		slog.Error("failed to connect to redis hot store", "error", err)
		os.Exit(1)
	}

	secretSource := secrets.EnvSource{Lookupenv: os.LookupEnv}
	secretMgr := secrets.New(secretSource, cfg.Secrets.RotationOverlap)
	if err := secretMgr.Refresh(ctx, "ANTHROPIC_API_KEY"); err != nil {
		slog.Error("failed to load anthropic credential", "error", err)
		os.Exit(1)
	}
	slot, _ := secretMgr.Slot("ANTHROPIC_API_KEY")
	llmClient := llm.New(llm.Config{APIKey: slot.Primary})

	budget := cost.New(hot, cfg.Budget.SessionCapUSD, cfg.Budget.WarningFraction)

	patternIndex := vectorindex.New(dbClient.Patterns)

	gen := generator.New(llmClient, patternIndex, generator.Config{
		MaxPatterns:         cfg.Generator.MaxPatterns,
		SimilarityThreshold: cfg.Generator.SimilarityThreshold,
		MaxRetries:          cfg.Generator.MaxRetries,
		MaxExampleChars:     cfg.Generator.MaxExampleChars,
		EasyModel:           cfg.Generator.EasyModel,
		HardModel:           cfg.Generator.HardModel,
	})

	exec := executor.New(executor.Config{
		DefaultTimeout: cfg.Executor.DefaultTimeout,
		BrowserCommand: cfg.Executor.BrowserCommand,
		ArtifactsDir:   cfg.Executor.ArtifactsDir,
		ResultsDir:     cfg.Executor.ResultsDir,
	})

	rep := repair.New(exec, llmClient, repair.Config{
		RegressionScope: cfg.Repair.RegressionScope,
		DiagnosisModel:  cfg.Repair.DiagnosisModel,
	}, difftext.Unified)

	val := validator.New(exec, llmClient, loadScreenshot, validator.Config{
		MaxImagesPerRequest: cfg.Validator.MaxImagesPerRequest,
		VisionModel:         cfg.Validator.VisionModel,
	})

	var notifier *notify.Service
	if cfg.Slack.Enabled {
		notifier = notify.New(notify.Config{
			Token:        os.Getenv(cfg.Slack.TokenEnv),
			Channel:      cfg.Slack.Channel,
			DashboardURL: cfg.Server.DashboardURL,
		})
	}

	rt := router.New(router.Deps{
		Tasks:     dbClient.Tasks,
		Artifacts: dbClient.Artifacts,
		HITL:      dbClient.HITL,
		Events:    dbClient.Events,
		Budget:    budget,
		Patterns:  patternIndex,
		Notify:    notifier,
		Generator: gen,
		Executor:  exec,
		Repair:    rep,
		Validator: val,
	}, router.Config{
		MaxFixAttempts: cfg.Pipeline.MaxFixAttempts,
		CriticPolicy:   router.CriticPolicy(cfg.Pipeline.CriticPolicy),
		WorkerTimeout:  cfg.Pipeline.WorkerTimeout,
		CriticConfig: critic.Config{
			MaxSteps:          cfg.Critic.MaxSteps,
			MaxDurationMS:     cfg.Critic.MaxDurationMS,
			PerStepEstimateMS: cfg.Critic.PerStepEstimateMS,
		},
		TestFileDir: filepath.Join(cfg.Executor.ArtifactsDir, "generated"),
	})

	podID := getEnv("POD_ID", "forge-0")
	if err := queue.CleanupStartupOrphans(ctx, dbClient.Tasks, podID); err != nil {
		slog.Error("startup orphan cleanup failed", "error", err)
	}

	pool := queue.NewPool(podID, dbClient.Tasks, queue.RouterExecutor{Router: rt}, cfg.Pipeline)
	pool.Start(ctx)

	connManager := events.NewConnectionManager(dbClient.Events, 5*time.Second)
	listener := events.NewListener(cfg.Database.DSN, connManager, dbClient.Events)
	if err := listener.Start(ctx); err != nil {
		slog.Error("failed to start event listener", "error", err)
		os.Exit(1)
	}

	lifecycleMgr := lifecycle.New(hot, cfg.Lifecycle.GracePeriod)

	hitlSvc := hitl.NewService(dbClient.HITL)

	server := api.NewServer(cfg, dbClient.Tasks, hitlSvc, pool, connManager, budget, lifecycleMgr)

	// Shutdown callbacks run LIFO: the HTTP server stops accepting
	// requests first, then the worker pool drains in-flight tasks.
	lifecycleMgr.RegisterCallback(pool.Stop)
	lifecycleMgr.RegisterCallback(server.Shutdown)

	// Closers run after every callback, in registration order; the
	// event stream connection is registered last so it stays up while
	// callbacks still emit events.
	lifecycleMgr.RegisterCloser(func() error { return hot.Close() })
	lifecycleMgr.RegisterCloser(func() error { dbClient.Close(); return nil })
	lifecycleMgr.RegisterCloser(func() error { listener.Stop(context.Background()); return nil })

	go func() {
		slog.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Lifecycle.GracePeriod)
	defer cancel()
	lifecycleMgr.Stop(shutdownCtx)

	slog.Info("forge stopped")
}

// loadScreenshot reads a screenshot file for Validator's phase-2
// vision request, inferring the media type from the file extension.
func loadScreenshot(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = "image/png"
	}
	return data, mediaType, nil
}
