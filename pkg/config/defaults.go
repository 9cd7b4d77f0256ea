package config

import "time"

// defaults returns a Config pre-populated with every documented
// default value from the specification, before any YAML or env
// overlay is applied.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			DashboardURL: "http://localhost:5173",
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MigrationsTable: "schema_migrations",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Pipeline: PipelineConfig{
			MaxFixAttempts:     3,
			CriticPolicy:       "log_and_continue",
			WorkerTimeout:      45 * time.Second,
			MaxConcurrentTasks: 8,

			WorkerCount:             4,
			PollInterval:            2 * time.Second,
			PollIntervalJitter:      500 * time.Millisecond,
			TaskTimeout:             10 * time.Minute,
			HeartbeatInterval:       15 * time.Second,
			OrphanDetectionInterval: 1 * time.Minute,
			OrphanThreshold:         2 * time.Minute,
		},
		Generator: GeneratorConfig{
			MaxPatterns:         5,
			SimilarityThreshold: 0.7,
			MaxRetries:          3,
			MaxExampleChars:     2000,
			EasyModel:           "claude-haiku-4-5",
			HardModel:           "claude-sonnet-4-5",
		},
		Critic: CriticConfig{
			MaxSteps:          10,
			MaxDurationMS:     60000,
			PerStepEstimateMS: 3000,
		},
		Executor: ExecutorConfig{
			DefaultTimeout: 45 * time.Second,
			BrowserCommand: "playwright-runner",
			ArtifactsDir:   "artifacts",
			ResultsDir:     "artifacts/results",
		},
		Repair: RepairConfig{
			RegressionScope: []string{"auth.spec", "core_navigation.spec"},
			DiagnosisModel:  "claude-sonnet-4-5",
		},
		Validator: ValidatorConfig{
			MaxImagesPerRequest: 3,
			VisionModel:         "claude-sonnet-4-5",
		},
		Budget: BudgetConfig{
			SessionCapUSD:   2.00,
			WarningFraction: 0.8,
		},
		RateLimit: RateLimitConfig{
			DefaultCapacity:     60,
			DefaultRefillPerSec: 1,
			MaxRetries:          3,
		},
		Secrets: SecretsConfig{
			RotationOverlap: 24 * time.Hour,
		},
		Retention: RetentionConfig{
			CompressAfterDays: 7,
			DeleteAfterDays:   30,
			CleanupInterval:   1 * time.Hour,
		},
		Lifecycle: LifecycleConfig{
			GracePeriod:          30 * time.Second,
			ContainerGracePeriod: 45 * time.Second,
		},
		Slack: SlackConfig{
			TokenEnv: "SLACK_BOT_TOKEN",
		},
	}
}
