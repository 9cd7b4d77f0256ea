package config

import "time"

// Config is the umbrella configuration object returned by Load, used
// throughout the process to parameterise the router, workers, and
// substrate.
type Config struct {
	configDir string

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Generator GeneratorConfig `yaml:"generator"`
	Critic    CriticConfig    `yaml:"critic"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Repair    RepairConfig    `yaml:"repair"`
	Validator ValidatorConfig `yaml:"validator"`
	Budget    BudgetConfig    `yaml:"budget"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Retention RetentionConfig `yaml:"retention"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Slack     SlackConfig     `yaml:"slack"`
}

// ConfigDir returns the directory the configuration was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// ServerConfig configures the gin HTTP/WebSocket surface.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	DashboardURL     string   `yaml:"dashboard_url"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// DatabaseConfig configures the pgx-backed state plane.
type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxConns        int32  `yaml:"max_conns"`
	MigrationsTable string `yaml:"migrations_table"`
}

// RedisConfig configures the hot K/V store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"-"`
	DB       int    `yaml:"db"`
}

// PipelineConfig holds the router's per-chain knobs and the worker
// pool's polling/orphan-detection knobs.
type PipelineConfig struct {
	MaxFixAttempts     int           `yaml:"max_fix_attempts"`
	CriticPolicy       string        `yaml:"critic_policy"` // "log_and_continue" | "block"
	WorkerTimeout      time.Duration `yaml:"worker_timeout"`
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`

	WorkerCount             int           `yaml:"worker_count"`
	PollInterval            time.Duration `yaml:"poll_interval"`
	PollIntervalJitter      time.Duration `yaml:"poll_interval_jitter"`
	TaskTimeout             time.Duration `yaml:"task_timeout"`
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`
	OrphanThreshold         time.Duration `yaml:"orphan_threshold"`
}

// GeneratorConfig parameterises the Generator worker (spec §4.2).
type GeneratorConfig struct {
	MaxPatterns         int     `yaml:"max_patterns"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxRetries          int     `yaml:"max_retries"`
	MaxExampleChars     int     `yaml:"max_example_chars"`
	EasyModel           string  `yaml:"easy_model"`
	HardModel           string  `yaml:"hard_model"`
}

// CriticConfig parameterises the Critic worker (spec §4.3).
type CriticConfig struct {
	MaxSteps           int `yaml:"max_steps"`
	MaxDurationMS      int `yaml:"max_duration_ms"`
	PerStepEstimateMS  int `yaml:"per_step_estimate_ms"`
}

// ExecutorConfig parameterises the Executor worker (spec §4.4).
type ExecutorConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	BrowserCommand string        `yaml:"browser_command"`
	ArtifactsDir   string        `yaml:"artifacts_dir"`
	ResultsDir     string        `yaml:"results_dir"`
}

// RepairConfig parameterises the Repair worker (spec §4.5).
type RepairConfig struct {
	RegressionScope []string `yaml:"regression_scope"`
	DiagnosisModel  string   `yaml:"diagnosis_model"`
}

// ValidatorConfig parameterises the Validator worker (spec §4.6).
type ValidatorConfig struct {
	MaxImagesPerRequest int    `yaml:"max_images_per_request"`
	VisionModel         string `yaml:"vision_model"`
}

// BudgetConfig parameterises the cost tracker's budget enforcement.
type BudgetConfig struct {
	SessionCapUSD   float64 `yaml:"session_cap_usd"`
	WarningFraction float64 `yaml:"warning_fraction"`
}

// RateLimitConfig configures default token-bucket parameters; overridden
// per {service, model} at runtime via pkg/ratelimit.
type RateLimitConfig struct {
	DefaultCapacity     float64 `yaml:"default_capacity"`
	DefaultRefillPerSec float64 `yaml:"default_refill_per_sec"`
	MaxRetries          int     `yaml:"max_retries"`
}

// SecretsConfig configures the primary/secondary rotation window.
type SecretsConfig struct {
	RotationOverlap time.Duration `yaml:"rotation_overlap"`
}

// RetentionConfig configures event log rotation (spec §6).
type RetentionConfig struct {
	CompressAfterDays int           `yaml:"compress_after_days"`
	DeleteAfterDays   int           `yaml:"delete_after_days"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// LifecycleConfig configures graceful shutdown timing (spec §5).
type LifecycleConfig struct {
	GracePeriod          time.Duration `yaml:"grace_period"`
	ContainerGracePeriod time.Duration `yaml:"container_grace_period"`
}

// SlackConfig configures the HITL/budget notification sink.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	Channel  string `yaml:"channel"`
}
