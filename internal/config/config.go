package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"deskrag"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"deskrag"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"redis:6379"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`

	// Admin surface
	ServerPort         int    `envconfig:"SERVER_PORT" default:"8082"`
	AdminJWTSecret     string `envconfig:"ADMIN_JWT_SECRET"`
	AdminRateLimit     int    `envconfig:"ADMIN_RATE_LIMIT" default:"30"`
	AdminRateWindowSec int    `envconfig:"ADMIN_RATE_WINDOW_SECONDS" default:"60"`

	// Pipeline bounds. Every invocation is capped; nothing runs unbounded.
	SyncPageSize           int `envconfig:"SYNC_PAGE_SIZE" default:"200"`
	SyncMaxPages           int `envconfig:"SYNC_MAX_PAGES" default:"10"`
	SyncSafetyOverlapSec   int `envconfig:"SYNC_SAFETY_OVERLAP_SECONDS" default:"60"`
	WorkerBatchLimit       int `envconfig:"WORKER_BATCH_LIMIT" default:"50"`
	WorkerConcurrency      int `envconfig:"WORKER_CONCURRENCY" default:"8"`
	JobMaxAttempts         int `envconfig:"JOB_MAX_ATTEMPTS" default:"3"`
	JobStuckAfterMinutes   int `envconfig:"JOB_STUCK_AFTER_MINUTES" default:"15"`
	JobRetentionDays       int `envconfig:"JOB_RETENTION_DAYS" default:"7"`
	SweepLimitPerType      int `envconfig:"SWEEP_LIMIT_PER_TYPE" default:"500"`
	BreakerFailureLimit    int `envconfig:"BREAKER_FAILURE_LIMIT" default:"5"`
	BreakerCooldownMinutes int `envconfig:"BREAKER_COOLDOWN_MINUTES" default:"5"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may come from the shell instead; a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.AdminJWTSecret == "" {
		return fmt.Errorf("%w: ADMIN_JWT_SECRET", ErrMissingRequired)
	}
	return nil
}
