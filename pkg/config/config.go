package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Database drivers understood by the local storage layer.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds agent configuration.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// Agent
	DataDir            string
	DebugLevel         int
	MaxSessions        int
	AllowShellActions  bool
	ActionTimeout      time.Duration
	SysinfoInterval    time.Duration
	SysinfoGoroutineHi int

	// Worker pool backing deferred subagent work
	PoolWorkers   int
	PoolQueueSize int

	// Local storage. An empty DatabaseURL selects SQLite under DataDir.
	DatabaseURL    string
	DatabaseDriver string
	SQLitePath     string

	// Pushed-value cache. Empty keeps values in memory.
	RedisURL string
	PushTTL  time.Duration

	// Notification broker. Empty delivers in-process.
	RabbitMQURL      string
	RabbitMQExchange string

	// Outbox
	OutboxPollInterval     time.Duration
	OutboxBatchSize        int
	OutboxMaxRetries       int
	OutboxStatsInterval    time.Duration
	OutboxRetentionDays    int
	OutboxCleanupInterval  time.Duration
	OutboxProcessorEnabled bool

	// HTTP endpoints; empty disables.
	HealthAddr  string
	MetricsAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DataDir:            getEnv("BEACON_DATA_DIR", defaultDataDir()),
		DebugLevel:         getIntEnv("BEACON_DEBUG_LEVEL", 0),
		MaxSessions:        getIntEnv("BEACON_MAX_SESSIONS", 256),
		AllowShellActions:  getBoolEnv("BEACON_ALLOW_SHELL_ACTIONS", false),
		ActionTimeout:      getDurationEnv("BEACON_ACTION_TIMEOUT", 30*time.Second),
		SysinfoInterval:    getDurationEnv("SYSINFO_INTERVAL", 60*time.Second),
		SysinfoGoroutineHi: getIntEnv("SYSINFO_GOROUTINE_THRESHOLD", 10000),

		PoolWorkers:   getIntEnv("BEACON_POOL_WORKERS", 4),
		PoolQueueSize: getIntEnv("BEACON_POOL_QUEUE", 256),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		PushTTL:     getDurationEnv("PUSH_TTL", 24*time.Hour),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "beacon.notifications"),

		OutboxPollInterval:     getDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		OutboxBatchSize:        getIntEnv("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxRetries:       getIntEnv("OUTBOX_MAX_RETRIES", 5),
		OutboxStatsInterval:    getDurationEnv("OUTBOX_STATS_INTERVAL", 30*time.Second),
		OutboxRetentionDays:    getIntEnv("OUTBOX_RETENTION_DAYS", 7),
		OutboxCleanupInterval:  getDurationEnv("OUTBOX_CLEANUP_INTERVAL", 6*time.Hour),
		OutboxProcessorEnabled: getBoolEnv("OUTBOX_PROCESSOR_ENABLED", true),

		HealthAddr:  getEnv("BEACON_HEALTH_ADDR", "127.0.0.1:8091"),
		MetricsAddr: getEnv("BEACON_METRICS_ADDR", ""),
	}

	cfg.DatabaseDriver = detectDriver(cfg.DatabaseURL)
	cfg.SQLitePath = getEnv("SQLITE_PATH", filepath.Join(cfg.DataDir, "beacon.db"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports settings the agent cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: BEACON_DATA_DIR is empty", ErrInvalidConfig)
	case c.DebugLevel < 0 || c.DebugLevel > 9:
		return fmt.Errorf("%w: BEACON_DEBUG_LEVEL must be 0..9, got %d", ErrInvalidConfig, c.DebugLevel)
	case c.PoolWorkers < 1:
		return fmt.Errorf("%w: BEACON_POOL_WORKERS must be positive", ErrInvalidConfig)
	case c.PoolQueueSize < 1:
		return fmt.Errorf("%w: BEACON_POOL_QUEUE must be positive", ErrInvalidConfig)
	case c.MaxSessions < 1:
		return fmt.Errorf("%w: BEACON_MAX_SESSIONS must be positive", ErrInvalidConfig)
	case c.OutboxBatchSize < 1:
		return fmt.Errorf("%w: OUTBOX_BATCH_SIZE must be positive", ErrInvalidConfig)
	case c.SysinfoInterval <= 0:
		return fmt.Errorf("%w: SYSINFO_INTERVAL must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesSQLite reports whether local storage is an embedded SQLite file.
func (c *Config) UsesSQLite() bool {
	return c.DatabaseDriver == DriverSQLite
}

func detectDriver(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".beacon"
	}
	return filepath.Join(home, ".beacon")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
