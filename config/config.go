package config

import (
	"time"

	"github.com/taskmesh/taskmesh/coordinator"
	"github.com/taskmesh/taskmesh/coordinator/persistence"
)

// Config is the complete taskmesh configuration.
type Config struct {
	// Server holds the HTTP API settings.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Coordinator holds the scheduling and selection settings.
	Coordinator CoordinatorConfig `yaml:"coordinator" env:"COORDINATOR"`

	// Archive holds the terminal-task archive settings.
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Log holds the zap logger settings.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP API and metrics endpoints.
type ServerConfig struct {
	// HTTP port for the task API.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics port for the Prometheus endpoint.
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// Read timeout for incoming requests.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// Write timeout for responses.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Per-client request rate limit.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// Per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// CoordinatorConfig configures the assignment loop, selection weights,
// health monitor, and dispatch pool.
type CoordinatorConfig struct {
	// Assignment loop tick interval.
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	// Maximum handoffs per task before retries stop.
	MaxHandoffs int `yaml:"max_handoffs" env:"MAX_HANDOFFS"`
	// Conversation entries carried across a handoff.
	ConversationWindow int `yaml:"conversation_window" env:"CONVERSATION_WINDOW"`
	// Settled task records kept queryable before the oldest are evicted.
	TerminalRetention int `yaml:"terminal_retention" env:"TERMINAL_RETENTION"`

	// Capability score weight in the selection total.
	CapabilityWeight float64 `yaml:"capability_weight" env:"CAPABILITY_WEIGHT"`
	// Performance score weight in the selection total.
	PerformanceWeight float64 `yaml:"performance_weight" env:"PERFORMANCE_WEIGHT"`

	// Health sweep interval.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// Silence duration after which a worker is demoted to offline.
	UnresponsiveAfter time.Duration `yaml:"unresponsive_after" env:"UNRESPONSIVE_AFTER"`

	// Dispatch pool worker ceiling.
	PoolMaxWorkers int `yaml:"pool_max_workers" env:"POOL_MAX_WORKERS"`
	// Dispatch pool queue size.
	PoolQueueSize int `yaml:"pool_queue_size" env:"POOL_QUEUE_SIZE"`
	// Idle timeout before pool workers exit.
	PoolIdleTimeout time.Duration `yaml:"pool_idle_timeout" env:"POOL_IDLE_TIMEOUT"`
}

// ArchiveConfig configures the optional terminal-task archive.
type ArchiveConfig struct {
	// Enabled turns archival on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Driver selects the store: memory or sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path to the SQLite database file.
	Path string `yaml:"path" env:"PATH"`
	// Retention window; settled records older than this are removed.
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// Output paths, e.g. stdout or file paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces at error level.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// CoordinatorSettings maps the flat YAML fields onto the coordinator's
// structured configuration.
func (c CoordinatorConfig) CoordinatorSettings() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	if c.TickInterval > 0 {
		cfg.Scheduler.TickInterval = c.TickInterval
	}
	if c.MaxHandoffs > 0 {
		cfg.Scheduler.MaxHandoffs = c.MaxHandoffs
	}
	if c.ConversationWindow > 0 {
		cfg.Scheduler.ConversationWindow = c.ConversationWindow
	}
	if c.TerminalRetention > 0 {
		cfg.Scheduler.TerminalRetention = c.TerminalRetention
	}
	if c.CapabilityWeight > 0 {
		cfg.Weights.Capability = c.CapabilityWeight
	}
	if c.PerformanceWeight > 0 {
		cfg.Weights.Performance = c.PerformanceWeight
	}
	if c.SweepInterval > 0 {
		cfg.Health.SweepInterval = c.SweepInterval
	}
	if c.UnresponsiveAfter > 0 {
		cfg.Health.UnresponsiveAfter = c.UnresponsiveAfter
	}
	if c.PoolMaxWorkers > 0 {
		cfg.Pool.MaxWorkers = c.PoolMaxWorkers
	}
	if c.PoolQueueSize > 0 {
		cfg.Pool.QueueSize = c.PoolQueueSize
	}
	if c.PoolIdleTimeout > 0 {
		cfg.Pool.IdleTimeout = c.PoolIdleTimeout
	}
	return cfg
}

// SQLiteSettings maps archive fields onto the SQLite store configuration.
func (a ArchiveConfig) SQLiteSettings() persistence.SQLiteConfig {
	cfg := persistence.DefaultSQLiteConfig()
	if a.Path != "" {
		cfg.Path = a.Path
	}
	return cfg
}
