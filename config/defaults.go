package config

import "time"

// DefaultConfig returns defaults for every section.
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Archive:     DefaultArchiveConfig(),
		Log:         DefaultLogConfig(),
	}
}

// DefaultServerConfig returns the default HTTP API settings.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultCoordinatorConfig returns the default scheduling settings.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TickInterval:       time.Second,
		MaxHandoffs:        3,
		ConversationWindow: 10,
		TerminalRetention:  1024,
		CapabilityWeight:   0.7,
		PerformanceWeight:  0.3,
		SweepInterval:      60 * time.Second,
		UnresponsiveAfter:  5 * time.Minute,
		PoolMaxWorkers:     64,
		PoolQueueSize:      256,
		PoolIdleTimeout:    60 * time.Second,
	}
}

// DefaultArchiveConfig returns the default archive settings. The archive
// is off unless enabled.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:         false,
		Driver:          "memory",
		Path:            "taskmesh.db",
		Retention:       7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// DefaultLogConfig returns the default logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}
