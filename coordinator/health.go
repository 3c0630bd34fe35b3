package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/taskmesh/taskmesh/internal/metrics"
	"go.uber.org/zap"
)

// HealthConfig configures the health monitor.
type HealthConfig struct {
	// SweepInterval is how often registered workers are checked.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	// UnresponsiveAfter is how long a worker may stay silent before it is
	// demoted to offline.
	UnresponsiveAfter time.Duration `yaml:"unresponsive_after" json:"unresponsive_after"`
}

// DefaultHealthConfig returns sensible defaults.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		SweepInterval:     60 * time.Second,
		UnresponsiveAfter: 300 * time.Second,
	}
}

// HealthMonitor periodically demotes unresponsive workers to offline and
// requeues their in-flight work. Demoted workers stay in the registry so a
// later status signal can revive them.
type HealthMonitor struct {
	cfg       HealthConfig
	registry  *Registry
	scheduler *Scheduler
	metrics   *metrics.Collector
	logger    *zap.Logger
	clock     func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// NewHealthMonitor creates a health monitor.
func NewHealthMonitor(cfg HealthConfig, registry *Registry, scheduler *Scheduler, collector *metrics.Collector, logger *zap.Logger) *HealthMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultHealthConfig().SweepInterval
	}
	if cfg.UnresponsiveAfter <= 0 {
		cfg.UnresponsiveAfter = DefaultHealthConfig().UnresponsiveAfter
	}
	return &HealthMonitor{
		cfg:       cfg,
		registry:  registry,
		scheduler: scheduler,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "health_monitor")),
		clock:     time.Now,
		done:      make(chan struct{}),
	}
}

// Start launches the background sweep.
func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
	m.logger.Info("health monitor started",
		zap.Duration("sweep_interval", m.cfg.SweepInterval),
		zap.Duration("unresponsive_after", m.cfg.UnresponsiveAfter),
	)
}

// Stop terminates the sweep loop.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Sweep demotes every worker silent past the threshold and requeues the
// task it was executing, exactly as unregistration does, except the worker
// entry is kept.
func (m *HealthMonitor) Sweep() {
	cutoff := m.clock().Add(-m.cfg.UnresponsiveAfter)
	demoted := m.registry.sweepStale(cutoff)
	for _, workerID := range demoted {
		m.logger.Warn("worker unresponsive, demoted to offline",
			zap.String("worker_id", workerID),
		)
		m.scheduler.RequeueWorker(workerID)
		m.metrics.RecordHealthDemotion()
	}
}
