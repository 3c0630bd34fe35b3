// Package metrics provides internal metrics collection for the coordination
// engine. This package is internal and should not be imported by external
// projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector holds the Prometheus instruments of the coordinator.
type Collector struct {
	tasksSubmitted    *prometheus.CounterVec
	tasksAssigned     prometheus.Counter
	tasksSettled      *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
	workersByState    *prometheus.GaugeVec
	handoffsTotal     *prometheus.CounterVec
	healthDemotions   prometheus.Counter
	schedulerTicks    prometheus.Counter

	logger *zap.Logger
}

// NewCollector registers the coordination instruments on reg. Passing nil
// uses the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.tasksSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted",
		},
		[]string{"priority"},
	)

	c.tasksAssigned = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_assigned_total",
			Help:      "Total number of task assignments committed",
		},
	)

	c.tasksSettled = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_settled_total",
			Help:      "Total number of task settlements by outcome",
		},
		[]string{"status"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_duration_seconds",
			Help:      "Worker execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	c.queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of tasks currently pending in the queue",
		},
	)

	c.workersByState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of registered workers by availability",
		},
		[]string{"availability"},
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoff attempts by outcome",
		},
		[]string{"outcome"},
	)

	c.healthDemotions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_demotions_total",
			Help:      "Total number of workers demoted to offline by the health monitor",
		},
	)

	c.schedulerTicks = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_ticks_total",
			Help:      "Total number of assignment loop passes",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordSubmission records one submitted task.
func (c *Collector) RecordSubmission(priority string) {
	if c == nil {
		return
	}
	c.tasksSubmitted.WithLabelValues(priority).Inc()
}

// RecordAssignment records one committed assignment.
func (c *Collector) RecordAssignment() {
	if c == nil {
		return
	}
	c.tasksAssigned.Inc()
}

// RecordSettlement records one task settlement and its execution duration.
func (c *Collector) RecordSettlement(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksSettled.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetQueueDepth records the current pending-queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// SetWorkerCount records the worker count for one availability state.
func (c *Collector) SetWorkerCount(availability string, count int) {
	if c == nil {
		return
	}
	c.workersByState.WithLabelValues(availability).Set(float64(count))
}

// RecordHandoff records one handoff attempt outcome: "executed",
// "no_target", or "failed".
func (c *Collector) RecordHandoff(outcome string) {
	if c == nil {
		return
	}
	c.handoffsTotal.WithLabelValues(outcome).Inc()
}

// RecordHealthDemotion records one health-monitor demotion.
func (c *Collector) RecordHealthDemotion() {
	if c == nil {
		return
	}
	c.healthDemotions.Inc()
}

// RecordTick records one assignment loop pass.
func (c *Collector) RecordTick() {
	if c == nil {
		return
	}
	c.schedulerTicks.Inc()
}
