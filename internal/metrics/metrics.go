// Package metrics exposes the orchestrator's Prometheus instrumentation:
// queue depth, task outcomes, RPC reconnects, and primitive latency, served
// at GET /metrics by internal/api.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metric this process exports. Construct once at
// startup with New and pass the same instance to every collaborator that
// needs to record an observation.
type Registry struct {
	TasksSubmitted   *prometheus.CounterVec
	TasksTerminal    *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	RPCReconnects    *prometheus.CounterVec
	RobotConnected   *prometheus.GaugeVec
	PrimitiveLatency *prometheus.HistogramVec
	PrimitiveErrors  *prometheus.CounterVec
}

// New registers every collector against prometheus's default registerer via
// promauto, the same pattern the example pack's engine components use.
func New() *Registry {
	return &Registry{
		TasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Total tasks submitted to the task engine, by cmd_type.",
		}, []string{"cmd_type"}),

		TasksTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_terminal_total",
			Help: "Total tasks reaching a terminal status, by cmd_type and status.",
		}, []string{"cmd_type", "status"}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of tasks waiting in the task queue.",
		}),

		RPCReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_rpc_reconnects_total",
			Help: "Total reconnect attempts per robot RPC client.",
		}, []string{"robot"}),

		RobotConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_robot_connected",
			Help: "1 if the named robot's WebSocket link is currently connected, else 0.",
		}, []string{"robot"}),

		PrimitiveLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_primitive_latency_seconds",
			Help:    "Latency of robot primitive round trips, by action.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"action"}),

		PrimitiveErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_primitive_errors_total",
			Help: "Total primitive call failures, by action and unified error code.",
		}, []string{"action", "code"}),
	}
}

// ObservePrimitive records one primitive round trip's latency and, if code
// is non-empty, an error count.
func (r *Registry) ObservePrimitive(action string, d time.Duration, code string) {
	r.PrimitiveLatency.WithLabelValues(action).Observe(d.Seconds())
	if code != "" {
		r.PrimitiveErrors.WithLabelValues(action, code).Inc()
	}
}
