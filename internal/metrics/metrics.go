package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tombee/foreman/pkg/events"
)

var (
	pollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_polls_total",
			Help: "Total poll attempts by task type, server, and outcome",
		},
		[]string{"task_type", "server", "outcome"},
	)

	tasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_tasks_executed_total",
			Help: "Total task executions by task type and outcome",
		},
		[]string{"task_type", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foreman_task_duration_seconds",
			Help:    "Task execution duration by task type",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"task_type"},
	)

	permitsInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foreman_permits_in_use",
			Help: "Execution permits currently held, by task type",
		},
		[]string{"task_type"},
	)

	circuitOpens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_circuit_open_total",
			Help: "Total circuit breaker openings by server",
		},
		[]string{"server"},
	)

	updateFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_update_failures_total",
			Help: "Total results lost after exhausting update retries, by task type and server",
		},
		[]string{"task_type", "server"},
	)
)

// Listener returns an event listener that records runner lifecycle events
// as Prometheus metrics. Subscribe it to each runner's dispatcher.
func Listener() events.Listener {
	return func(e events.Event) {
		switch e.Type {
		case events.TypePollCompleted:
			pollsTotal.WithLabelValues(e.TaskType, e.Server, "success").Inc()
		case events.TypePollFailure:
			pollsTotal.WithLabelValues(e.TaskType, e.Server, "failure").Inc()
		case events.TypeCircuitOpened:
			circuitOpens.WithLabelValues(e.Server).Inc()
		case events.TypeExecutionStarted:
			permitsInUse.WithLabelValues(e.TaskType).Inc()
		case events.TypeExecutionCompleted:
			permitsInUse.WithLabelValues(e.TaskType).Dec()
			tasksExecuted.WithLabelValues(e.TaskType, "completed").Inc()
			taskDuration.WithLabelValues(e.TaskType).Observe(e.Duration.Seconds())
		case events.TypeExecutionFailure:
			permitsInUse.WithLabelValues(e.TaskType).Dec()
			tasksExecuted.WithLabelValues(e.TaskType, "failed").Inc()
			taskDuration.WithLabelValues(e.TaskType).Observe(e.Duration.Seconds())
		case events.TypeUpdateFailure:
			updateFailures.WithLabelValues(e.TaskType, e.Server).Inc()
		}
	}
}
