package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's Prometheus metrics.
type Collector struct {
	transitions  *prometheus.CounterVec
	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	payments     *prometheus.CounterVec
	reconciled   prometheus.Counter
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "maintenance_transitions_total",
				Help: "Lifecycle operations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_processed_total",
				Help: "Side-effect tasks handled by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Side-effect task handler latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_calls_total",
				Help: "Payment gateway calls by action and outcome",
			},
			[]string{"action", "outcome"},
		),
		reconciled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_captures_requeued_total",
				Help: "Capture tasks enqueued by the reconciliation sweep",
			},
		),
	}
	reg.MustRegister(c.transitions, c.tasks, c.taskDuration, c.payments, c.reconciled)
	return c
}

func (c *Collector) ObserveTransition(op, outcome string) {
	c.transitions.WithLabelValues(op, outcome).Inc()
}

func (c *Collector) ObserveTask(taskType, outcome string, elapsed time.Duration) {
	c.tasks.WithLabelValues(taskType, outcome).Inc()
	c.taskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

func (c *Collector) ObservePayment(action, outcome string) {
	c.payments.WithLabelValues(action, outcome).Inc()
}

func (c *Collector) ObserveRequeued(n int) {
	c.reconciled.Add(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
