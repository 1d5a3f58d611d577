package worker

import (
	"context"
	"time"

	"labspawn/internal/queue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	tasks    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	busy     prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer, q queue.Queue) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "labspawn_tasks_total",
			Help: "Tasks executed by the worker pool, by kind and outcome",
		}, []string{"kind", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "labspawn_task_duration_seconds",
			Help:    "Wall time spent executing a task",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"kind"}),
		busy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "labspawn_workers_busy",
			Help: "Workers currently executing a task",
		}),
	}

	stat := func(pick func(queue.Stats) int) func() float64 {
		return func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			s, err := q.Stats(ctx)
			if err != nil {
				return 0
			}
			return float64(pick(s))
		}
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "labspawn_queue_pending",
		Help: "Tasks waiting to be claimed",
	}, stat(func(s queue.Stats) int { return s.Pending }))
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "labspawn_queue_in_flight",
		Help: "Tasks claimed by a worker",
	}, stat(func(s queue.Stats) int { return s.InFlight }))
	return m
}

func (m *Metrics) observe(kind queue.Kind, outcome string, d time.Duration) {
	m.tasks.WithLabelValues(string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func outcome(r queue.Result) string {
	if r.Success {
		return "success"
	}
	return "failure"
}
