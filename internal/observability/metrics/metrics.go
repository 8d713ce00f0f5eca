// Package metrics turns bus events into Prometheus collectors on a private
// registry served by the admin server at /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/notifier"
	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/pipeline"
	"github.com/utestwalter/Mila/internal/task/registrar"
	"github.com/utestwalter/Mila/internal/task/scheduler"
	"github.com/utestwalter/Mila/pkg/logx"
)

const namespace = "mila"

type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	taskEvents     *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	taskQueueDelay prometheus.Histogram
	firings        *prometheus.CounterVec
	scheduleEvents *prometheus.CounterVec
	deliveries     *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	execDuration   prometheus.Histogram
	registrations  *prometheus.CounterVec
}

func New(log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		taskEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "task_events_total",
			Help: "Execution engine lifecycle events by type.",
		}, []string{"event"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "task_duration_seconds",
			Help:    "Wall time of finished or failed engine tasks, all attempts included.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		taskQueueDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "engine", Name: "queue_delay_seconds",
			Help:    "Time a task waited in the queue before a worker picked it up.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "firings_total",
			Help: "Scheduler firings by schedule kind and whether they were missed while down.",
		}, []string{"kind", "missed"}),
		scheduleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "events_total",
			Help: "Scheduler registrations, removals, completions and missed firings.",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notifier", Name: "deliveries_total",
			Help: "Outgoing chat messages by result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "executions_total",
			Help: "Task executions by outcome.",
		}, []string{"outcome"}),
		execDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "execution_duration_seconds",
			Help:    "Duration of one task execution (search, summary and delivery).",
			Buckets: []float64{.05, .25, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "registrar", Name: "changes_total",
			Help: "Tasks registered or deleted by users.",
		}, []string{"action"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.taskEvents, m.taskDuration, m.taskQueueDelay,
		m.firings, m.scheduleEvents,
		m.deliveries,
		m.outcomes, m.execDuration,
		m.registrations,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// GaugeFunc registers a gauge sampled from fn at scrape time.
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, fn)
	if err := m.reg.Register(g); err != nil {
		m.log.Warn("gauge not registered", logx.String("name", name), logx.Err(err))
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	if bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe updates collectors for one event. Unknown events are ignored.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Domain() {
	case "task":
		m.taskEvents.WithLabelValues(ev.Type[len("task."):]).Inc()
		te, ok := ev.Data.(engine.TaskEvent)
		if !ok {
			return
		}
		switch ev.Type {
		case engine.EventStarted:
			m.taskQueueDelay.Observe(te.QueueDelay.Seconds())
		case engine.EventFinished, engine.EventFailed:
			m.taskDuration.Observe(te.Duration.Seconds())
		}

	case "schedule":
		if ev.Type == scheduler.EventFired {
			if se, ok := ev.Data.(scheduler.Event); ok {
				m.firings.WithLabelValues(string(se.Kind), strconv.FormatBool(se.Missed)).Inc()
			}
			return
		}
		m.scheduleEvents.WithLabelValues(ev.Type[len("schedule."):]).Inc()

	case "notifier":
		switch ev.Type {
		case notifier.EventSent:
			m.deliveries.WithLabelValues("sent").Inc()
		case notifier.EventFailed:
			m.deliveries.WithLabelValues("failed").Inc()
		case notifier.EventDeduped:
			m.deliveries.WithLabelValues("deduped").Inc()
		}

	case "pipeline":
		if pe, ok := ev.Data.(pipeline.ExecutionEvent); ok {
			m.outcomes.WithLabelValues(string(pe.Outcome)).Inc()
			m.execDuration.Observe(pe.Duration.Seconds())
		}

	case "registrar":
		switch ev.Type {
		case registrar.EventRegistered:
			m.registrations.WithLabelValues("registered").Inc()
		case registrar.EventDeleted:
			m.registrations.WithLabelValues("deleted").Inc()
		}
	}
}
