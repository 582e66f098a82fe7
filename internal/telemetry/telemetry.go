package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	runsStarted     prometheus.Counter
	runsCompleted   prometheus.Counter
	runsFailed      prometheus.Counter
	stageDuration   *prometheus.HistogramVec
	stageFailures   *prometheus.CounterVec
	branchFailures  *prometheus.CounterVec
	eventsBroadcast *prometheus.CounterVec
	eventsDropped   prometheus.Counter
)

func initMetrics() {
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_runs_started_total",
		Help: "Research pipeline runs started",
	})
	runsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_runs_completed_total",
		Help: "Research pipeline runs that reached the completed state",
	})
	runsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_runs_failed_total",
		Help: "Research pipeline runs that reached the error state",
	})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "research_stage_duration_seconds",
		Help:    "Duration of each pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})
	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_stage_failures_total",
		Help: "Stage failures recovered by degrading to a safe default",
	}, []string{"stage"})
	branchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_specialist_failures_total",
		Help: "Specialist branches replaced by a sentinel output",
	}, []string{"platform"})
	eventsBroadcast = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "research_events_broadcast_total",
		Help: "Live events delivered to an attached channel",
	}, []string{"type"})
	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "research_events_dropped_total",
		Help: "Live events dropped because no healthy channel was attached",
	})
}

// Telemetry records pipeline metrics. A nil *Telemetry is valid and
// records nothing, which keeps tests quiet.
type Telemetry struct {
	cfg    config.TelemetryConfig
	logger *log.Logger
}

// New creates a telemetry instance and registers the prometheus
// collectors on first use.
func New(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
	}
	if cfg.Enabled {
		metricsOnce.Do(initMetrics)
	}
	return t
}

func (t *Telemetry) enabled() bool { return t != nil && t.cfg.Enabled }

func (t *Telemetry) RecordRunStarted() {
	if !t.enabled() {
		return
	}
	runsStarted.Inc()
}

func (t *Telemetry) RecordRunCompleted(duration time.Duration) {
	if !t.enabled() {
		return
	}
	runsCompleted.Inc()
	if t.cfg.PeriodicLogs {
		t.logger.Printf("run completed in %v", duration)
	}
}

func (t *Telemetry) RecordRunFailed(duration time.Duration) {
	if !t.enabled() {
		return
	}
	runsFailed.Inc()
	if t.cfg.PeriodicLogs {
		t.logger.Printf("run failed after %v", duration)
	}
}

func (t *Telemetry) RecordStage(stage string, duration time.Duration) {
	if !t.enabled() {
		return
	}
	stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (t *Telemetry) RecordStageFailure(stage string) {
	if !t.enabled() {
		return
	}
	stageFailures.WithLabelValues(stage).Inc()
}

func (t *Telemetry) RecordBranchFailure(platform string) {
	if !t.enabled() {
		return
	}
	branchFailures.WithLabelValues(platform).Inc()
}

func (t *Telemetry) RecordBroadcast(eventType string) {
	if !t.enabled() {
		return
	}
	eventsBroadcast.WithLabelValues(eventType).Inc()
}

func (t *Telemetry) RecordDroppedEvent() {
	if !t.enabled() {
		return
	}
	eventsDropped.Inc()
}
