package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammad-safakhou/compendium/config"
)

// Telemetry tracks pool and pipeline activity. Counters are exported to
// prometheus and mirrored in an in-memory snapshot for the status API.
type Telemetry struct {
	cfg    config.TelemetryConfig
	logger *log.Logger

	mu   sync.RWMutex
	snap Snapshot

	jobsSubmitted   prometheus.Counter
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	jobRetries      prometheus.Counter
	jobDuration     prometheus.Histogram
	workersBusy     prometheus.Gauge
	queueDepth      prometheus.Gauge
	workerRespawns  prometheus.Counter
	workersRetired  prometheus.Counter
	providerCalls   *prometheus.CounterVec
	fallbackResults prometheus.Counter
}

// Snapshot is a point-in-time view of pool activity.
type Snapshot struct {
	JobsSubmitted   int64         `json:"jobs_submitted"`
	JobsCompleted   int64         `json:"jobs_completed"`
	JobsFailed      int64         `json:"jobs_failed"`
	JobRetries      int64         `json:"job_retries"`
	WorkerRespawns  int64         `json:"worker_respawns"`
	WorkersRetired  int64         `json:"workers_retired"`
	FallbackResults int64         `json:"fallback_results"`
	AverageJobTime  time.Duration `json:"average_job_time"`
}

// New builds a Telemetry registered on reg. A nil reg gets a private
// registry, which keeps repeated construction in tests panic-free.
func New(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	t := &Telemetry{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		jobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_jobs_submitted_total", Help: "Research jobs accepted by the pool.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_jobs_completed_total", Help: "Research jobs finished successfully.",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_jobs_failed_total", Help: "Research jobs that failed terminally.",
		}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_job_retries_total", Help: "Retry attempts scheduled for failed jobs.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "compendium_job_duration_seconds",
			Help:    "Wall time of successful jobs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compendium_workers_busy", Help: "Worker slots currently running a job.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "compendium_queue_depth", Help: "Jobs waiting for a worker slot.",
		}),
		workerRespawns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_worker_respawns_total", Help: "Worker slots respawned after failures.",
		}),
		workersRetired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_workers_retired_total", Help: "Worker slots retired after repeated failures.",
		}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compendium_provider_calls_total", Help: "Outbound collaborator calls by provider.",
		}, []string{"provider"}),
		fallbackResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compendium_fallback_results_total", Help: "Jobs completed with deterministic fallback content.",
		}),
	}
	reg.MustRegister(
		t.jobsSubmitted, t.jobsCompleted, t.jobsFailed, t.jobRetries,
		t.jobDuration, t.workersBusy, t.queueDepth,
		t.workerRespawns, t.workersRetired, t.providerCalls, t.fallbackResults,
	)

	if cfg.Enabled && cfg.PeriodicLogs {
		go t.periodicLogs()
	}
	return t
}

func (t *Telemetry) JobSubmitted() {
	t.jobsSubmitted.Inc()
	t.mu.Lock()
	t.snap.JobsSubmitted++
	t.mu.Unlock()
}

func (t *Telemetry) JobCompleted(d time.Duration, fallback bool) {
	t.jobsCompleted.Inc()
	t.jobDuration.Observe(d.Seconds())
	if fallback {
		t.fallbackResults.Inc()
	}
	t.mu.Lock()
	if fallback {
		t.snap.FallbackResults++
	}
	n := t.snap.JobsCompleted
	t.snap.AverageJobTime = (t.snap.AverageJobTime*time.Duration(n) + d) / time.Duration(n+1)
	t.snap.JobsCompleted++
	t.mu.Unlock()
}

func (t *Telemetry) JobFailed() {
	t.jobsFailed.Inc()
	t.mu.Lock()
	t.snap.JobsFailed++
	t.mu.Unlock()
}

func (t *Telemetry) JobRetried() {
	t.jobRetries.Inc()
	t.mu.Lock()
	t.snap.JobRetries++
	t.mu.Unlock()
}

func (t *Telemetry) WorkerRespawned() {
	t.workerRespawns.Inc()
	t.mu.Lock()
	t.snap.WorkerRespawns++
	t.mu.Unlock()
}

func (t *Telemetry) WorkerRetired() {
	t.workersRetired.Inc()
	t.mu.Lock()
	t.snap.WorkersRetired++
	t.mu.Unlock()
}

func (t *Telemetry) SetBusyWorkers(n int) { t.workersBusy.Set(float64(n)) }
func (t *Telemetry) SetQueueDepth(n int)  { t.queueDepth.Set(float64(n)) }

func (t *Telemetry) ProviderCall(provider string) {
	t.providerCalls.WithLabelValues(provider).Inc()
}

// GetSnapshot returns a copy of the in-memory counters.
func (t *Telemetry) GetSnapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Telemetry) periodicLogs() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s := t.GetSnapshot()
		t.logger.Printf("Snapshot: submitted=%d completed=%d failed=%d retries=%d respawns=%d avg=%v",
			s.JobsSubmitted, s.JobsCompleted, s.JobsFailed, s.JobRetries, s.WorkerRespawns, s.AverageJobTime)
	}
}

// Shutdown logs a final activity report.
func (t *Telemetry) Shutdown() {
	s := t.GetSnapshot()
	t.logger.Printf("Final Report: submitted=%d completed=%d failed=%d retries=%d retired=%d fallback=%d",
		s.JobsSubmitted, s.JobsCompleted, s.JobsFailed, s.JobRetries, s.WorkersRetired, s.FallbackResults)
}
