// Package pool runs research jobs on a fixed set of supervised worker slots.
//
// All pool state (slot table, job table, FIFO queue) is owned by a single
// control loop goroutine. Workers, timers and the public API communicate
// with the loop only through messages, so no lock protects the state.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/telemetry"
)

var (
	// ErrPoolClosed is returned by Submit after Stop, and delivered to the
	// error callback of jobs abandoned by shutdown.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrDuplicateJob is returned when a job ID is already queued or running.
	ErrDuplicateJob = errors.New("job id already active")
	// ErrJobTimeout is the failure recorded when a job exceeds the deadline.
	ErrJobTimeout = errors.New("job exceeded deadline")
)

type slotState string

const (
	slotIdle    slotState = "idle"
	slotBusy    slotState = "busy"
	slotError   slotState = "error"
	slotRetired slotState = "retired"
)

type jobState int

const (
	jobQueued jobState = iota
	jobRunning
	jobWaitingRetry
	jobCancelling
)

// WorkerStatus is the externally visible state of one slot.
type WorkerStatus struct {
	ID        int       `json:"id"`
	State     string    `json:"state"`
	JobID     string    `json:"job_id,omitempty"`
	Completed int       `json:"completed"`
	Failures  int       `json:"failures"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Status is a point-in-time view of the pool.
type Status struct {
	Workers    []WorkerStatus `json:"workers"`
	QueueDepth int            `json:"queue_depth"`
	ActiveJobs int            `json:"active_jobs"`
}

// Callbacks carry the per-job notification functions. Any may be nil.
type Callbacks struct {
	OnProgress research.ProgressFunc
	OnComplete research.CompleteFunc
	OnError    research.ErrorFunc
}

type slot struct {
	id        int
	state     slotState
	epoch     int
	completed int
	failures  int
	jobID     string
	startedAt time.Time
	cancel    context.CancelFunc
	timeout   *time.Timer
}

type jobEntry struct {
	job        research.Job
	cbs        Callbacks
	state      jobState
	retryCount int
	slotID     int
	startedAt  time.Time
}

// control-loop messages
type (
	submitMsg struct {
		job   research.Job
		cbs   Callbacks
		reply chan error
	}
	cancelMsg struct {
		jobID string
		reply chan bool
	}
	statusMsg struct {
		reply chan Status
	}
	progressMsg struct {
		slotID, epoch int
		jobID         string
		progress      int
	}
	resultMsg struct {
		slotID, epoch int
		jobID         string
		result        research.JobResult
		err           error
	}
	timeoutMsg struct {
		slotID, epoch int
	}
	respawnMsg struct {
		slotID int
	}
	retryMsg struct {
		jobID string
	}
)

// Manager owns the worker slots and the pending-job queue.
type Manager struct {
	cfg      config.ResearchConfig
	pipeline research.Pipeline
	tel      *telemetry.Telemetry
	logger   *log.Logger

	events chan any
	quit   chan struct{}
	done   chan struct{}

	dispatch *dispatcher
}

// NewManager starts the control loop with cfg.PoolSize worker slots.
func NewManager(cfg config.ResearchConfig, pipeline research.Pipeline, tel *telemetry.Telemetry) *Manager {
	if tel == nil {
		tel = telemetry.New(config.TelemetryConfig{}, nil)
	}
	m := &Manager{
		cfg:      cfg,
		pipeline: pipeline,
		tel:      tel,
		logger:   log.New(log.Writer(), "[POOL] ", log.LstdFlags),
		events:   make(chan any, 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		dispatch: newDispatcher(),
	}
	go m.loop()
	return m
}

// Submit queues a job. It returns once the control loop has accepted or
// rejected the job; execution is asynchronous.
func (m *Manager) Submit(job research.Job, cbs Callbacks) error {
	if err := job.Validate(); err != nil {
		return err
	}
	msg := submitMsg{job: job, cbs: cbs, reply: make(chan error, 1)}
	select {
	case m.events <- msg:
	case <-m.done:
		return ErrPoolClosed
	}
	select {
	case err := <-msg.reply:
		return err
	case <-m.done:
		return ErrPoolClosed
	}
}

// Cancel removes a queued job or cancels a running one. Cancelled jobs
// produce no further callbacks. It reports whether the job was known.
func (m *Manager) Cancel(jobID string) bool {
	msg := cancelMsg{jobID: jobID, reply: make(chan bool, 1)}
	select {
	case m.events <- msg:
	case <-m.done:
		return false
	}
	select {
	case ok := <-msg.reply:
		return ok
	case <-m.done:
		return false
	}
}

// Status reports the current slot and queue state.
func (m *Manager) Status() Status {
	msg := statusMsg{reply: make(chan Status, 1)}
	select {
	case m.events <- msg:
	case <-m.done:
		return Status{}
	}
	select {
	case st := <-msg.reply:
		return st
	case <-m.done:
		return Status{}
	}
}

// Stop drains the pool: pending jobs are failed with ErrPoolClosed, running
// jobs are cancelled, and the call returns when the loop has exited or ctx
// ends.
func (m *Manager) Stop(ctx context.Context) error {
	select {
	case <-m.quit:
	default:
		close(m.quit)
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send delivers an event unless the loop has exited. Used by workers and
// timers so they never block past shutdown.
func (m *Manager) send(ev any) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) loop() {
	slots := make([]*slot, m.cfg.PoolSize)
	for i := range slots {
		slots[i] = &slot{id: i, state: slotIdle}
	}
	jobs := make(map[string]*jobEntry)
	var queue []string
	draining := false

	defer func() {
		m.dispatch.close()
		close(m.done)
	}()

	assign := func() {
		for _, s := range slots {
			if len(queue) == 0 {
				break
			}
			if s.state != slotIdle {
				continue
			}
			jobID := queue[0]
			queue = queue[1:]
			entry := jobs[jobID]
			m.startJob(s, entry)
		}
		m.updateGauges(slots, queue)
	}

	// failSlot applies the respawn/retire policy after a worker failure.
	failSlot := func(s *slot) {
		s.failures++
		s.jobID = ""
		s.cancel = nil
		if s.failures >= m.cfg.MaxWorkerFailures {
			s.state = slotRetired
			m.tel.WorkerRetired()
			m.logger.Printf("worker %d retired after %d failures", s.id, s.failures)
			return
		}
		s.state = slotError
		id := s.id
		time.AfterFunc(m.cfg.RespawnDelay, func() { m.send(respawnMsg{slotID: id}) })
	}

	// failJob retries retryable failures with backoff until the budget is
	// spent, then surfaces the error callback.
	failJob := func(entry *jobEntry, err error) {
		if research.IsRetryable(err) && entry.retryCount < m.cfg.MaxJobRetries && !draining {
			entry.retryCount++
			entry.state = jobWaitingRetry
			m.tel.JobRetried()
			delay := m.backoff(entry.retryCount)
			m.logger.Printf("job %s attempt %d failed (%v), retrying in %v", entry.job.ID, entry.retryCount, err, delay)
			id := entry.job.ID
			time.AfterFunc(delay, func() { m.send(retryMsg{jobID: id}) })
			return
		}
		m.tel.JobFailed()
		m.logger.Printf("job %s failed terminally: %v", entry.job.ID, err)
		delete(jobs, entry.job.ID)
		if cb := entry.cbs.OnError; cb != nil {
			jobID := entry.job.ID
			m.dispatch.enqueue(func() { cb(jobID, err) })
		}
	}

	for {
		var ev any
		if draining {
			if !m.hasBusy(slots) {
				for _, id := range queue {
					entry := jobs[id]
					delete(jobs, id)
					if cb := entry.cbs.OnError; cb != nil {
						jobID := id
						m.dispatch.enqueue(func() { cb(jobID, ErrPoolClosed) })
					}
				}
				return
			}
			ev = <-m.events
		} else {
			select {
			case ev = <-m.events:
			case <-m.quit:
				draining = true
				for _, s := range slots {
					if s.state == slotBusy && s.cancel != nil {
						s.cancel()
					}
				}
				continue
			}
		}

		switch msg := ev.(type) {
		case submitMsg:
			if draining {
				msg.reply <- ErrPoolClosed
				continue
			}
			if _, exists := jobs[msg.job.ID]; exists {
				msg.reply <- fmt.Errorf("%w: %s", ErrDuplicateJob, msg.job.ID)
				continue
			}
			jobs[msg.job.ID] = &jobEntry{job: msg.job, cbs: msg.cbs, state: jobQueued}
			queue = append(queue, msg.job.ID)
			m.tel.JobSubmitted()
			msg.reply <- nil
			assign()

		case cancelMsg:
			entry, ok := jobs[msg.jobID]
			if !ok {
				msg.reply <- false
				continue
			}
			switch entry.state {
			case jobQueued:
				queue = removeID(queue, msg.jobID)
				delete(jobs, msg.jobID)
			case jobWaitingRetry:
				delete(jobs, msg.jobID)
			case jobRunning:
				entry.state = jobCancelling
				if s := slots[entry.slotID]; s.cancel != nil {
					s.cancel()
				}
			}
			msg.reply <- true
			m.updateGauges(slots, queue)

		case statusMsg:
			st := Status{QueueDepth: len(queue), ActiveJobs: len(jobs)}
			for _, s := range slots {
				st.Workers = append(st.Workers, WorkerStatus{
					ID: s.id, State: string(s.state), JobID: s.jobID,
					Completed: s.completed, Failures: s.failures, StartedAt: s.startedAt,
				})
			}
			msg.reply <- st

		case progressMsg:
			s := slots[msg.slotID]
			if msg.epoch != s.epoch {
				continue
			}
			entry, ok := jobs[msg.jobID]
			if !ok || entry.state != jobRunning {
				continue
			}
			if cb := entry.cbs.OnProgress; cb != nil {
				jobID, p := msg.jobID, msg.progress
				m.dispatch.enqueue(func() { cb(jobID, p) })
			}

		case resultMsg:
			s := slots[msg.slotID]
			if msg.epoch != s.epoch {
				continue
			}
			if s.timeout != nil {
				s.timeout.Stop()
				s.timeout = nil
			}
			entry := jobs[msg.jobID]
			if entry == nil {
				s.state = slotIdle
				s.jobID = ""
				assign()
				continue
			}
			switch {
			case entry.state == jobCancelling:
				delete(jobs, msg.jobID)
				s.state = slotIdle
				s.jobID = ""
				s.cancel = nil
			case msg.err != nil:
				err := msg.err
				if draining {
					err = fmt.Errorf("%w: %v", ErrPoolClosed, err)
					entry.retryCount = m.cfg.MaxJobRetries // no retries past shutdown
				}
				failJob(entry, err)
				if isCrash(msg.err) {
					failSlot(s)
				} else {
					// The worker survived; the failure belongs to the job,
					// not the slot.
					s.state = slotIdle
					s.jobID = ""
					s.cancel = nil
				}
			default:
				m.tel.JobCompleted(time.Since(entry.startedAt), msg.result.Fallback)
				delete(jobs, msg.jobID)
				s.state = slotIdle
				s.jobID = ""
				s.cancel = nil
				s.completed++
				s.failures = 0
				if cb := entry.cbs.OnComplete; cb != nil {
					result := msg.result
					m.dispatch.enqueue(func() { cb(result) })
				}
			}
			assign()

		case timeoutMsg:
			s := slots[msg.slotID]
			if msg.epoch != s.epoch || s.state != slotBusy {
				continue
			}
			entry := jobs[s.jobID]
			if s.cancel != nil {
				s.cancel()
			}
			// Abandon the worker goroutine: bump the epoch so its eventual
			// result is dropped, and free the slot through the failure path.
			s.epoch++
			if entry != nil && entry.state == jobCancelling {
				delete(jobs, s.jobID)
			} else if entry != nil {
				failJob(entry, research.Transient("run", fmt.Errorf("%w after %v", ErrJobTimeout, m.cfg.JobTimeout)))
			}
			failSlot(s)
			assign()

		case respawnMsg:
			s := slots[msg.slotID]
			if s.state != slotError {
				continue
			}
			s.state = slotIdle
			m.tel.WorkerRespawned()
			m.logger.Printf("worker %d respawned", s.id)
			assign()

		case retryMsg:
			entry, ok := jobs[msg.jobID]
			if !ok || entry.state != jobWaitingRetry {
				continue
			}
			entry.state = jobQueued
			queue = append(queue, msg.jobID)
			assign()
		}
	}
}

// startJob assigns entry to slot s and launches the worker goroutine.
func (m *Manager) startJob(s *slot, entry *jobEntry) {
	s.epoch++
	s.state = slotBusy
	s.jobID = entry.job.ID
	s.startedAt = time.Now()
	entry.state = jobRunning
	entry.slotID = s.id
	entry.startedAt = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	slotID, epoch := s.id, s.epoch
	if m.cfg.JobTimeout > 0 {
		s.timeout = time.AfterFunc(m.cfg.JobTimeout, func() {
			m.send(timeoutMsg{slotID: slotID, epoch: epoch})
		})
	}
	go m.runWorker(ctx, slotID, epoch, entry.job)
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.cfg.RetryBackoffBase
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if m.cfg.RetryBackoffMax > 0 && d >= m.cfg.RetryBackoffMax {
			return m.cfg.RetryBackoffMax
		}
	}
	if m.cfg.RetryBackoffMax > 0 && d > m.cfg.RetryBackoffMax {
		d = m.cfg.RetryBackoffMax
	}
	return d
}

func (m *Manager) hasBusy(slots []*slot) bool {
	for _, s := range slots {
		if s.state == slotBusy {
			return true
		}
	}
	return false
}

func (m *Manager) updateGauges(slots []*slot, queue []string) {
	busy := 0
	for _, s := range slots {
		if s.state == slotBusy {
			busy++
		}
	}
	m.tel.SetBusyWorkers(busy)
	m.tel.SetQueueDepth(len(queue))
}

// isCrash reports whether err came out of a worker panic rather than an
// ordinary pipeline failure.
func isCrash(err error) bool {
	var je *research.JobError
	if errors.As(err, &je) {
		return je.Kind == research.KindWorkerCrash
	}
	return false
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
