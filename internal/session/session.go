// Package session aggregates the jobs of one document research run: per-job
// progress, results and failures, rolled up into an overall status.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/compendium/internal/pool"
	"github.com/mohammad-safakhou/compendium/internal/research"
)

// Status of a whole session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// JobStatus of one tracked job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "error"
)

// Submitter re-queues jobs. *pool.Manager satisfies it.
type Submitter interface {
	Submit(job research.Job, cbs pool.Callbacks) error
}

// SnapshotPublisher receives session snapshots on every state change.
// Publishing is fire-and-forget; failures never affect the session.
type SnapshotPublisher interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// JobView is the externally visible state of one tracked job.
type JobView struct {
	Job      research.Job        `json:"job"`
	Progress int                 `json:"progress"`
	Status   JobStatus           `json:"status"`
	Result   *research.JobResult `json:"result,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	Status          Status    `json:"status"`
	OverallProgress int       `json:"overall_progress"`
	Jobs            []JobView `json:"jobs"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      time.Time `json:"finished_at,omitempty"`
}

// Session tracks the jobs of one document research run. Safe for concurrent
// use; pool callbacks and API reads share it.
type Session struct {
	id         string
	documentID string

	mu         sync.Mutex
	jobs       map[string]*jobTrack
	order      []string
	startedAt  time.Time
	finishedAt time.Time
	notified   bool

	onComplete func(Snapshot)
	onSettled  func(Snapshot)
	publisher  SnapshotPublisher
	logger     *log.Logger
}

type jobTrack struct {
	job      research.Job
	progress int
	status   JobStatus
	result   *research.JobResult
	err      error
}

// Option customizes a Session.
type Option func(*Session)

// WithOnComplete registers a callback fired exactly once when every tracked
// job has completed successfully. Sessions with failed jobs never fire it;
// use WithOnSettled to observe those.
func WithOnComplete(fn func(Snapshot)) Option {
	return func(s *Session) { s.onComplete = fn }
}

// WithOnSettled registers a callback fired exactly once when every tracked
// job has reached a terminal state, whatever the outcome.
func WithOnSettled(fn func(Snapshot)) Option {
	return func(s *Session) { s.onSettled = fn }
}

// WithPublisher streams snapshots to p on every state change.
func WithPublisher(p SnapshotPublisher) Option {
	return func(s *Session) { s.publisher = p }
}

// New creates a session for the given document.
func New(documentID string, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		documentID: documentID,
		jobs:       make(map[string]*jobTrack),
		startedAt:  time.Now(),
		logger:     log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) ID() string         { return s.id }
func (s *Session) DocumentID() string { return s.documentID }

// Track registers a job and returns the pool callbacks that feed it.
// Register every job before submitting any, otherwise an early completion
// can mark a partially tracked session complete.
func (s *Session) Track(job research.Job) pool.Callbacks {
	s.mu.Lock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.jobs[job.ID] = &jobTrack{job: job, status: JobRunning}
		s.order = append(s.order, job.ID)
	}
	s.mu.Unlock()

	return pool.Callbacks{
		OnProgress: s.handleProgress,
		OnComplete: s.handleComplete,
		OnError:    s.handleError,
	}
}

// handleProgress records a monotone progress update. Regressions from
// delayed deliveries are dropped.
func (s *Session) handleProgress(jobID string, progress int) {
	s.mu.Lock()
	t, ok := s.jobs[jobID]
	if ok && t.status == JobRunning && progress > t.progress {
		t.progress = progress
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) handleComplete(result research.JobResult) {
	s.mu.Lock()
	if t, ok := s.jobs[result.JobID]; ok && t.status == JobRunning {
		r := result
		t.result = &r
		t.progress = research.CheckpointDone
		t.status = JobCompleted
	}
	s.mu.Unlock()
	s.finishIfDone()
	s.publish()
}

func (s *Session) handleError(jobID string, err error) {
	s.mu.Lock()
	if t, ok := s.jobs[jobID]; ok && t.status == JobRunning {
		t.err = err
		t.status = JobFailed
	}
	s.mu.Unlock()
	s.finishIfDone()
	s.publish()
}

// finishIfDone fires the settle callbacks exactly once when no job is still
// running. onComplete is reserved for sessions where every job succeeded.
func (s *Session) finishIfDone() {
	s.mu.Lock()
	if s.notified || len(s.jobs) == 0 {
		s.mu.Unlock()
		return
	}
	for _, t := range s.jobs {
		if t.status == JobRunning {
			s.mu.Unlock()
			return
		}
	}
	s.notified = true
	s.finishedAt = time.Now()
	snap := s.snapshotLocked()
	settled := s.onSettled
	complete := s.onComplete
	s.mu.Unlock()

	s.logger.Printf("session %s finished: status=%s progress=%d%%", snap.ID, snap.Status, snap.OverallProgress)
	if settled != nil {
		settled(snap)
	}
	if complete != nil && snap.Status == StatusCompleted {
		complete(snap)
	}
}

// publish sends a snapshot without blocking the caller.
func (s *Session) publish() {
	if s.publisher == nil {
		return
	}
	snap := s.Snapshot()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, snap); err != nil {
			s.logger.Printf("session %s: snapshot publish failed: %v", s.id, err)
		}
	}()
}

// OverallProgress is the mean of per-job progress, in [0,100].
func (s *Session) OverallProgress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() int {
	if len(s.jobs) == 0 {
		return 0
	}
	sum := 0
	for _, t := range s.jobs {
		sum += t.progress
	}
	return sum / len(s.jobs)
}

// Status rolls up job statuses: error wins over completed, and any running
// job keeps the session running.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	if len(s.jobs) == 0 {
		return StatusRunning
	}
	failed := false
	for _, t := range s.jobs {
		switch t.status {
		case JobRunning:
			return StatusRunning
		case JobFailed:
			failed = true
		}
	}
	if failed {
		return StatusError
	}
	return StatusCompleted
}

// Snapshot copies the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:              s.id,
		DocumentID:      s.documentID,
		Status:          s.statusLocked(),
		OverallProgress: s.progressLocked(),
		StartedAt:       s.startedAt,
		FinishedAt:      s.finishedAt,
	}
	for _, id := range s.order {
		t := s.jobs[id]
		v := JobView{Job: t.job, Progress: t.progress, Status: t.status}
		if t.result != nil {
			r := *t.result
			v.Result = &r
		}
		if t.err != nil {
			v.Error = t.err.Error()
		}
		snap.Jobs = append(snap.Jobs, v)
	}
	return snap
}

// ResultsByCategory groups completed job results by category, in insertion
// order within each category.
func (s *Session) ResultsByCategory() map[research.Category][]research.JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[research.Category][]research.JobResult)
	for _, id := range s.order {
		t := s.jobs[id]
		if t.result != nil {
			out[t.job.Category] = append(out[t.job.Category], *t.result)
		}
	}
	return out
}

// RetryFailedJobs resubmits every failed job and returns how many were
// requeued. The session reopens: the settle and completion callbacks can fire
// again once the retried jobs finish.
func (s *Session) RetryFailedJobs(sub Submitter) (int, error) {
	s.mu.Lock()
	var retry []research.Job
	for _, id := range s.order {
		t := s.jobs[id]
		if t.status == JobFailed {
			retry = append(retry, t.job)
		}
	}
	s.mu.Unlock()

	requeued := 0
	for _, job := range retry {
		s.mu.Lock()
		t := s.jobs[job.ID]
		t.status = JobRunning
		t.progress = 0
		t.err = nil
		s.notified = false
		s.finishedAt = time.Time{}
		s.mu.Unlock()

		if err := sub.Submit(job, pool.Callbacks{
			OnProgress: s.handleProgress,
			OnComplete: s.handleComplete,
			OnError:    s.handleError,
		}); err != nil {
			s.mu.Lock()
			t.status = JobFailed
			t.err = err
			s.mu.Unlock()
			s.finishIfDone()
			return requeued, err
		}
		requeued++
	}
	s.publish()
	return requeued, nil
}
