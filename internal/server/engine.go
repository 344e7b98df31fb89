package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/archive"
	"github.com/mohammad-safakhou/compendium/internal/graph"
	"github.com/mohammad-safakhou/compendium/internal/pool"
	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/session"
	"github.com/mohammad-safakhou/compendium/internal/store"
)

// ErrUnknownSession is returned for session IDs with no live session.
var ErrUnknownSession = errors.New("unknown session")

// Engine ties the worker pool, session tracking, the source archive and
// persistence together behind the API handlers.
type Engine struct {
	Cfg       *config.Config
	Pool      *pool.Manager
	Pipeline  research.Pipeline
	Generator research.Generator
	Archive   *archive.Archive
	Store     *store.Store              // optional; nil disables persistence
	Publisher session.SnapshotPublisher // optional

	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*session.Session
}

func NewEngine(cfg *config.Config, mgr *pool.Manager, pipeline research.Pipeline, gen research.Generator) *Engine {
	return &Engine{
		Cfg:       cfg,
		Pool:      mgr,
		Pipeline:  pipeline,
		Generator: gen,
		Archive:   archive.New(),
		logger:    log.New(log.Writer(), "[ENGINE] ", log.LstdFlags),
		sessions:  make(map[string]*session.Session),
	}
}

// StartResearch plans queries for the document's purpose and submits one job
// per category as a tracked session.
func (e *Engine) StartResearch(ctx context.Context, doc store.Document, req ResearchStartRequest) (*session.Session, int, error) {
	brief, queries := graph.PlanQueries(ctx, e.Generator, doc.Purpose, e.Cfg.Research.MaxQueriesPerJob)

	jobs := make([]research.Job, 0, len(research.Categories()))
	for _, cat := range research.Categories() {
		jobs = append(jobs, research.Job{
			ID:          uuid.NewString(),
			Category:    cat,
			Queries:     queries[cat],
			PurposeText: brief,
			Requirements: research.Requirements{
				TargetSourceCount: req.TargetSourceCount,
				AnalysisDepth:     req.AnalysisDepth,
			},
		})
	}

	opts := []session.Option{session.WithOnSettled(e.persistSession)}
	if e.Publisher != nil {
		opts = append(opts, session.WithPublisher(e.Publisher))
	}
	sess := session.New(doc.ID, opts...)

	if e.Store != nil {
		if err := e.Store.CreateSession(ctx, sess.ID(), doc.ID); err != nil {
			return nil, 0, fmt.Errorf("create session: %w", err)
		}
	}

	e.mu.Lock()
	e.sessions[sess.ID()] = sess
	e.mu.Unlock()

	// Track every job before submitting any so an early completion cannot
	// mark a partial session finished.
	cbs := make([]pool.Callbacks, len(jobs))
	for i, job := range jobs {
		cbs[i] = e.archiving(sess.ID(), sess.Track(job))
	}
	for i, job := range jobs {
		if err := e.Pool.Submit(job, cbs[i]); err != nil {
			e.logger.Printf("session %s: submit job %s failed: %v", sess.ID(), job.ID, err)
			if cbs[i].OnError != nil {
				cbs[i].OnError(job.ID, err)
			}
		}
	}
	return sess, len(jobs), nil
}

// archiving indexes completed results into the session's source archive
// before the session sees them.
func (e *Engine) archiving(sessionID string, cbs pool.Callbacks) pool.Callbacks {
	inner := cbs.OnComplete
	cbs.OnComplete = func(result research.JobResult) {
		if err := e.Archive.AddResult(sessionID, result); err != nil {
			e.logger.Printf("session %s: archive index failed: %v", sessionID, err)
		}
		if inner != nil {
			inner(result)
		}
	}
	return cbs
}

// Session returns a live session by ID.
func (e *Engine) Session(id string) (*session.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	return s, ok
}

// RetryFailed resubmits the failed jobs of a live session.
func (e *Engine) RetryFailed(sessionID string) (int, error) {
	sess, ok := e.Session(sessionID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return sess.RetryFailedJobs(&archivingSubmitter{engine: e, sessionID: sessionID})
}

// archivingSubmitter wraps pool submission so retried jobs keep feeding the
// session's archive.
type archivingSubmitter struct {
	engine    *Engine
	sessionID string
}

func (a *archivingSubmitter) Submit(job research.Job, cbs pool.Callbacks) error {
	return a.engine.Pool.Submit(job, a.engine.archiving(a.sessionID, cbs))
}

// BuildReport runs the document research flow synchronously, outside the
// pool, and returns the assembled report.
func (e *Engine) BuildReport(ctx context.Context, doc store.Document) (graph.DocumentReport, error) {
	return graph.RunDocumentFlow(ctx, doc.ID, doc.Purpose, graph.FlowDeps{
		Generator:        e.Generator,
		Pipeline:         e.Pipeline,
		QueriesPerBranch: e.Cfg.Research.MaxQueriesPerJob,
	})
}

// persistSession writes the finished session and its section results to the
// store. Best-effort; persistence failures are logged.
func (e *Engine) persistSession(snap session.Snapshot) {
	if e.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Store.SaveSnapshot(ctx, snap); err != nil {
		e.logger.Printf("session %s: snapshot persist failed: %v", snap.ID, err)
		return
	}
	for _, jv := range snap.Jobs {
		if jv.Result == nil {
			continue
		}
		if err := e.Store.InsertSectionResult(ctx, snap.ID, *jv.Result, jv.Job.Category); err != nil {
			e.logger.Printf("session %s: section persist failed for job %s: %v", snap.ID, jv.Job.ID, err)
		}
	}
	e.logger.Printf("session %s persisted: status=%s jobs=%d", snap.ID, snap.Status, len(snap.Jobs))
}

// Shutdown drains the pool and releases per-session archives.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.Pool.Stop(ctx)
	e.mu.Lock()
	for id := range e.sessions {
		e.Archive.Drop(id)
	}
	e.sessions = make(map[string]*session.Session)
	e.mu.Unlock()
	return err
}
