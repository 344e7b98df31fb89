package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/pool"
	"github.com/mohammad-safakhou/compendium/internal/research"
	"github.com/mohammad-safakhou/compendium/internal/session"
	"github.com/mohammad-safakhou/compendium/internal/store"
)

type cannedGenerator struct{}

func (cannedGenerator) Complete(_ context.Context, prompt string, _ research.GenerateOptions) (string, error) {
	if strings.Contains(prompt, "web search queries") {
		return "1. lattice surgery overview\n2. surface code thresholds", nil
	}
	return "A brief about quantum error correction.", nil
}

type cannedPipeline struct {
	delay time.Duration
}

func (p *cannedPipeline) Run(ctx context.Context, workerID int, job research.Job, report func(int)) (research.JobResult, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return research.JobResult{}, research.Classify("search", ctx.Err())
		}
	}
	report(research.CheckpointDone)
	return research.JobResult{
		JobID:    job.ID,
		WorkerID: workerID,
		Sources: []research.Source{{
			ID:          job.ID + "-src",
			URL:         fmt.Sprintf("https://example.com/%s", job.Category),
			Title:       "Surface code thresholds in practice",
			Summary:     "Recent experiments on quantum error correction.",
			Credibility: 7,
			Relevance:   8,
		}},
		GeneratedContent: "## " + string(job.Category),
		Metadata:         research.ResultMetadata{OverallCredibility: 7},
	}, nil
}

func testEngineConfig() *config.Config {
	return &config.Config{
		Research: config.ResearchConfig{
			PoolSize:          2,
			JobTimeout:        5 * time.Second,
			MaxJobRetries:     1,
			MaxWorkerFailures: 3,
			RespawnDelay:      time.Millisecond,
			RetryBackoffBase:  time.Millisecond,
			RetryBackoffMax:   10 * time.Millisecond,
			MaxQueriesPerJob:  3,
			TargetSourceCount: 4,
		},
	}
}

func newTestEngine(t *testing.T, pipeline research.Pipeline) *Engine {
	t.Helper()
	cfg := testEngineConfig()
	mgr := pool.NewManager(cfg.Research, pipeline, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = mgr.Stop(ctx)
	})
	return NewEngine(cfg, mgr, pipeline, cannedGenerator{})
}

func waitForStatus(t *testing.T, sess *session.Session, want session.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if sess.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session status = %s, want %s", sess.Status(), want)
}

func TestStartResearchRunsAllCategories(t *testing.T) {
	eng := newTestEngine(t, &cannedPipeline{})

	sess, jobs, err := eng.StartResearch(context.Background(), store.Document{ID: "d-1", Purpose: "quantum error correction"}, ResearchStartRequest{})
	if err != nil {
		t.Fatalf("StartResearch: %v", err)
	}
	if jobs != len(research.Categories()) {
		t.Fatalf("jobs = %d, want %d", jobs, len(research.Categories()))
	}

	waitForStatus(t, sess, session.StatusCompleted)

	snap := sess.Snapshot()
	seen := map[research.Category]bool{}
	for _, jv := range snap.Jobs {
		if jv.Result == nil {
			t.Fatalf("job %s has no result", jv.Job.ID)
		}
		if len(jv.Job.Queries) == 0 {
			t.Fatalf("job %s was submitted without queries", jv.Job.ID)
		}
		seen[jv.Job.Category] = true
	}
	for _, cat := range research.Categories() {
		if !seen[cat] {
			t.Fatalf("no job for category %s", cat)
		}
	}
}

func TestStartResearchIndexesSourcesIntoArchive(t *testing.T) {
	eng := newTestEngine(t, &cannedPipeline{})

	sess, _, err := eng.StartResearch(context.Background(), store.Document{ID: "d-1", Purpose: "quantum error correction"}, ResearchStartRequest{})
	if err != nil {
		t.Fatalf("StartResearch: %v", err)
	}
	waitForStatus(t, sess, session.StatusCompleted)

	hits, err := eng.Archive.Search(sess.ID(), "surface code thresholds", 10)
	if err != nil {
		t.Fatalf("archive search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected archive hits for indexed sources")
	}
}

func TestGetSessionHandlerServesLiveSnapshot(t *testing.T) {
	eng := newTestEngine(t, &cannedPipeline{})
	handler := &ResearchHandler{Engine: eng}

	sess, _, err := eng.StartResearch(context.Background(), store.Document{ID: "d-1", Purpose: "quantum error correction"}, ResearchStartRequest{})
	if err != nil {
		t.Fatalf("StartResearch: %v", err)
	}
	waitForStatus(t, sess, session.StatusCompleted)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/research/"+sess.ID(), nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("sessionID")
	ctx.SetParamValues(sess.ID())

	if err := handler.getSession(ctx); err != nil {
		t.Fatalf("getSession: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"live":true`) {
		t.Fatalf("expected live snapshot, got %s", rec.Body.String())
	}
}

func TestRetryFailedUnknownSession(t *testing.T) {
	eng := newTestEngine(t, &cannedPipeline{})
	if _, err := eng.RetryFailed("no-such-session"); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestBuildReportAssemblesSections(t *testing.T) {
	eng := newTestEngine(t, &cannedPipeline{})

	report, err := eng.BuildReport(context.Background(), store.Document{ID: "d-1", Purpose: "quantum error correction"})
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if report.DocumentID != "d-1" {
		t.Fatalf("document id = %q", report.DocumentID)
	}
	if len(report.Sections) != len(research.Categories()) {
		t.Fatalf("sections = %d, want %d", len(report.Sections), len(research.Categories()))
	}
	if report.Brief == "" {
		t.Fatal("expected the analysis brief on the report")
	}
}

func TestWorkersHandlerReportsPool(t *testing.T) {
	eng := newTestEngine(t, &cannedPipeline{})
	handler := &ResearchHandler{Engine: eng}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/workers", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := handler.workers(ctx); err != nil {
		t.Fatalf("workers: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"workers"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}
