package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/compendium/internal/research"
)

func noop(id string) Node {
	return Node{ID: id, Run: func(ctx context.Context, _ map[string]any) (any, error) { return id, nil }}
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	g := New()
	if err := g.Add(Node{ID: "a", DependsOn: []string{"ghost"}, Run: noop("a").Run}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := g.Validate(); !errors.Is(err, ErrUnknownDependency) {
		t.Fatalf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	g := New()
	g.Add(Node{ID: "a", DependsOn: []string{"b"}, Run: noop("a").Run})
	g.Add(Node{ID: "b", DependsOn: []string{"a"}, Run: noop("b").Run})
	if _, err := g.Validate(); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	g := New()
	if err := g.Add(noop("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := g.Add(noop("a")); !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("expected ErrDuplicateNode, got %v", err)
	}
}

func TestExecuteRespectsDependencyOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(id string) NodeFunc {
		return func(ctx context.Context, inputs map[string]any) (any, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id, nil
		}
	}

	g := New()
	g.Add(Node{ID: "root", Run: record("root")})
	g.Add(Node{ID: "left", DependsOn: []string{"root"}, Run: record("left")})
	g.Add(Node{ID: "right", DependsOn: []string{"root"}, Run: record("right")})
	g.Add(Node{ID: "join", DependsOn: []string{"left", "right"}, Run: record("join")})

	outputs, err := g.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(outputs) != 4 {
		t.Fatalf("expected 4 outputs, got %d", len(outputs))
	}

	mu.Lock()
	defer mu.Unlock()
	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	if pos["root"] > pos["left"] || pos["root"] > pos["right"] {
		t.Fatalf("root ran after a dependent: %v", order)
	}
	if pos["join"] < pos["left"] || pos["join"] < pos["right"] {
		t.Fatalf("join ran before the barrier was satisfied: %v", order)
	}
}

func TestExecuteRunsIndependentNodesConcurrently(t *testing.T) {
	gate := make(chan struct{})
	blocked := func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-gate:
			return nil, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("peer never started")
		}
	}
	release := func(ctx context.Context, _ map[string]any) (any, error) {
		close(gate)
		return nil, nil
	}

	// a blocks until b runs: only parallel scheduling lets this finish.
	g := New()
	g.Add(Node{ID: "a", Run: blocked})
	g.Add(Node{ID: "b", Run: release})

	if _, err := g.Execute(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteCancelsOnFirstError(t *testing.T) {
	boom := errors.New("branch failed")
	var joinRan bool
	var mu sync.Mutex

	g := New()
	g.Add(noop("root"))
	g.Add(Node{ID: "bad", DependsOn: []string{"root"}, Run: func(ctx context.Context, _ map[string]any) (any, error) {
		return nil, boom
	}})
	g.Add(Node{ID: "join", DependsOn: []string{"bad"}, Run: func(ctx context.Context, _ map[string]any) (any, error) {
		mu.Lock()
		joinRan = true
		mu.Unlock()
		return nil, nil
	}})

	_, err := g.Execute(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected branch error, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if joinRan {
		t.Fatal("dependent of a failed node must not run")
	}
}

func TestExecutePassesDependencyOutputs(t *testing.T) {
	g := New()
	g.Add(Node{ID: "src", Run: func(ctx context.Context, _ map[string]any) (any, error) {
		return 42, nil
	}})
	g.Add(Node{ID: "sink", DependsOn: []string{"src"}, Run: func(ctx context.Context, inputs map[string]any) (any, error) {
		v, ok := inputs["src"].(int)
		if !ok || v != 42 {
			return nil, errors.New("dependency output not delivered")
		}
		return v * 2, nil
	}})

	outputs, err := g.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outputs["sink"] != 84 {
		t.Fatalf("expected 84, got %v", outputs["sink"])
	}
}

type flowGen struct{}

func (flowGen) Complete(ctx context.Context, prompt string, opts research.GenerateOptions) (string, error) {
	if strings.Contains(prompt, "research brief") {
		return "A brief about quantum computing for executives.", nil
	}
	return "quantum computing adoption\nquantum hardware vendors\nquantum readiness", nil
}

type flowPipeline struct {
	mu   sync.Mutex
	jobs []research.Job
}

func (p *flowPipeline) Run(ctx context.Context, workerID int, job research.Job, report func(int)) (research.JobResult, error) {
	p.mu.Lock()
	p.jobs = append(p.jobs, job)
	p.mu.Unlock()
	return research.JobResult{JobID: job.ID, GeneratedContent: "section for " + string(job.Category)}, nil
}

func TestDocumentFlowProducesReport(t *testing.T) {
	pipe := &flowPipeline{}
	report, err := RunDocumentFlow(context.Background(), "doc-9", "Explain quantum computing to executives.", FlowDeps{
		Generator:        flowGen{},
		Pipeline:         pipe,
		QueriesPerBranch: 3,
	})
	if err != nil {
		t.Fatalf("RunDocumentFlow: %v", err)
	}

	if report.DocumentID != "doc-9" {
		t.Fatalf("wrong document id %q", report.DocumentID)
	}
	if report.Brief == "" {
		t.Fatal("report missing brief")
	}
	if len(report.Sections) != len(research.Categories()) {
		t.Fatalf("expected a section per category, got %d", len(report.Sections))
	}
	for _, cat := range research.Categories() {
		if report.Sections[cat].GeneratedContent == "" {
			t.Fatalf("category %s missing content", cat)
		}
	}

	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	if len(pipe.jobs) != len(research.Categories()) {
		t.Fatalf("expected one pipeline run per category, got %d", len(pipe.jobs))
	}
	for _, j := range pipe.jobs {
		if len(j.Queries) != 3 {
			t.Fatalf("expected 3 queries per branch, got %v", j.Queries)
		}
	}
}

func TestDocumentFlowFallsBackOnQueryGeneration(t *testing.T) {
	pipe := &flowPipeline{}
	report, err := RunDocumentFlow(context.Background(), "doc-10", "Survey battery chemistry advances.", FlowDeps{
		Generator: failingGen{},
		Pipeline:  pipe,
	})
	if err != nil {
		t.Fatalf("RunDocumentFlow: %v", err)
	}
	if len(report.Sections) != len(research.Categories()) {
		t.Fatalf("fallback queries did not reach every branch: %d sections", len(report.Sections))
	}
	pipe.mu.Lock()
	defer pipe.mu.Unlock()
	for _, j := range pipe.jobs {
		if len(j.Queries) == 0 {
			t.Fatalf("branch %s got no fallback queries", j.Category)
		}
	}
}

type failingGen struct{}

func (failingGen) Complete(context.Context, string, research.GenerateOptions) (string, error) {
	return "", errors.New("model down")
}

func TestPlanQueriesCoversEveryCategory(t *testing.T) {
	brief, queries := PlanQueries(context.Background(), flowGen{}, "Explain quantum computing to executives.", 3)
	if brief == "" {
		t.Fatal("expected a brief")
	}
	for _, cat := range research.Categories() {
		if len(queries[cat]) != 3 {
			t.Fatalf("category %s: got %d queries, want 3", cat, len(queries[cat]))
		}
	}
}

func TestPlanQueriesFallsBackWhenGenerationFails(t *testing.T) {
	brief, queries := PlanQueries(context.Background(), failingGen{}, "Survey battery chemistry advances.", 0)
	if brief != "Survey battery chemistry advances." {
		t.Fatalf("expected the raw purpose as brief, got %q", brief)
	}
	for _, cat := range research.Categories() {
		if len(queries[cat]) == 0 {
			t.Fatalf("category %s got no fallback queries", cat)
		}
	}
}
