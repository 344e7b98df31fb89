package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/compendium/internal/research"
)

// Node IDs of the document research flow.
const (
	NodeAnalyzePurpose  = "analyze_purpose"
	NodeGenerateQueries = "generate_queries"
	NodeSynthesize      = "synthesize_results"
)

// ResearchNodeID returns the branch node ID for a category.
func ResearchNodeID(c research.Category) string {
	return "research_" + string(c)
}

// FlowDeps are the collaborators of the document flow.
type FlowDeps struct {
	Generator        research.Generator
	Pipeline         research.Pipeline
	QueriesPerBranch int
}

// DocumentReport is the output of the synthesis barrier node.
type DocumentReport struct {
	DocumentID  string                                   `json:"document_id"`
	Brief       string                                   `json:"brief"`
	Sections    map[research.Category]research.JobResult `json:"sections"`
	GeneratedAt time.Time                                `json:"generated_at"`
}

// DocumentFlow builds the research graph for one document: purpose analysis
// feeds query generation, which fans out into one research branch per
// category, joined by a synthesis barrier.
func DocumentFlow(documentID, purpose string, deps FlowDeps) (*Graph, error) {
	if deps.QueriesPerBranch <= 0 {
		deps.QueriesPerBranch = 3
	}
	g := New()

	err := g.Add(Node{
		ID: NodeAnalyzePurpose,
		Run: func(ctx context.Context, _ map[string]any) (any, error) {
			return briefFor(ctx, deps.Generator, purpose), nil
		},
	})
	if err != nil {
		return nil, err
	}

	err = g.Add(Node{
		ID:        NodeGenerateQueries,
		DependsOn: []string{NodeAnalyzePurpose},
		Run: func(ctx context.Context, inputs map[string]any) (any, error) {
			brief, _ := inputs[NodeAnalyzePurpose].(string)
			queries := make(map[research.Category][]string, len(research.Categories()))
			for _, cat := range research.Categories() {
				queries[cat] = queriesFor(ctx, deps.Generator, brief, purpose, cat, deps.QueriesPerBranch)
			}
			return queries, nil
		},
	})
	if err != nil {
		return nil, err
	}

	branchIDs := make([]string, 0, len(research.Categories()))
	for _, cat := range research.Categories() {
		cat := cat
		id := ResearchNodeID(cat)
		branchIDs = append(branchIDs, id)
		err = g.Add(Node{
			ID:        id,
			DependsOn: []string{NodeGenerateQueries},
			Run: func(ctx context.Context, inputs map[string]any) (any, error) {
				queries, _ := inputs[NodeGenerateQueries].(map[research.Category][]string)
				job := research.Job{
					ID:          uuid.NewString(),
					Category:    cat,
					Queries:     queries[cat],
					PurposeText: purpose,
				}
				return deps.Pipeline.Run(ctx, 0, job, func(int) {})
			},
		})
		if err != nil {
			return nil, err
		}
	}

	err = g.Add(Node{
		ID:        NodeSynthesize,
		DependsOn: branchIDs,
		Run: func(ctx context.Context, inputs map[string]any) (any, error) {
			report := DocumentReport{
				DocumentID:  documentID,
				Sections:    make(map[research.Category]research.JobResult, len(branchIDs)),
				GeneratedAt: time.Now(),
			}
			for _, cat := range research.Categories() {
				result, ok := inputs[ResearchNodeID(cat)].(research.JobResult)
				if !ok {
					return nil, fmt.Errorf("branch %s produced no result", cat)
				}
				report.Sections[cat] = result
			}
			return report, nil
		},
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// briefFor condenses the purpose into a research brief. Analysis is
// best-effort; the raw purpose drives the flow when generation fails.
func briefFor(ctx context.Context, gen research.Generator, purpose string) string {
	brief, err := gen.Complete(ctx, research.PurposePrompt(purpose), research.GenerateOptions{Temperature: 0.2})
	if err != nil || brief == "" {
		return purpose
	}
	return brief
}

// queriesFor generates search queries for one category, falling back to
// deterministic queries derived from the purpose.
func queriesFor(ctx context.Context, gen research.Generator, brief, purpose string, cat research.Category, n int) []string {
	raw, err := gen.Complete(ctx, research.QueryPrompt(brief, cat, n), research.GenerateOptions{Temperature: 0.5})
	qs := research.ParseQueries(raw, n)
	if err != nil || len(qs) == 0 {
		qs = research.FallbackQueries(purpose, cat, n)
	}
	return qs
}

// PlanQueries produces the research brief and per-category queries without
// running the branches. Session-based submission uses it to build jobs.
func PlanQueries(ctx context.Context, gen research.Generator, purpose string, n int) (string, map[research.Category][]string) {
	if n <= 0 {
		n = 3
	}
	brief := briefFor(ctx, gen, purpose)
	queries := make(map[research.Category][]string, len(research.Categories()))
	for _, cat := range research.Categories() {
		queries[cat] = queriesFor(ctx, gen, brief, purpose, cat, n)
	}
	return brief, queries
}

// RunDocumentFlow executes the flow and returns the synthesized report. The
// brief from purpose analysis is attached to the report.
func RunDocumentFlow(ctx context.Context, documentID, purpose string, deps FlowDeps) (DocumentReport, error) {
	g, err := DocumentFlow(documentID, purpose, deps)
	if err != nil {
		return DocumentReport{}, err
	}
	outputs, err := g.Execute(ctx)
	if err != nil {
		return DocumentReport{}, err
	}
	report, _ := outputs[NodeSynthesize].(DocumentReport)
	if brief, ok := outputs[NodeAnalyzePurpose].(string); ok {
		report.Brief = brief
	}
	return report, nil
}
