package research

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/compendium/config"
)

// Limiter gates collaborator calls. Wait blocks until a call may proceed or
// the context ends; a non-context error means the budget is exhausted.
type Limiter interface {
	Wait(ctx context.Context) error
}

// unlimited is used when no limiter is configured.
type unlimited struct{}

func (unlimited) Wait(context.Context) error { return nil }

// ResearchPipeline runs one job end to end: search, score, synthesize.
// Safe for concurrent use by multiple workers.
type ResearchPipeline struct {
	cfg         config.ResearchConfig
	search      SearchProvider
	gen         Generator
	fetcher     ContentFetcher // nil disables enrichment
	scorer      *Scorer
	searchLimit Limiter
	genLimit    Limiter
	genOpts     GenerateOptions
	logger      *log.Logger
}

// PipelineOption customizes a ResearchPipeline.
type PipelineOption func(*ResearchPipeline)

// WithFetcher enables full-text enrichment of thin search results.
func WithFetcher(f ContentFetcher) PipelineOption {
	return func(p *ResearchPipeline) { p.fetcher = f }
}

// WithLimiters gates search and generation calls.
func WithLimiters(search, gen Limiter) PipelineOption {
	return func(p *ResearchPipeline) {
		if search != nil {
			p.searchLimit = search
		}
		if gen != nil {
			p.genLimit = gen
		}
	}
}

// WithGenerateOptions sets the generation tuning for synthesis calls.
func WithGenerateOptions(opts GenerateOptions) PipelineOption {
	return func(p *ResearchPipeline) { p.genOpts = opts }
}

// NewPipeline builds a pipeline over the given collaborators.
func NewPipeline(cfg config.ResearchConfig, search SearchProvider, gen Generator, opts ...PipelineOption) *ResearchPipeline {
	p := &ResearchPipeline{
		cfg:         cfg,
		search:      search,
		gen:         gen,
		scorer:      NewScorer(cfg.Scoring),
		searchLimit: unlimited{},
		genLimit:    unlimited{},
		genOpts:     GenerateOptions{Temperature: 0.3},
		logger:      log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes the job. Synthesis failure degrades to deterministic fallback
// content; only search/scoring failures surface as errors.
func (p *ResearchPipeline) Run(ctx context.Context, workerID int, job Job, report func(progress int)) (JobResult, error) {
	ctx, span := otel.Tracer("research").Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.category", string(job.Category)),
		attribute.Int("worker.id", workerID),
	)

	if err := job.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JobResult{}, err
	}
	report(CheckpointStarted)

	var meta ResultMetadata

	searchStart := time.Now()
	results, calls, err := p.runSearches(ctx, job)
	meta.SearchTime = time.Since(searchStart)
	meta.APICallCount = calls
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JobResult{}, err
	}
	span.AddEvent("search complete", trace.WithAttributes(attribute.Int("results", len(results))))
	report(CheckpointSearched)

	if p.fetcher != nil {
		results = p.enrich(ctx, results)
	}

	analysisStart := time.Now()
	target := job.Requirements.TargetSourceCount
	if target <= 0 {
		target = p.cfg.TargetSourceCount
	}
	sources, err := p.scorer.Score(job, results, target)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return JobResult{}, err
	}
	summary := Summarize(sources)
	report(CheckpointScored)

	content, fallback := p.synthesize(ctx, job, sources, summary)
	meta.AnalysisTime = time.Since(analysisStart)
	meta.OverallCredibility = MeanCredibility(sources)
	report(CheckpointSynthesized)

	span.SetAttributes(
		attribute.Int("sources", len(sources)),
		attribute.Bool("fallback", fallback),
	)
	report(CheckpointDone)

	return JobResult{
		JobID:            job.ID,
		WorkerID:         workerID,
		Sources:          sources,
		AnalysisSummary:  summary,
		GeneratedContent: content,
		Fallback:         fallback,
		Metadata:         meta,
	}, nil
}

// runSearches fans the job's queries through the search provider. The job
// fails only when every query fails; partial results proceed to scoring.
func (p *ResearchPipeline) runSearches(ctx context.Context, job Job) ([]SearchResult, int, error) {
	queries := job.Queries
	if p.cfg.MaxQueriesPerJob > 0 && len(queries) > p.cfg.MaxQueriesPerJob {
		queries = queries[:p.cfg.MaxQueriesPerJob]
	}
	filters := filtersFor(job, p.searchMaxResults())

	var all []SearchResult
	var lastErr error
	calls := 0
	for _, q := range queries {
		if err := p.searchLimit.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, calls, Transient("search", err)
			}
			return nil, calls, Quota("search", err)
		}
		calls++
		hits, err := p.search.Search(ctx, q, filters)
		if err != nil {
			lastErr = err
			p.logger.Printf("job %s: search %q failed: %v", job.ID, q, err)
			continue
		}
		all = append(all, hits...)
	}
	if len(all) == 0 && lastErr != nil {
		return nil, calls, Classify("search", lastErr)
	}
	return all, calls, nil
}

// enrich replaces thin snippets with extracted full-page text where the
// fetcher succeeds. Extraction failures keep the original snippet.
func (p *ResearchPipeline) enrich(ctx context.Context, results []SearchResult) []SearchResult {
	for i := range results {
		if len(results[i].Content) >= p.cfg.Scoring.SubstantialContentChars {
			continue
		}
		text, err := p.fetcher.Extract(ctx, results[i].URL)
		if err != nil || text == "" {
			continue
		}
		results[i].Content = text
	}
	return results
}

// synthesize calls the generator, degrading to deterministic fallback
// content on any failure. The returned bool reports fallback use.
func (p *ResearchPipeline) synthesize(ctx context.Context, job Job, sources []Source, summary string) (string, bool) {
	if err := p.genLimit.Wait(ctx); err != nil {
		p.logger.Printf("job %s: generation gated (%v), using fallback", job.ID, err)
		return fallbackContent(job, sources, summary), true
	}
	content, err := p.gen.Complete(ctx, synthesisPrompt(job, sources, summary), p.genOpts)
	if err != nil || content == "" {
		p.logger.Printf("job %s: synthesis failed (%v), using fallback", job.ID, err)
		return fallbackContent(job, sources, summary), true
	}
	return content, false
}

func (p *ResearchPipeline) searchMaxResults() int {
	if p.cfg.TargetSourceCount > 0 {
		return p.cfg.TargetSourceCount * 2
	}
	return 10
}
