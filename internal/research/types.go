package research

import (
	"context"
	"fmt"
	"time"
)

// Category identifies which research lens a job applies to the document
// purpose. The set is closed: adding a category means extending the enum and
// the prompt/domain tables in prompts.go.
type Category string

const (
	CategoryExperts      Category = "experts"
	CategoryContrarian   Category = "contrarianViews"
	CategoryKnowledgeMap Category = "knowledgeMap"
)

// Categories returns all known categories in canonical order.
func Categories() []Category {
	return []Category{CategoryExperts, CategoryContrarian, CategoryKnowledgeMap}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryExperts, CategoryContrarian, CategoryKnowledgeMap:
		return true
	}
	return false
}

// Requirements narrows what a job should collect.
type Requirements struct {
	TargetSourceCount int      `json:"target_source_count"`
	SourceTypes       []string `json:"source_types,omitempty"`
	AnalysisDepth     string   `json:"analysis_depth,omitempty"` // basic, advanced
}

// Job is one research task for a single category. Immutable once submitted.
type Job struct {
	ID           string       `json:"id"`
	Category     Category     `json:"category"`
	Queries      []string     `json:"queries"`
	PurposeText  string       `json:"purpose_text"`
	Requirements Requirements `json:"requirements"`
}

// Validate checks a job before submission.
func (j Job) Validate() error {
	if j.ID == "" {
		return Permanent("validate", fmt.Errorf("job id is empty"))
	}
	if !j.Category.Valid() {
		return Permanent("validate", fmt.Errorf("unknown category %q", j.Category))
	}
	if len(j.Queries) == 0 {
		return Permanent("validate", fmt.Errorf("job %s has no queries", j.ID))
	}
	return nil
}

// SourceType classifies where a source came from.
type SourceType string

const (
	SourceAcademic SourceType = "academic"
	SourceIndustry SourceType = "industry"
	SourceNews     SourceType = "news"
	SourceBlog     SourceType = "blog"
	SourceOther    SourceType = "other"
)

// Source is a scored, filtered search result used as evidence for
// synthesized content. Credibility and Relevance are clipped to [1,10].
type Source struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Author      string     `json:"author,omitempty"`
	PublishDate time.Time  `json:"publish_date,omitempty"`
	Type        SourceType `json:"source_type"`
	Credibility float64    `json:"credibility_score"`
	Relevance   float64    `json:"relevance_score"`
	KeyQuotes   []string   `json:"key_quotes,omitempty"`
	Summary     string     `json:"summary,omitempty"`
}

// ResultMetadata carries per-job accounting.
type ResultMetadata struct {
	SearchTime         time.Duration `json:"search_time_ms"`
	AnalysisTime       time.Duration `json:"analysis_time_ms"`
	APICallCount       int           `json:"api_call_count"`
	OverallCredibility float64       `json:"overall_credibility"`
}

// JobResult is the terminal-successful output of one job.
type JobResult struct {
	JobID            string         `json:"job_id"`
	WorkerID         int            `json:"worker_id"`
	Sources          []Source       `json:"sources"`
	AnalysisSummary  string         `json:"analysis_summary"`
	GeneratedContent string         `json:"generated_content"`
	Fallback         bool           `json:"fallback"`
	Metadata         ResultMetadata `json:"metadata"`
}

// Progress checkpoints emitted by the pipeline, in pipeline order.
const (
	CheckpointStarted     = 10
	CheckpointSearched    = 25
	CheckpointScored      = 50
	CheckpointSynthesized = 75
	CheckpointDone        = 100
)

// ProgressFunc receives job progress updates in [0,100].
type ProgressFunc func(jobID string, progress int)

// CompleteFunc receives the result of a terminal-successful job.
type CompleteFunc func(result JobResult)

// ErrorFunc receives permanent or retry-exhausted job failures.
type ErrorFunc func(jobID string, err error)

// SearchFilters constrain a search collaborator call.
type SearchFilters struct {
	IncludeDomains []string
	ExcludeDomains []string
	Depth          string // basic, advanced
	MaxResults     int
}

// SearchResult is a raw hit from the search collaborator before scoring.
type SearchResult struct {
	Title       string
	URL         string
	Content     string
	NativeScore float64 // native relevance in [0,1]
	PublishDate time.Time
	Author      string
}

// SearchProvider is the search collaborator boundary.
type SearchProvider interface {
	Search(ctx context.Context, query string, filters SearchFilters) ([]SearchResult, error)
	Name() string
}

// GenerateOptions tune a generation collaborator call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Generator is the generation collaborator boundary.
type Generator interface {
	Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// ContentFetcher optionally enriches thin search results with extracted
// full-page text. Implementations must be safe for concurrent use.
type ContentFetcher interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Pipeline executes one job from search through synthesis. report is called
// with the checkpoint values above; implementations must emit them in
// non-decreasing order.
type Pipeline interface {
	Run(ctx context.Context, workerID int, job Job, report func(progress int)) (JobResult, error)
}
