package research

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/compendium/config"
)

func testScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		BaseCredibility:         5.0,
		DomainBoost:             2.0,
		RecencyBoost:            1.5,
		RecencyWindow:           30 * 24 * time.Hour,
		LengthBoost:             1.0,
		SubstantialContentChars: 2000,
		NativeBoost:             1.5,
		NativeBoostThreshold:    0.8,
		OverlapWeight:           6.0,
		NativeWeight:            4.0,
		MinNativeScore:          0.1,
		MinContentChars:         80,
		MinTitleChars:           5,
		MaxKeyQuotes:            3,
	}
}

func testJob() Job {
	return Job{
		ID:       "job-1",
		Category: CategoryExperts,
		Queries:  []string{"quantum error correction experts"},
		Requirements: Requirements{
			TargetSourceCount: 5,
		},
	}
}

func longContent(term string) string {
	s := "This article surveys " + term + " and recent progress in the field. "
	return strings.Repeat(s, 40)
}

func TestScoreFiltersAndRanks(t *testing.T) {
	s := NewScorer(testScoringConfig())
	results := []SearchResult{
		{Title: "Quantum error correction survey", URL: "https://arxiv.org/abs/1", Content: longContent("quantum error correction"), NativeScore: 0.9, PublishDate: time.Now().Add(-24 * time.Hour)},
		{Title: "Unrelated cooking tips", URL: "https://example.com/a", Content: longContent("sourdough"), NativeScore: 0.4},
		{Title: "Too thin", URL: "https://example.com/b", Content: "short", NativeScore: 0.9},
		{Title: "Below native floor", URL: "https://example.com/c", Content: longContent("quantum"), NativeScore: 0.05},
	}

	sources, err := s.Score(testJob(), results, 5)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources after filtering, got %d", len(sources))
	}
	if sources[0].URL != "https://arxiv.org/abs/1" {
		t.Fatalf("expected arxiv source ranked first, got %s", sources[0].URL)
	}
	if sources[0].Relevance <= sources[1].Relevance {
		t.Fatalf("sources not sorted by relevance: %.1f then %.1f", sources[0].Relevance, sources[1].Relevance)
	}
}

func TestScoreClipsToRange(t *testing.T) {
	s := NewScorer(testScoringConfig())
	results := []SearchResult{
		{Title: "quantum error correction experts everywhere", URL: "https://arxiv.org/abs/2",
			Content: longContent("quantum error correction experts"), NativeScore: 1.0, PublishDate: time.Now()},
	}
	sources, err := s.Score(testJob(), results, 5)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	src := sources[0]
	if src.Credibility < 1 || src.Credibility > 10 {
		t.Fatalf("credibility %.2f out of [1,10]", src.Credibility)
	}
	if src.Relevance < 1 || src.Relevance > 10 {
		t.Fatalf("relevance %.2f out of [1,10]", src.Relevance)
	}
	// base 5 + domain 2 + recency 1.5 + length 1 + native 1.5 clips to 10
	if src.Credibility != 10 {
		t.Fatalf("expected fully-boosted credibility to clip at 10, got %.2f", src.Credibility)
	}
}

func TestScoreDeduplicatesByURL(t *testing.T) {
	s := NewScorer(testScoringConfig())
	results := []SearchResult{
		{Title: "first result", URL: "https://example.com/p?utm=1", Content: longContent("quantum"), NativeScore: 0.9},
		{Title: "duplicate page", URL: "https://example.com/p/", Content: longContent("quantum"), NativeScore: 0.9},
	}
	sources, err := s.Score(testJob(), results, 5)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected duplicate URL collapsed to 1 source, got %d", len(sources))
	}
}

func TestScoreFiltersMissingOrShortTitles(t *testing.T) {
	s := NewScorer(testScoringConfig())
	results := []SearchResult{
		{Title: "", URL: "https://example.com/untitled", Content: longContent("quantum"), NativeScore: 0.9},
		{Title: "Q", URL: "https://example.com/terse", Content: longContent("quantum"), NativeScore: 0.9},
		{Title: "Quantum computing primer", URL: "https://example.com/good", Content: longContent("quantum"), NativeScore: 0.9},
	}
	sources, err := s.Score(testJob(), results, 5)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if len(sources) != 1 || sources[0].URL != "https://example.com/good" {
		t.Fatalf("expected only the titled result to survive, got %+v", sources)
	}
}

func TestScoreRelevanceIncludesPurposeTerms(t *testing.T) {
	s := NewScorer(testScoringConfig())
	job := Job{
		ID:          "job-2",
		Category:    CategoryExperts,
		Queries:     []string{"recent analysis"},
		PurposeText: "superconducting qubit fabrication",
	}
	results := []SearchResult{
		{Title: "General technology news", URL: "https://example.com/misc", Content: longContent("gadget reviews"), NativeScore: 0.5},
		{Title: "Superconducting qubit fabrication advances", URL: "https://example.com/qubits", Content: longContent("superconducting qubit fabrication"), NativeScore: 0.5},
	}
	sources, err := s.Score(job, results, 5)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if sources[0].URL != "https://example.com/qubits" {
		t.Fatalf("expected the brief-matching source ranked first, got %s", sources[0].URL)
	}
	if sources[0].Relevance <= sources[1].Relevance {
		t.Fatalf("brief terms not counted: %.1f vs %.1f", sources[0].Relevance, sources[1].Relevance)
	}
}

func TestScoreNoUsableSources(t *testing.T) {
	s := NewScorer(testScoringConfig())
	results := []SearchResult{
		{Title: "thin result", URL: "https://example.com/a", Content: "x", NativeScore: 0.9},
	}
	_, err := s.Score(testJob(), results, 5)
	if err == nil {
		t.Fatal("expected error for empty survivor set")
	}
	if !errors.Is(err, ErrNoUsableSources) {
		t.Fatalf("expected ErrNoUsableSources, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("no-usable-sources must be permanent")
	}
}

func TestScoreHonorsLimit(t *testing.T) {
	s := NewScorer(testScoringConfig())
	var results []SearchResult
	for i := 0; i < 10; i++ {
		results = append(results, SearchResult{
			Title:       "quantum result",
			URL:         "https://example.com/" + string(rune('a'+i)),
			Content:     longContent("quantum"),
			NativeScore: 0.5,
		})
	}
	sources, err := s.Score(testJob(), results, 3)
	if err != nil {
		t.Fatalf("Score returned error: %v", err)
	}
	if len(sources) != 3 {
		t.Fatalf("expected limit of 3 sources, got %d", len(sources))
	}
}

func TestClassifyRetryability(t *testing.T) {
	if !IsRetryable(Transient("search", errors.New("timeout"))) {
		t.Fatal("transient should be retryable")
	}
	if !IsRetryable(Crash("run", "boom")) {
		t.Fatal("worker crash should be retryable")
	}
	if IsRetryable(Permanent("validate", errors.New("bad input"))) {
		t.Fatal("permanent should not be retryable")
	}
	if IsRetryable(Quota("search", errors.New("budget"))) {
		t.Fatal("quota should not be retryable")
	}
}
