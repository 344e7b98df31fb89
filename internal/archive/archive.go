// Package archive keeps a per-session full-text index of collected sources
// so completed research can be searched without re-running jobs.
package archive

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/compendium/internal/research"
)

// Hit is one search match against an archived session.
type Hit struct {
	SourceID string  `json:"source_id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// indexDoc is the searchable projection of a source.
type indexDoc struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Quotes  string `json:"quotes"`
	Content string `json:"content"`
}

// Archive holds one in-memory index per session.
type Archive struct {
	mu       sync.RWMutex
	sessions map[string]*sessionIndex
}

type sessionIndex struct {
	index bleve.Index
	meta  map[string]research.Source
	mu    sync.RWMutex
}

// New creates an empty archive.
func New() *Archive {
	return &Archive{sessions: make(map[string]*sessionIndex)}
}

// AddResult indexes every source of a finished job under its session.
func (a *Archive) AddResult(sessionID string, result research.JobResult) error {
	si, err := a.sessionFor(sessionID)
	if err != nil {
		return err
	}
	si.mu.Lock()
	defer si.mu.Unlock()
	for _, src := range result.Sources {
		quotes := ""
		for _, q := range src.KeyQuotes {
			quotes += q + " "
		}
		doc := indexDoc{Title: src.Title, Summary: src.Summary, Quotes: quotes, Content: result.GeneratedContent}
		if err := si.index.Index(src.ID, doc); err != nil {
			return fmt.Errorf("index source %s: %w", src.ID, err)
		}
		si.meta[src.ID] = src
	}
	return nil
}

// Search runs a BM25 query against one session's sources.
func (a *Archive) Search(sessionID, q string, k int) ([]Hit, error) {
	a.mu.RLock()
	si, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown session %s", sessionID)
	}
	if k <= 0 {
		k = 10
	}

	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := si.index.Search(req)
	if err != nil {
		return nil, err
	}

	si.mu.RLock()
	defer si.mu.RUnlock()
	var out []Hit
	for i, hit := range res.Hits {
		src := si.meta[hit.ID]
		out = append(out, Hit{
			SourceID: hit.ID,
			URL:      src.URL,
			Title:    src.Title,
			Snippet:  src.Summary,
			Score:    hit.Score,
			Rank:     i + 1,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// Drop discards a session's index.
func (a *Archive) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if si, ok := a.sessions[sessionID]; ok {
		si.index.Close()
		delete(a.sessions, sessionID)
	}
}

func (a *Archive) sessionFor(sessionID string) (*sessionIndex, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if si, ok := a.sessions[sessionID]; ok {
		return si, nil
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	si := &sessionIndex{index: index, meta: make(map[string]research.Source)}
	a.sessions[sessionID] = si
	return si, nil
}
