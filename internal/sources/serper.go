package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/research"
)

const serperEndpoint = "https://google.serper.dev/search"

// Serper queries the serper.dev Google wrapper.
type Serper struct {
	apiKey   string
	maxHits  int
	client   *http.Client
	endpoint string
	logger   *log.Logger
}

// NewSerper builds a Serper provider from config.
func NewSerper(cfg config.SearchConfig) *Serper {
	return &Serper{
		apiKey:   cfg.APIKey,
		maxHits:  cfg.MaxResults,
		client:   httpClient(cfg.Timeout),
		endpoint: serperEndpoint,
		logger:   log.New(log.Writer(), "[SERPER] ", log.LstdFlags),
	}
}

func (s *Serper) Name() string { return "serper" }

type serperResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Date     string `json:"date"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// Search runs one query. Domain filters become site: operators; advanced
// depth doubles the requested hit count.
func (s *Serper) Search(ctx context.Context, query string, filters research.SearchFilters) ([]research.SearchResult, error) {
	k := filters.MaxResults
	if k <= 0 {
		k = s.maxHits
	}
	if filters.Depth == "advanced" {
		k *= 2
	}

	payload, _ := json.Marshal(map[string]any{
		"q":   query + siteFilter(filters),
		"num": k,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, research.Permanent("search", err)
	}
	req.Header.Set("X-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, research.Transient("search", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(s.Name(), resp.StatusCode)
	}

	var raw serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, research.Transient("search", err)
	}

	out := make([]research.SearchResult, 0, len(raw.Organic))
	for i, item := range raw.Organic {
		if i >= k {
			break
		}
		r := research.SearchResult{
			Title:       item.Title,
			URL:         item.Link,
			Content:     item.Snippet,
			NativeScore: rankScore(i, len(raw.Organic)),
		}
		if item.Date != "" {
			if t, err := time.Parse("Jan 2, 2006", item.Date); err == nil {
				r.PublishDate = t
			}
		}
		out = append(out, r)
	}
	s.logger.Printf("query %q returned %d results", query, len(out))
	return out, nil
}
