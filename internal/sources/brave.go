package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/research"
)

const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Brave queries the Brave web search API.
type Brave struct {
	apiKey   string
	maxHits  int
	client   *http.Client
	endpoint string
	logger   *log.Logger
}

// NewBrave builds a Brave provider from config.
func NewBrave(cfg config.SearchConfig) *Brave {
	return &Brave{
		apiKey:   cfg.APIKey,
		maxHits:  cfg.MaxResults,
		client:   httpClient(cfg.Timeout),
		endpoint: braveEndpoint,
		logger:   log.New(log.Writer(), "[BRAVE] ", log.LstdFlags),
	}
}

func (b *Brave) Name() string { return "brave" }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			PageAge     string `json:"page_age"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one query against Brave.
// https://api.search.brave.com/app/documentation/web-search
func (b *Brave) Search(ctx context.Context, query string, filters research.SearchFilters) ([]research.SearchResult, error) {
	k := filters.MaxResults
	if k <= 0 {
		k = b.maxHits
	}
	if filters.Depth == "advanced" {
		k *= 2
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", b.endpoint, url.QueryEscape(query+siteFilter(filters)), k)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, research.Permanent("search", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, research.Transient("search", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(b.Name(), resp.StatusCode)
	}

	var raw braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, research.Transient("search", err)
	}

	out := make([]research.SearchResult, 0, len(raw.Web.Results))
	for i, item := range raw.Web.Results {
		if i >= k {
			break
		}
		r := research.SearchResult{
			Title:       item.Title,
			URL:         item.URL,
			Content:     item.Description,
			NativeScore: rankScore(i, len(raw.Web.Results)),
		}
		if item.PageAge != "" {
			if t, err := time.Parse(time.RFC3339, item.PageAge); err == nil {
				r.PublishDate = t
			}
		}
		out = append(out, r)
	}
	b.logger.Printf("query %q returned %d results", query, len(out))
	return out, nil
}
