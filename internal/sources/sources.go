// Package sources implements the search collaborators.
package sources

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/compendium/config"
	"github.com/mohammad-safakhou/compendium/internal/research"
)

// ErrUnsupportedProvider is returned for provider names New does not know.
var ErrUnsupportedProvider = fmt.Errorf("unsupported search provider")

// New builds the configured search provider.
func New(cfg config.SearchConfig) (research.SearchProvider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "serper":
		return NewSerper(cfg), nil
	case "brave":
		return NewBrave(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

func httpClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// classifyStatus maps an upstream HTTP status to a retry class.
func classifyStatus(provider string, status int) error {
	err := fmt.Errorf("%s returned status %d", provider, status)
	switch {
	case status == http.StatusTooManyRequests:
		return research.Quota("search", err)
	case status >= 500:
		return research.Transient("search", err)
	default:
		return research.Permanent("search", err)
	}
}

// rankScore converts a result's position into a native relevance in [0,1].
func rankScore(position, total int) float64 {
	if total <= 1 {
		return 1
	}
	return 1 - float64(position)/float64(total)*0.8
}

// siteFilter renders include/exclude domains as query operators.
func siteFilter(filters research.SearchFilters) string {
	var parts []string
	for _, d := range filters.IncludeDomains {
		parts = append(parts, "site:"+d)
	}
	var clause string
	if len(parts) > 0 {
		clause = " (" + strings.Join(parts, " OR ") + ")"
	}
	for _, d := range filters.ExcludeDomains {
		clause += " -site:" + d
	}
	return clause
}
