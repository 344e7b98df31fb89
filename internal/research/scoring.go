package research

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/compendium/config"
)

// Domains that earn the credibility domain boost.
var credibleDomains = map[string]SourceType{
	"arxiv.org":          SourceAcademic,
	"scholar.google.com": SourceAcademic,
	"ieee.org":           SourceAcademic,
	"acm.org":            SourceAcademic,
	"nature.com":         SourceAcademic,
	"sciencedirect.com":  SourceAcademic,
	"ssrn.com":           SourceAcademic,
	"stanford.edu":       SourceAcademic,
	"mit.edu":            SourceAcademic,
	"wikipedia.org":      SourceOther,
	"britannica.com":     SourceOther,
	"reuters.com":        SourceNews,
	"apnews.com":         SourceNews,
	"bbc.com":            SourceNews,
	"economist.com":      SourceNews,
	"ft.com":             SourceNews,
	"hbr.org":            SourceIndustry,
	"mckinsey.com":       SourceIndustry,
	"gartner.com":        SourceIndustry,
}

// Scorer filters and ranks raw search results into evidence sources.
type Scorer struct {
	cfg config.ScoringConfig
	now func() time.Time
}

// NewScorer builds a scorer with the given weighting.
func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg, now: time.Now}
}

// Score filters, deduplicates, scores and ranks results, keeping at most
// limit sources. Returns ErrNoUsableSources when nothing survives the
// filters.
func (s *Scorer) Score(job Job, results []SearchResult, limit int) ([]Source, error) {
	// Relevance terms come from the job's queries and the research brief.
	texts := make([]string, 0, len(job.Queries)+1)
	texts = append(texts, job.Queries...)
	texts = append(texts, job.PurposeText)
	terms := queryTerms(texts)

	seen := make(map[string]bool, len(results))
	sources := make([]Source, 0, len(results))

	for _, r := range results {
		if r.URL == "" || seen[normalizeURL(r.URL)] {
			continue
		}
		if title := strings.TrimSpace(r.Title); title == "" || len(title) < s.cfg.MinTitleChars {
			continue
		}
		if r.NativeScore < s.cfg.MinNativeScore {
			continue
		}
		if len(r.Content) < s.cfg.MinContentChars {
			continue
		}
		seen[normalizeURL(r.URL)] = true

		host := hostOf(r.URL)
		src := Source{
			ID:          uuid.NewString(),
			URL:         r.URL,
			Title:       r.Title,
			Author:      r.Author,
			PublishDate: r.PublishDate,
			Type:        classifyDomain(host),
			Credibility: s.credibility(r, host),
			Relevance:   s.relevance(r, terms),
			KeyQuotes:   keyQuotes(r.Content, terms, s.cfg.MaxKeyQuotes),
			Summary:     summarize(r.Content),
		}
		sources = append(sources, src)
	}

	if len(sources) == 0 {
		return nil, Permanent("score", ErrNoUsableSources)
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Relevance > sources[j].Relevance
	})
	if limit > 0 && len(sources) > limit {
		sources = sources[:limit]
	}
	return sources, nil
}

func (s *Scorer) credibility(r SearchResult, host string) float64 {
	score := s.cfg.BaseCredibility
	if _, ok := credibleDomains[host]; ok {
		score += s.cfg.DomainBoost
	}
	if !r.PublishDate.IsZero() && s.now().Sub(r.PublishDate) <= s.cfg.RecencyWindow {
		score += s.cfg.RecencyBoost
	}
	if len(r.Content) >= s.cfg.SubstantialContentChars {
		score += s.cfg.LengthBoost
	}
	if r.NativeScore >= s.cfg.NativeBoostThreshold {
		score += s.cfg.NativeBoost
	}
	return clip(score)
}

func (s *Scorer) relevance(r SearchResult, terms []string) float64 {
	text := strings.ToLower(r.Title + " " + r.Content)
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	overlap := 0.0
	if len(terms) > 0 {
		overlap = float64(hits) / float64(len(terms))
	}
	return clip(overlap*s.cfg.OverlapWeight + r.NativeScore*s.cfg.NativeWeight)
}

// MeanCredibility averages source credibility for result metadata.
func MeanCredibility(sources []Source) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, s := range sources {
		sum += s.Credibility
	}
	return sum / float64(len(sources))
}

// Summarize renders a one-paragraph digest of the scored source set.
func Summarize(sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	counts := map[SourceType]int{}
	for _, s := range sources {
		counts[s.Type]++
	}
	parts := make([]string, 0, len(counts))
	for _, t := range []SourceType{SourceAcademic, SourceIndustry, SourceNews, SourceBlog, SourceOther} {
		if counts[t] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[t], t))
		}
	}
	return fmt.Sprintf("%d sources (%s), mean credibility %.1f, top: %s",
		len(sources), strings.Join(parts, ", "), MeanCredibility(sources), sources[0].Title)
}

func clip(v float64) float64 {
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawQuery = ""
	return strings.TrimSuffix(strings.ToLower(u.String()), "/")
}

func classifyDomain(host string) SourceType {
	if t, ok := credibleDomains[host]; ok && t != SourceOther {
		return t
	}
	switch {
	case strings.HasSuffix(host, ".edu"), strings.HasSuffix(host, ".ac.uk"):
		return SourceAcademic
	case strings.HasSuffix(host, ".gov"):
		return SourceIndustry
	case strings.Contains(host, "blog"), strings.Contains(host, "medium.com"), strings.Contains(host, "substack.com"):
		return SourceBlog
	}
	return SourceOther
}

func queryTerms(queries []string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, q := range queries {
		for _, w := range strings.Fields(strings.ToLower(q)) {
			w = strings.Trim(w, `.,;:!?"'()`)
			if len(w) < 4 || seen[w] {
				continue
			}
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

// keyQuotes pulls up to max sentences from content that mention a query term.
func keyQuotes(content string, terms []string, max int) []string {
	if max <= 0 {
		return nil
	}
	var quotes []string
	for _, sentence := range splitSentences(content) {
		lower := strings.ToLower(sentence)
		for _, t := range terms {
			if strings.Contains(lower, t) {
				quotes = append(quotes, strings.TrimSpace(sentence))
				break
			}
		}
		if len(quotes) >= max {
			break
		}
	}
	return quotes
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[start : i+1])
			if len(s) > 20 {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	return out
}

func summarize(content string) string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		const maxLen = 240
		if len(content) > maxLen {
			return content[:maxLen]
		}
		return content
	}
	if len(sentences) > 2 {
		sentences = sentences[:2]
	}
	return strings.Join(sentences, " ")
}
