package research

import (
	"fmt"
	"strings"
)

// Per-category domain steering for the search provider. Experts favors
// primary and institutional sources; contrarian drops press-release mills;
// knowledge map favors reference material.
var categoryIncludeDomains = map[Category][]string{
	CategoryExperts: {
		"arxiv.org", "scholar.google.com", "ieee.org", "acm.org",
		"nature.com", "sciencedirect.com", "ssrn.com",
	},
	CategoryContrarian:   nil,
	CategoryKnowledgeMap: {"wikipedia.org", "britannica.com", "stanford.edu", "mit.edu"},
}

var categoryExcludeDomains = map[Category][]string{
	CategoryExperts:      {"pinterest.com", "quora.com"},
	CategoryContrarian:   {"prnewswire.com", "businesswire.com", "pinterest.com"},
	CategoryKnowledgeMap: {"pinterest.com"},
}

// filtersFor builds the search filters for a job's category.
func filtersFor(job Job, maxResults int) SearchFilters {
	depth := job.Requirements.AnalysisDepth
	if depth == "" {
		depth = "basic"
	}
	return SearchFilters{
		IncludeDomains: categoryIncludeDomains[job.Category],
		ExcludeDomains: categoryExcludeDomains[job.Category],
		Depth:          depth,
		MaxResults:     maxResults,
	}
}

var categoryInstructions = map[Category]string{
	CategoryExperts: `Identify the leading experts and authoritative voices on this topic.
For each expert mentioned in the sources, note their affiliation, their core position, and where they disagree with each other.`,
	CategoryContrarian: `Surface credible contrarian and minority positions on this topic.
Focus on substantive disagreement backed by evidence, not fringe claims. Note what the mainstream view concedes to each objection.`,
	CategoryKnowledgeMap: `Build a structured map of this topic: core concepts, how they relate, open questions, and the canonical references a newcomer should read first.`,
}

// synthesisPrompt renders the generation prompt for a scored source set.
func synthesisPrompt(job Job, sources []Source, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a research analyst. Document purpose:\n%s\n\n", job.PurposeText)
	fmt.Fprintf(&b, "Research angle: %s\n%s\n\n", job.Category, categoryInstructions[job.Category])
	b.WriteString("Sources (ranked by relevance):\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. %s (%s) credibility=%.1f relevance=%.1f\n", i+1, s.Title, s.URL, s.Credibility, s.Relevance)
		if s.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", s.Summary)
		}
		for _, q := range s.KeyQuotes {
			fmt.Fprintf(&b, "   > %s\n", q)
		}
	}
	if summary != "" {
		fmt.Fprintf(&b, "\nCorpus summary: %s\n", summary)
	}
	b.WriteString("\nWrite a concise, well-structured briefing grounded ONLY in the sources above. Cite sources by number. Do not invent facts.\n")
	return b.String()
}

// fallbackContent renders deterministic output from the scored sources when
// synthesis is unavailable. No generation call is made.
func fallbackContent(job Job, sources []Source, summary string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s research: source digest\n\n", job.Category)
	if summary != "" {
		fmt.Fprintf(&b, "%s\n\n", summary)
	}
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. **%s**\n   %s\n", i+1, s.Title, s.URL)
		fmt.Fprintf(&b, "   credibility %.1f, relevance %.1f\n", s.Credibility, s.Relevance)
		if s.Summary != "" {
			fmt.Fprintf(&b, "   %s\n", s.Summary)
		}
		for _, q := range s.KeyQuotes {
			fmt.Fprintf(&b, "   > %s\n", q)
		}
	}
	return b.String()
}

// QueryPrompt asks the generator to derive category-specific search queries
// from a document purpose.
func QueryPrompt(purpose string, category Category, n int) string {
	return fmt.Sprintf(`Given this document purpose:
%s

Generate %d distinct web search queries for the research angle %q.
%s
Return one query per line, no numbering, no commentary.`, purpose, n, category, categoryInstructions[category])
}

// PurposePrompt asks the generator to condense a raw document purpose into a
// short research brief.
func PurposePrompt(purpose string) string {
	return fmt.Sprintf(`Condense the following document purpose into a two-sentence research brief
naming the topic, the audience and the intended outcome:

%s`, purpose)
}

// ParseQueries splits generator output into at most max non-empty queries.
func ParseQueries(raw string, max int) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*0123456789. "))
		if line == "" {
			continue
		}
		out = append(out, line)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// FallbackQueries derives deterministic queries from the purpose text when
// the generator is unavailable.
func FallbackQueries(purpose string, category Category, n int) []string {
	topic := purpose
	if sentences := splitSentences(purpose); len(sentences) > 0 {
		topic = strings.TrimRight(sentences[0], ".!?")
	}
	suffixes := map[Category][]string{
		CategoryExperts:      {"leading experts", "authoritative research", "notable researchers"},
		CategoryContrarian:   {"criticism", "counterarguments", "skeptical view"},
		CategoryKnowledgeMap: {"overview", "key concepts", "introduction survey"},
	}
	var out []string
	for _, s := range suffixes[category] {
		out = append(out, topic+" "+s)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out
}
