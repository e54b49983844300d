package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// ErrNoResults is the cause reported when every query came back empty.
var ErrNoResults = errors.New("search returned no results")

// SearchResult is one web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher is a web-search capability.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, query string, limit int) ([]SearchResult, error)

// Search implements Searcher.
func (f SearcherFunc) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return f(ctx, query, limit)
}

// SearchInvokerOptions configures a SearchInvoker.
type SearchInvokerOptions struct {
	MaxQueries      int // queries derived from the plan, default 3
	ResultsPerQuery int // default 5
	CapabilityName  string
}

// SearchInvoker derives queries from the first required input (one per
// non-empty line, list markers stripped) or from the task when the stage has
// no inputs, and gathers de-duplicated hits into a sources payload.
type SearchInvoker struct {
	searcher        Searcher
	maxQueries      int
	resultsPerQuery int
	capability      string
}

// NewSearchInvoker creates a SearchInvoker.
func NewSearchInvoker(s Searcher, optFns ...func(o *SearchInvokerOptions)) *SearchInvoker {
	opts := SearchInvokerOptions{
		MaxQueries:      3,
		ResultsPerQuery: 5,
		CapabilityName:  "search",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxQueries < 1 {
		opts.MaxQueries = 1
	}
	return &SearchInvoker{
		searcher:        s,
		maxQueries:      opts.MaxQueries,
		resultsPerQuery: opts.ResultsPerQuery,
		capability:      opts.CapabilityName,
	}
}

// Invoke implements core.Invoker.
func (i *SearchInvoker) Invoke(ctx context.Context, spec core.StageSpec, ws core.WorkspaceView) (core.Payload, error) {
	inputs, err := collectInputs(spec, ws, 0)
	if err != nil {
		return core.Payload{}, err
	}

	source := ws.Task()
	if len(spec.Requires) > 0 {
		source = inputs[spec.Requires[0]]
	}
	queries := Queries(source, i.maxQueries)
	if len(queries) == 0 {
		queries = []string{ws.Task()}
	}

	seen := map[string]bool{}
	var results []SearchResult
	for _, q := range queries {
		hits, err := i.searcher.Search(ctx, q, i.resultsPerQuery)
		if err != nil {
			return core.Payload{}, capabilityError(spec.Name, i.capability, err)
		}
		for _, h := range hits {
			key := h.URL
			if key == "" {
				key = h.Title
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, h)
		}
	}

	if len(results) == 0 {
		return core.Payload{}, &core.CapabilityError{
			Stage:      spec.Name,
			Capability: i.capability,
			Cause:      ErrNoResults,
			Terminal:   true,
		}
	}

	kind := spec.Kind
	if kind == "" {
		kind = core.KindSources
	}
	return core.Payload{
		Kind: kind,
		Text: renderSources(results),
		Data: map[string]any{
			"queries": queries,
			"results": results,
		},
	}, nil
}

// Queries splits a plan into at most n search queries.
func Queries(plan string, n int) []string {
	var out []string
	for _, line := range strings.Split(plan, "\n") {
		q := stripListMarker(strings.TrimSpace(line))
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == n {
			break
		}
	}
	return out
}

// stripListMarker removes a leading "-", "*", "#" run or "12." / "12)".
func stripListMarker(s string) string {
	if t := strings.TrimLeft(s, "-*#"); t != s {
		return strings.TrimSpace(t)
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > 0 && i < len(s) && (s[i] == '.' || s[i] == ')') {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

func renderSources(results []SearchResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.URL != "" {
			fmt.Fprintf(&b, "- [%s](%s)", r.Title, r.URL)
		} else {
			fmt.Fprintf(&b, "- %s", r.Title)
		}
		if r.Snippet != "" {
			fmt.Fprintf(&b, ": %s", r.Snippet)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// StaticSearcher searches a fixed in-memory corpus by keyword. It backs the
// offline mock provider and tests.
type StaticSearcher struct {
	Documents []SearchResult
}

// Search returns documents whose title or snippet contains any query word
// of four or more letters.
func (s *StaticSearcher) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var words []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 4 {
			words = append(words, w)
		}
	}

	var out []SearchResult
	for _, d := range s.Documents {
		hay := strings.ToLower(d.Title + " " + d.Snippet)
		for _, w := range words {
			if strings.Contains(hay, w) {
				out = append(out, d)
				break
			}
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
