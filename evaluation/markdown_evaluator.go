package evaluation

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hupe1980/agentrelay/core"
)

// MarkdownStats summarizes the structure of a markdown document.
type MarkdownStats struct {
	Headings   int
	Paragraphs int
	ListItems  int
	Links      int
	CodeBlocks int
	Words      int
}

// MarkdownEvaluatorOptions configures a MarkdownEvaluator.
type MarkdownEvaluatorOptions struct {
	// MinWords is the length at which the length component reaches full marks.
	MinWords int
}

// MarkdownEvaluator is an offline scorer for report artifacts. It rewards
// structure (headings, paragraphs), supporting material (lists, links) and
// length. It never calls out, so it is a useful default when no judge model
// is configured.
type MarkdownEvaluator struct {
	md       goldmark.Markdown
	minWords int
}

// NewMarkdownEvaluator creates a MarkdownEvaluator.
func NewMarkdownEvaluator(optFns ...func(o *MarkdownEvaluatorOptions)) *MarkdownEvaluator {
	opts := MarkdownEvaluatorOptions{MinWords: 150}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MinWords < 1 {
		opts.MinWords = 1
	}
	return &MarkdownEvaluator{md: goldmark.New(), minWords: opts.MinWords}
}

// Name returns "markdown".
func (e *MarkdownEvaluator) Name() string { return "markdown" }

// Analyze walks the goldmark AST of src.
func (e *MarkdownEvaluator) Analyze(src string) MarkdownStats {
	source := []byte(src)
	doc := e.md.Parser().Parse(text.NewReader(source))

	var stats MarkdownStats
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			stats.Headings++
		case ast.KindParagraph:
			stats.Paragraphs++
		case ast.KindListItem:
			stats.ListItems++
		case ast.KindLink, ast.KindAutoLink:
			stats.Links++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			stats.CodeBlocks++
		}
		return ast.WalkContinue, nil
	})
	stats.Words = len(strings.Fields(src))

	return stats
}

// Evaluate implements Evaluator.
func (e *MarkdownEvaluator) Evaluate(ctx context.Context, artifact core.Artifact) (Score, error) {
	if err := ctx.Err(); err != nil {
		return Score{}, &core.CapabilityError{Capability: BreakerName, Cause: err}
	}

	stats := e.Analyze(artifactText(artifact.Payload))

	var score float64
	if stats.Headings > 0 {
		score += 0.25
	}
	score += 0.25 * ratio(stats.Paragraphs, 3)
	score += 0.125 * ratio(stats.ListItems, 3)
	score += 0.125 * ratio(stats.Links, 2)
	score += 0.25 * ratio(stats.Words, e.minWords)

	return Score{
		Value: score,
		Rationale: fmt.Sprintf("%d headings, %d paragraphs, %d list items, %d links, %d words",
			stats.Headings, stats.Paragraphs, stats.ListItems, stats.Links, stats.Words),
	}, nil
}

func ratio(n, full int) float64 {
	if n >= full {
		return 1
	}
	return float64(n) / float64(full)
}
