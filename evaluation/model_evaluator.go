package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/model"
)

// DefaultRubric asks the judge for a single JSON verdict.
const DefaultRubric = `You are a strict reviewer of research reports.
Judge the report below for factual grounding, structure and clarity.
Respond with a single JSON object and nothing else:
{"score": <number between 0 and 1>, "rationale": "<one or two sentences>"}`

// ModelEvaluatorOptions configures a ModelEvaluator.
type ModelEvaluatorOptions struct {
	Rubric string
}

// ModelEvaluator scores artifacts by asking a language model to act as judge.
type ModelEvaluator struct {
	model  model.Model
	rubric string
}

// NewModelEvaluator creates an LLM-as-judge evaluator.
func NewModelEvaluator(m model.Model, optFns ...func(o *ModelEvaluatorOptions)) *ModelEvaluator {
	opts := ModelEvaluatorOptions{Rubric: DefaultRubric}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelEvaluator{model: m, rubric: opts.Rubric}
}

// Name returns "model:<model name>".
func (e *ModelEvaluator) Name() string { return "model:" + e.model.Info().Name }

// Evaluate implements Evaluator.
func (e *ModelEvaluator) Evaluate(ctx context.Context, artifact core.Artifact) (Score, error) {
	prompt := fmt.Sprintf("Task output from stage %q:\n\n%s", artifact.Stage, artifactText(artifact.Payload))

	resp, err := e.model.Generate(ctx, model.NewRequest(e.rubric, prompt))
	if err != nil {
		var ce *core.CapabilityError
		if errors.As(err, &ce) {
			return Score{}, err
		}
		return Score{}, &core.CapabilityError{Capability: BreakerName, Cause: err}
	}

	return parseVerdict(resp.Text)
}

// parseVerdict extracts {"score", "rationale"} from a judge completion.
// Malformed output is a retryable capability error.
func parseVerdict(text string) (Score, error) {
	raw, ok := util.ExtractJSONObject(text)
	if !ok {
		return Score{}, &core.CapabilityError{
			Capability: BreakerName,
			Cause:      fmt.Errorf("no JSON verdict in response: %q", truncate(text, 80)),
		}
	}

	var verdict struct {
		Score     *float64 `json:"score"`
		Rationale string   `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Score{}, &core.CapabilityError{Capability: BreakerName, Cause: fmt.Errorf("decode verdict: %w", err)}
	}
	if verdict.Score == nil {
		return Score{}, &core.CapabilityError{Capability: BreakerName, Cause: errors.New("verdict has no score")}
	}

	return Score{Value: *verdict.Score, Rationale: strings.TrimSpace(verdict.Rationale)}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
