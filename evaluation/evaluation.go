package evaluation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/resilience"
)

// BreakerName is the circuit guarding the evaluator.
const BreakerName = "evaluator"

// Score is the raw judgement returned by an Evaluator.
type Score struct {
	Value     float64 `json:"score"`
	Rationale string  `json:"rationale,omitempty"`
}

// Evaluator scores an artifact. Implementations return a *core.CapabilityError
// for failures of the underlying capability.
type Evaluator interface {
	Evaluate(ctx context.Context, artifact core.Artifact) (Score, error)
}

// EvaluatorFunc adapts an ordinary function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, artifact core.Artifact) (Score, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, artifact core.Artifact) (Score, error) {
	return f(ctx, artifact)
}

// Result is a quality judgement about a run's final artifact.
type Result struct {
	Score          float64   `json:"score"`
	Rationale      string    `json:"rationale,omitempty"`
	ArtifactStage  string    `json:"artifact_stage"`
	ArtifactDigest string    `json:"artifact_digest"`
	Evaluator      string    `json:"evaluator"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
}

// HarnessOptions configures a Harness.
type HarnessOptions struct {
	// Name identifies the evaluator in results and logs. Defaults to the
	// evaluator's Name() when it has one.
	Name string
	// Retry is applied to each evaluation. Defaults to resilience.DefaultRetryPolicy.
	Retry resilience.RetryPolicy
	// Breaker guards the evaluator. Defaults to a private breaker named BreakerName.
	Breaker *resilience.Breaker
	Logger  logging.Logger
	Now     func() time.Time
}

// Harness invokes an Evaluator under retry and circuit protection.
type Harness struct {
	name      string
	evaluator Evaluator
	retry     resilience.RetryPolicy
	breaker   *resilience.Breaker
	logger    logging.Logger
	now       func() time.Time
}

// NewHarness creates a Harness around evaluator.
func NewHarness(evaluator Evaluator, optFns ...func(o *HarnessOptions)) *Harness {
	opts := HarnessOptions{
		Retry: resilience.DefaultRetryPolicy(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Name == "" {
		opts.Name = nameOf(evaluator)
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewBreaker(BreakerName, resilience.DefaultBreakerConfig())
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Harness{
		name:      opts.Name,
		evaluator: evaluator,
		retry:     opts.Retry,
		breaker:   opts.Breaker,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Name returns the evaluator name recorded in results.
func (h *Harness) Name() string { return h.name }

// Breaker returns the circuit guarding the evaluator.
func (h *Harness) Breaker() *resilience.Breaker { return h.breaker }

// Evaluate scores artifact. Any failure, including an open circuit or an
// out-of-range score, is reported as a *core.EvaluationUnavailable.
func (h *Harness) Evaluate(ctx context.Context, artifact core.Artifact) (*Result, error) {
	if !artifact.Payload.Usable() {
		return nil, &core.EvaluationUnavailable{
			Cause: &core.ValidationError{Stage: artifact.Stage, Reason: "artifact is not usable"},
		}
	}

	var score Score
	attempts, invoked, err := resilience.Guard(ctx, h.retry, h.breaker, func(ctx context.Context) error {
		s, err := h.evaluator.Evaluate(ctx, artifact)
		if err != nil {
			return err
		}
		if err := checkScore(s.Value); err != nil {
			return err
		}
		score = s
		return nil
	})
	if err != nil {
		h.logger.Debug("Evaluation failed", "evaluator", h.name, "attempts", attempts, "invoked", invoked, "error", err.Error())
		return nil, &core.EvaluationUnavailable{Cause: err}
	}

	return &Result{
		Score:          score.Value,
		Rationale:      score.Rationale,
		ArtifactStage:  artifact.Stage,
		ArtifactDigest: Digest(artifact.Payload),
		Evaluator:      h.name,
		EvaluatedAt:    h.now(),
	}, nil
}

// Digest returns a hex SHA-256 over the payload's kind, text and data.
func Digest(p core.Payload) string {
	h := sha256.New()
	h.Write([]byte(p.Kind))
	h.Write([]byte{0})
	h.Write([]byte(p.Text))
	if len(p.Data) > 0 {
		h.Write([]byte{0})
		b, _ := json.Marshal(p.Data) // map keys are sorted
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func checkScore(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &core.CapabilityError{
			Capability: BreakerName,
			Cause:      fmt.Errorf("score %v outside [0, 1]", v),
			Terminal:   true,
		}
	}
	return nil
}

type named interface {
	Name() string
}

func nameOf(e Evaluator) string {
	if n, ok := e.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", e)
}

// artifactText renders a payload as the text an evaluator judges.
func artifactText(p core.Payload) string {
	if p.Text != "" || len(p.Data) == 0 {
		return p.Text
	}
	b, err := json.MarshalIndent(p.Data, "", "  ")
	if err != nil {
		return fmt.Sprint(p.Data)
	}
	return string(b)
}
