package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/resilience"
	"github.com/hupe1980/agentrelay/stage"
)

const pipelineYAML = `
engine:
  maxConcurrentRuns: 2
  runTimeout: 90s
  maxCallsPerRun: 20
breaker:
  failureThreshold: 5
  cooldown: 1m
retry:
  maxAttempts: 4
  initialDelay: 50ms
  factor: 3
  maxDelay: 2s
  jitter: false
evaluation:
  evaluator: model
  rubric: Score clarity only.
  retry:
    maxAttempts: 1
    initialDelay: 0s
    factor: 1
    maxDelay: 0s
stages:
  - name: plan
    type: model
    kind: plan
    instruction: "Plan: {{.Task}}"
    fallback:
      type: task
  - name: research
    type: search
    kind: sources
    requires: [plan]
    maxCalls: 2
    breaker:
      failureThreshold: 1
      cooldown: 10s
    fallback:
      type: unusable
      text: no sources
  - name: write
    type: model
    kind: report
    requires: [plan, research]
    systemPrompt: You write reports.
    fallback:
      type: pass-through
      stage: plan
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(pipelineYAML))
	require.NoError(t, err)

	assert.Equal(t, engine.Config{MaxConcurrentRuns: 2, RunTimeout: 90 * time.Second, MaxCallsPerRun: 20}, cfg.EngineConfig())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 4, policy.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, policy.Backoff.InitialDelay)
	assert.Equal(t, 3.0, policy.Backoff.Factor)
	assert.Equal(t, 2*time.Second, policy.Backoff.MaxDelay)
	assert.False(t, policy.Backoff.Jitter)

	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, []string{"plan", "research"}, cfg.Stages[2].Requires)
	assert.Equal(t, FallbackPassThrough, cfg.Stages[2].Fallback.Type)
}

func TestParse_DefaultsForOmittedSections(t *testing.T) {
	cfg, err := Parse([]byte("stages: []\n"))
	require.NoError(t, err)

	assert.Equal(t, engine.DefaultConfig, cfg.EngineConfig())
	assert.Equal(t, resilience.DefaultRetryPolicy(), cfg.RetryPolicy())
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, EvaluatorMarkdown, cfg.Evaluation.Evaluator)

	empty, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), empty)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"negative runs", "engine:\n  maxConcurrentRuns: -1\n", "engine.maxConcurrentRuns"},
		{"zero threshold", "breaker:\n  failureThreshold: 0\n  cooldown: 1s\n", "breaker.failureThreshold"},
		{"zero attempts", "retry:\n  maxAttempts: 0\n", "retry.maxAttempts"},
		{"unknown evaluator", "evaluation:\n  evaluator: oracle\n", "evaluation.evaluator"},
		{"bad eval retry", "evaluation:\n  retry:\n    maxAttempts: 0\n", "evaluation.retry.maxAttempts"},
		{"unnamed stage", "stages:\n  - type: model\n", "stages[0].name"},
		{"duplicate stage", "stages:\n  - {name: a, type: model}\n  - {name: a, type: model}\n", "stages[1].name"},
		{"unknown type", "stages:\n  - {name: a, type: shell}\n", "stages[0].type"},
		{"forward require", "stages:\n  - {name: a, type: model, requires: [b]}\n  - {name: b, type: model}\n", "stages[0].requires[0]"},
		{"unknown fallback", "stages:\n  - name: a\n    type: model\n    fallback: {type: magic}\n", "stages[0].fallback.type"},
		{"pass-through target", "stages:\n  - name: a\n    type: model\n    fallback: {type: pass-through, stage: a}\n", "stages[0].fallback.stage"},
		{"negative stage calls", "stages:\n  - {name: a, type: model, maxCalls: -1}\n", "stages[0].maxCalls"},
		{"stage breaker", "stages:\n  - name: a\n    type: model\n    breaker: {failureThreshold: 0}\n", "stages[0].breaker.failureThreshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("retry:\n  initialDelay: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")

	_, err = Parse([]byte("unknown: true\n"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(pipelineYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Stages, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Registry(t *testing.T) {
	cfg, err := Parse([]byte(pipelineYAML))
	require.NoError(t, err)

	var transitions []string
	reg := cfg.Registry(func(name string, from, to resilience.State) {
		transitions = append(transitions, name+":"+to.String())
	})

	fail := func(context.Context) error { return &core.CapabilityError{Cause: assert.AnError} }

	// research trips after a single failure.
	_ = reg.Breaker("research").Execute(context.Background(), fail)
	assert.Equal(t, resilience.StateOpen, reg.Breaker("research").State())

	// plan uses the global threshold of five.
	for i := 0; i < 4; i++ {
		_ = reg.Breaker("plan").Execute(context.Background(), fail)
	}
	assert.Equal(t, resilience.StateClosed, reg.Breaker("plan").State())
	assert.Equal(t, []string{"research:open"}, transitions)
}

func TestConfig_Stages(t *testing.T) {
	cfg, err := Parse([]byte(pipelineYAML))
	require.NoError(t, err)

	m := model.NewMockModel("mock")
	s := &stage.StaticSearcher{}

	specs, err := cfg.BuildStages(m, s)
	require.NoError(t, err)
	require.Len(t, specs, 3)

	assert.Equal(t, core.KindPlan, specs[0].Kind)
	assert.IsType(t, &stage.ModelInvoker{}, specs[0].Invoker)
	assert.IsType(t, &stage.SearchInvoker{}, specs[1].Invoker)
	assert.Equal(t, "Plan: {{.Task}}", specs[0].Instruction)
	assert.Equal(t, 0, specs[0].MaxCalls)
	assert.Equal(t, 2, specs[1].MaxCalls)

	ws := core.NewWorkspace("the task")
	assert.Equal(t, "the task", specs[0].FallbackOutput(ws, nil).Text)

	fb := specs[1].FallbackOutput(ws, nil)
	assert.Equal(t, "no sources", fb.Text)
	assert.False(t, fb.Usable())

	require.NoError(t, ws.Put("plan", core.NewTextPayload(core.KindPlan, "the plan")))
	pass := specs[2].FallbackOutput(ws, nil)
	assert.Equal(t, "the plan", pass.Text)
	assert.Equal(t, core.KindReport, pass.Kind)
	assert.True(t, pass.Degraded)

	_, err = engine.Validate(specs)
	assert.NoError(t, err)

	_, err = cfg.BuildStages(nil, s)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "stages[0].type", fe.Field)
}

func TestConfig_StagesDefaultsToResearchPipeline(t *testing.T) {
	specs, err := Default().BuildStages(model.NewMockModel("mock"), &stage.StaticSearcher{})
	require.NoError(t, err)
	require.Len(t, specs, 6)
	assert.Equal(t, stage.Planning, specs[0].Name)
	assert.Equal(t, stage.Proofreading, specs[5].Name)
}

func TestConfig_Evaluator(t *testing.T) {
	cfg, err := Parse([]byte(pipelineYAML))
	require.NoError(t, err)

	h, err := cfg.Evaluator(model.NewMockModel("judge"), logging.NoOpLogger{})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "model:judge", h.Name())
	assert.Equal(t, evaluation.BreakerName, h.Breaker().Name())

	_, err = cfg.Evaluator(nil, nil)
	assert.Error(t, err)

	md, err := Default().Evaluator(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "markdown", md.Name())

	none := Default()
	none.Evaluation.Evaluator = EvaluatorNone
	h, err = none.Evaluator(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, h)
}
