package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/evaluation"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/model"
	"github.com/hupe1980/agentrelay/resilience"
	"github.com/hupe1980/agentrelay/stage"
)

// Stage invoker types.
const (
	StageModel  = "model"
	StageSearch = "search"
)

// Evaluator types.
const (
	EvaluatorNone     = "none"
	EvaluatorMarkdown = "markdown"
	EvaluatorModel    = "model"
)

// Fallback types.
const (
	FallbackDefault     = "default"
	FallbackPlaceholder = "placeholder"
	FallbackTask        = "task"
	FallbackUnusable    = "unusable"
	FallbackPassThrough = "pass-through"
)

// FieldError reports an invalid configuration value.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return fmt.Sprintf("config: %s: %s", e.Field, e.Reason) }

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, s)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Config is a complete pipeline definition.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Retry      RetryConfig      `yaml:"retry"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Stages     []StageConfig    `yaml:"stages"`
}

// EngineConfig maps to engine.Config.
type EngineConfig struct {
	MaxConcurrentRuns int      `yaml:"maxConcurrentRuns"`
	RunTimeout        Duration `yaml:"runTimeout,omitempty"`
	MaxCallsPerRun    int      `yaml:"maxCallsPerRun,omitempty"`
}

// BreakerConfig maps to resilience.BreakerConfig.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failureThreshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

// RetryConfig maps to resilience.RetryPolicy.
type RetryConfig struct {
	MaxAttempts  int      `yaml:"maxAttempts"`
	InitialDelay Duration `yaml:"initialDelay"`
	Factor       float64  `yaml:"factor"`
	MaxDelay     Duration `yaml:"maxDelay"`
	Jitter       *bool    `yaml:"jitter,omitempty"`
}

// EvaluationConfig selects and tunes the evaluator.
type EvaluationConfig struct {
	Evaluator string         `yaml:"evaluator"`
	Rubric    string         `yaml:"rubric,omitempty"`
	MinWords  int            `yaml:"minWords,omitempty"`
	Retry     *RetryConfig   `yaml:"retry,omitempty"`
	Breaker   *BreakerConfig `yaml:"breaker,omitempty"`
}

// StageConfig declares one stage.
type StageConfig struct {
	Name         string         `yaml:"name"`
	Type         string         `yaml:"type"`
	Kind         string         `yaml:"kind,omitempty"`
	Requires     []string       `yaml:"requires,omitempty"`
	Instruction  string         `yaml:"instruction,omitempty"`
	Description  string         `yaml:"description,omitempty"`
	SystemPrompt string         `yaml:"systemPrompt,omitempty"`
	Fallback     FallbackConfig `yaml:"fallback,omitempty"`
	Breaker      *BreakerConfig `yaml:"breaker,omitempty"`
	MaxCalls     int            `yaml:"maxCalls,omitempty"`
}

// FallbackConfig selects a fallback generator.
type FallbackConfig struct {
	Type  string `yaml:"type"`
	Text  string `yaml:"text,omitempty"`
	Stage string `yaml:"stage,omitempty"`
}

// Default returns the built-in configuration. It has no stages; callers
// without a stage list use the research pipeline.
func Default() *Config {
	b := resilience.DefaultBreakerConfig()
	r := resilience.DefaultRetryPolicy()
	jitter := r.Backoff.Jitter
	return &Config{
		Engine: EngineConfig{MaxConcurrentRuns: engine.DefaultConfig.MaxConcurrentRuns},
		Breaker: BreakerConfig{
			FailureThreshold: b.FailureThreshold,
			Cooldown:         Duration(b.Cooldown),
		},
		Retry: RetryConfig{
			MaxAttempts:  r.MaxAttempts,
			InitialDelay: Duration(r.Backoff.InitialDelay),
			Factor:       r.Backoff.Factor,
			MaxDelay:     Duration(r.Backoff.MaxDelay),
			Jitter:       &jitter,
		},
		Evaluation: EvaluationConfig{Evaluator: EvaluatorMarkdown},
	}
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result. Unknown fields
// are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every value and names the first offending field.
func (c *Config) Validate() error {
	switch {
	case c.Engine.MaxConcurrentRuns < 0:
		return &FieldError{"engine.maxConcurrentRuns", "must not be negative"}
	case c.Engine.RunTimeout < 0:
		return &FieldError{"engine.runTimeout", "must not be negative"}
	case c.Engine.MaxCallsPerRun < 0:
		return &FieldError{"engine.maxCallsPerRun", "must not be negative"}
	}
	if err := c.Breaker.validate("breaker"); err != nil {
		return err
	}
	if err := c.Retry.validate("retry"); err != nil {
		return err
	}

	switch c.Evaluation.Evaluator {
	case "", EvaluatorNone, EvaluatorMarkdown, EvaluatorModel:
	default:
		return &FieldError{"evaluation.evaluator", fmt.Sprintf("unknown evaluator %q", c.Evaluation.Evaluator)}
	}
	if c.Evaluation.MinWords < 0 {
		return &FieldError{"evaluation.minWords", "must not be negative"}
	}
	if r := c.Evaluation.Retry; r != nil {
		if err := r.validate("evaluation.retry"); err != nil {
			return err
		}
	}
	if b := c.Evaluation.Breaker; b != nil {
		if err := b.validate("evaluation.breaker"); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Stages))
	for i, s := range c.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		if s.Name == "" {
			return &FieldError{field + ".name", "is required"}
		}
		if seen[s.Name] {
			return &FieldError{field + ".name", fmt.Sprintf("duplicate stage %q", s.Name)}
		}
		switch s.Type {
		case StageModel, StageSearch:
		default:
			return &FieldError{field + ".type", fmt.Sprintf("must be %q or %q", StageModel, StageSearch)}
		}
		for j, r := range s.Requires {
			if !seen[r] {
				return &FieldError{fmt.Sprintf("%s.requires[%d]", field, j), fmt.Sprintf("%q is not an earlier stage", r)}
			}
		}
		switch s.Fallback.Type {
		case "", FallbackDefault, FallbackPlaceholder, FallbackTask, FallbackUnusable:
		case FallbackPassThrough:
			if !seen[s.Fallback.Stage] {
				return &FieldError{field + ".fallback.stage", fmt.Sprintf("%q is not an earlier stage", s.Fallback.Stage)}
			}
		default:
			return &FieldError{field + ".fallback.type", fmt.Sprintf("unknown fallback %q", s.Fallback.Type)}
		}
		if s.MaxCalls < 0 {
			return &FieldError{field + ".maxCalls", "must not be negative"}
		}
		if s.Breaker != nil {
			if err := s.Breaker.validate(field + ".breaker"); err != nil {
				return err
			}
		}
		seen[s.Name] = true
	}
	return nil
}

func (b BreakerConfig) validate(field string) error {
	if b.FailureThreshold < 1 {
		return &FieldError{field + ".failureThreshold", "must be at least 1"}
	}
	if b.Cooldown < 0 {
		return &FieldError{field + ".cooldown", "must not be negative"}
	}
	return nil
}

func (r RetryConfig) validate(field string) error {
	switch {
	case r.MaxAttempts < 1:
		return &FieldError{field + ".maxAttempts", "must be at least 1"}
	case r.InitialDelay < 0:
		return &FieldError{field + ".initialDelay", "must not be negative"}
	case r.Factor < 0:
		return &FieldError{field + ".factor", "must not be negative"}
	case r.MaxDelay < 0:
		return &FieldError{field + ".maxDelay", "must not be negative"}
	}
	return nil
}

// EngineConfig returns the engine settings.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxConcurrentRuns: c.Engine.MaxConcurrentRuns,
		RunTimeout:        time.Duration(c.Engine.RunTimeout),
		MaxCallsPerRun:    c.Engine.MaxCallsPerRun,
	}
}

// RetryPolicy returns the stage retry policy.
func (c *Config) RetryPolicy() resilience.RetryPolicy { return c.Retry.policy() }

func (r RetryConfig) policy() resilience.RetryPolicy {
	jitter := r.Jitter == nil || *r.Jitter
	return resilience.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Backoff: resilience.Backoff{
			InitialDelay: time.Duration(r.InitialDelay),
			Factor:       r.Factor,
			MaxDelay:     time.Duration(r.MaxDelay),
			Jitter:       jitter,
		},
	}
}

func (b BreakerConfig) breaker(onChange func(name string, from, to resilience.State)) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: b.FailureThreshold,
		Cooldown:         time.Duration(b.Cooldown),
		OnStateChange:    onChange,
	}
}

// Registry builds the stage breaker registry, applying per-stage overrides.
// onChange may be nil.
func (c *Config) Registry(onChange func(name string, from, to resilience.State)) *resilience.Registry {
	reg := resilience.NewRegistry(c.Breaker.breaker(onChange))
	for _, s := range c.Stages {
		if s.Breaker != nil {
			reg.Configure(s.Name, s.Breaker.breaker(onChange))
		}
	}
	return reg
}

// BuildStages builds the stage specs. Model stages share m and search stages
// share s. Without configured stages the research pipeline is returned.
func (c *Config) BuildStages(m model.Model, s stage.Searcher) ([]core.StageSpec, error) {
	if len(c.Stages) == 0 {
		return stage.ResearchPipeline(m, s), nil
	}

	shared := stage.NewModelInvoker(m)
	out := make([]core.StageSpec, 0, len(c.Stages))
	for i, sc := range c.Stages {
		spec := core.StageSpec{
			Name:        sc.Name,
			Requires:    append([]string(nil), sc.Requires...),
			Kind:        core.Kind(sc.Kind),
			Instruction: sc.Instruction,
			Description: sc.Description,
			Fallback:    sc.Fallback.build(),
			MaxCalls:    sc.MaxCalls,
		}
		if spec.Kind == "" {
			spec.Kind = core.KindText
		}

		switch sc.Type {
		case StageModel:
			if m == nil {
				return nil, &FieldError{fmt.Sprintf("stages[%d].type", i), "model stage configured without a model"}
			}
			spec.Invoker = shared
			if sc.SystemPrompt != "" {
				spec.Invoker = stage.NewModelInvoker(m, func(o *stage.ModelInvokerOptions) {
					o.SystemPrompt = sc.SystemPrompt
				})
			}
		case StageSearch:
			if s == nil {
				return nil, &FieldError{fmt.Sprintf("stages[%d].type", i), "search stage configured without a searcher"}
			}
			spec.Invoker = stage.NewSearchInvoker(s)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (f FallbackConfig) build() core.FallbackFunc {
	switch f.Type {
	case FallbackPlaceholder:
		return stage.Placeholder(f.Text)
	case FallbackTask:
		return stage.TaskEcho()
	case FallbackUnusable:
		return stage.Unusable(f.Text)
	case FallbackPassThrough:
		return stage.PassThrough(f.Stage)
	default:
		return stage.DefaultFallback
	}
}

// Evaluator builds the evaluation harness, or nil when evaluation is
// disabled. m is required for the model evaluator.
func (c *Config) Evaluator(m model.Model, logger logging.Logger) (*evaluation.Harness, error) {
	var ev evaluation.Evaluator
	switch c.Evaluation.Evaluator {
	case "", EvaluatorNone:
		return nil, nil
	case EvaluatorMarkdown:
		ev = evaluation.NewMarkdownEvaluator(func(o *evaluation.MarkdownEvaluatorOptions) {
			if c.Evaluation.MinWords > 0 {
				o.MinWords = c.Evaluation.MinWords
			}
		})
	case EvaluatorModel:
		if m == nil {
			return nil, &FieldError{"evaluation.evaluator", "model evaluator configured without a model"}
		}
		ev = evaluation.NewModelEvaluator(m, func(o *evaluation.ModelEvaluatorOptions) {
			if c.Evaluation.Rubric != "" {
				o.Rubric = c.Evaluation.Rubric
			}
		})
	}

	return evaluation.NewHarness(ev, func(o *evaluation.HarnessOptions) {
		o.Logger = logger
		o.Retry = c.RetryPolicy()
		if r := c.Evaluation.Retry; r != nil {
			o.Retry = r.policy()
		}
		if b := c.Evaluation.Breaker; b != nil {
			o.Breaker = resilience.NewBreaker(evaluation.BreakerName, b.breaker(nil))
		}
	}), nil
}
