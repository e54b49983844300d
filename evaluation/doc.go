// Package evaluation scores the final artifact of a pipeline run.
//
// A Harness wraps any Evaluator with the same retry policy used for stages
// and a dedicated circuit breaker, so a flaky or unreachable evaluator
// degrades to "no evaluation" instead of failing the run. Two evaluators are
// provided: ModelEvaluator (LLM-as-judge over a model.Model) and
// MarkdownEvaluator (offline structural scoring with goldmark).
package evaluation
