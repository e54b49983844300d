// Package stage provides ready-made invokers and fallback generators for
// pipeline stages, plus the default research pipeline.
//
// Invokers adapt a StageSpec to an external capability:
//
//   - ModelInvoker renders the stage instruction over the task and the
//     required upstream outputs and asks a model.Model for a completion.
//   - SearchInvoker turns an upstream plan into web-search queries and
//     collects the hits as a sources payload.
//
// Fallbacks are pure functions producing degraded output when a stage fails,
// is short-circuited or is skipped:
//
//   - Placeholder returns fixed text
//   - TaskEcho returns the original task
//   - PassThrough reuses an upstream output
//   - Unusable returns a marker that never becomes the final artifact
//
// ResearchPipeline wires these into the six-stage planning → research →
// cleaning → fact-checking → writing → proofreading pipeline.
package stage
