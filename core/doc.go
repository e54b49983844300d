// Package core provides the foundational domain types and interfaces shared by
// every agentrelay package. It defines the core abstractions for:
//
//   - Stages (StageSpec descriptors, Invoker adapters, fallback generators)
//   - Payloads (tagged stage outputs with explicit degradation markers)
//   - Workspaces (append-only, per-run carriers of stage outputs)
//   - Results (per-stage outcome records with status, latency and attempts)
//   - The error taxonomy used for retry and failure-isolation decisions
//   - Pluggable stores for persisting run artifacts
//
// The package intentionally keeps orchestration, resilience and persistence
// implementations out of scope, exposing small interfaces so that the engine,
// concrete invokers and stores can evolve independently.
package core
