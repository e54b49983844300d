// Package artifact contains concrete implementations of core.ArtifactStore.
//
// The canonical ArtifactStore interface lives in the core package to avoid
// dependency cycles. Implementation packages like this one (in-memory) and
// artifact/sqlite provide storage backends for run reports and final
// artifacts that can be swapped without touching calling code.
//
// Entries are scoped by run ID and addressed by name, e.g. "report.json" or
// "final.md".
package artifact
