package core

// ArtifactStore defines the interface for persisting run outputs (final
// artifacts, serialized reports). Implementations should be thread-safe and
// scope entries by run identifier. Short method names (Save/Get/List/Delete)
// mirror other store interfaces for consistency.
type ArtifactStore interface {
	Save(runID, name string, data []byte) error
	Get(runID, name string) ([]byte, error)
	List(runID string) ([]string, error)
	Delete(runID, name string) error
}
