package core

import "github.com/google/uuid"

// NewID generates a new unique identifier for runs and persisted artifacts.
func NewID() string { return uuid.NewString() }
