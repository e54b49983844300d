package artifact

import (
	"fmt"

	"github.com/hupe1980/agentrelay/core"
)

var (
	// ErrNotFound is returned when an artifact for the given run / name pair
	// does not exist in the underlying store. It wraps core.ErrNotFound.
	ErrNotFound = fmt.Errorf("artifact %w", core.ErrNotFound)
)
