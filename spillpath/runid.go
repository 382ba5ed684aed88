// Package spillpath names the scratch subdirectory a BufferManager spills
// temporary blocks into. See spec.md section 9's note on orphaned spill
// files: namespacing by a per-process run id keeps concurrent processes that
// share one temp_directory from colliding, and gives a future crash-recovery
// sweep a deterministic prefix to glob for.
package spillpath

import "github.com/google/uuid"

// NewRunID mints a fresh identifier for one BufferManager's lifetime.
func NewRunID() string {
	return uuid.New().String()
}
