package bufferpool

import "errors"

// ErrOutOfMemory is raised by Allocate, RegisterMemory, ReAllocate, Pin and
// SetLimit when eviction cannot free enough budget. The reservation is
// always rolled back before this is returned.
var ErrOutOfMemory = errors.New("bufferpool: out of memory")

// ErrSpillUnavailable is raised when a non-destroyable anonymous block must
// be spilled or reloaded but no spill directory is available. Eviction never
// selects such a block while no temp_directory is configured, so memory
// pressure in that case surfaces as ErrOutOfMemory instead.
var ErrSpillUnavailable = errors.New("bufferpool: no temporary directory configured for spilling; set one via SetTemporaryDirectory")

// ErrConfigConflict is raised by SetTemporaryDirectory once the spill
// directory has already been materialized.
var ErrConfigConflict = errors.New("bufferpool: temporary directory already in use, cannot be changed")
