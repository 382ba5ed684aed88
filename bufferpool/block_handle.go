package bufferpool

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

type blockState int

const (
	stateUnloaded blockState = iota
	stateLoaded
)

// BlockHandle is the per-block state machine from spec.md section 4.1.
// Clients hold ordinary (strong) *BlockHandle references; BufferManager's
// registry holds only a weak.Pointer keyed by block id (see buffer_manager.go),
// so registry membership never keeps a handle alive. Go has no deterministic
// destructors, so unlike the handle this was ported from, "the last shared
// reference drops" is realized as an explicit Close call rather than a
// refcount reaching zero — exactly the "explicit close/drop protocol" spec.md
// section 9 calls for in a GC'd language. A runtime.AddCleanup is also
// registered as a best-effort leak detector: it only logs, it never performs
// the accounting Close is responsible for, since a cleanup callback cannot
// safely observe the handle's state once the handle is unreachable.
type BlockHandle struct {
	mgr *BufferManager
	id  BlockID

	mu          sync.Mutex
	state       blockState
	buffer      []byte
	readers     int
	memoryUsage int64
	canDestroy  bool

	// evictionTimestamp is bumped whenever readers drops back to zero, and
	// is read without mu held by the eviction queue's staleness filter
	// (spec.md section 5): safe because it is monotonically increasing and
	// the comparison only ever rejects stale candidates, never accepts one.
	evictionTimestamp atomic.Uint64

	closed  atomic.Bool
	cleanup runtime.Cleanup
}

func newPersistentHandle(mgr *BufferManager, id BlockID) *BlockHandle {
	h := &BlockHandle{
		mgr:         mgr,
		id:          id,
		state:       stateUnloaded,
		memoryUsage: BlockAllocSize,
	}
	h.armCleanup()
	return h
}

func newAnonymousHandle(mgr *BufferManager, id BlockID, buf []byte, canDestroy bool, memoryUsage int64) *BlockHandle {
	h := &BlockHandle{
		mgr:         mgr,
		id:          id,
		state:       stateLoaded,
		buffer:      buf,
		canDestroy:  canDestroy,
		memoryUsage: memoryUsage,
	}
	h.armCleanup()
	return h
}

type leakArgs struct {
	mgr *BufferManager
	id  BlockID
}

func (h *BlockHandle) armCleanup() {
	h.cleanup = runtime.AddCleanup(h, reportLeakedHandle, leakArgs{mgr: h.mgr, id: h.id})
}

// reportLeakedHandle runs when a BlockHandle becomes unreachable without
// ever having Close called. It cannot safely inspect the handle (it no
// longer exists), so it only logs: Close, not the garbage collector, is the
// module's authoritative release path.
func reportLeakedHandle(a leakArgs) {
	slog.Warn("bufferpool: block handle garbage collected without Close", "block_id", uint64(a.id))
}

// ID returns the block's identity.
func (h *BlockHandle) ID() BlockID { return h.id }

// IsPersistent reports whether this handle is backed by the on-disk block
// manager, as opposed to being an anonymous, manager-minted block.
func (h *BlockHandle) IsPersistent() bool { return h.id < MaxPersistentID }

// Close releases this handle: if still resident it frees its buffer and
// returns its memory_usage to the budget (without spilling — spec.md
// section 4.1: nobody can re-pin a destroyed handle, so there is nothing to
// preserve), then removes it from the manager's registry. Close must not be
// called while any PinToken over this handle is outstanding.
func (h *BlockHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.cleanup.Stop()

	h.mu.Lock()
	if h.readers > 0 {
		h.mu.Unlock()
		panic(fmt.Sprintf("bufferpool: closing block %d while %d pins are outstanding", h.id, h.readers))
	}
	wasLoaded := h.state == stateLoaded
	usage := h.memoryUsage
	h.buffer = nil
	h.state = stateUnloaded
	h.mu.Unlock()

	if wasLoaded {
		h.mgr.releaseMemory(usage)
	}
	h.mgr.unregisterBlock(h.id, h.canDestroy)
	return nil
}

// load materializes h's buffer and returns a pin token over it, or a nil
// token when an anonymous, destroyable block's contents were discarded by a
// prior eviction. Caller must hold h.mu and have already adjusted readers.
func (h *BlockHandle) load() (*PinToken, error) {
	if h.state == stateLoaded {
		if h.buffer == nil {
			if !h.canDestroy {
				panic(fmt.Sprintf("bufferpool: block %d is loaded with no buffer and is not destroyable", h.id))
			}
			return nil, nil
		}
		return newPinToken(h), nil
	}
	h.state = stateLoaded

	if h.IsPersistent() {
		buf := make([]byte, BlockSize)
		if err := h.mgr.blockReader.Read(uint64(h.id), buf); err != nil {
			h.state = stateUnloaded
			return nil, fmt.Errorf("bufferpool: loading block %d: %w", h.id, err)
		}
		h.buffer = buf
		return newPinToken(h), nil
	}

	if h.canDestroy {
		// Contents were discarded on a previous eviction. state is still set
		// to LOADED here (matching the original's unconditional transition):
		// the memory reservation the caller made before calling load is
		// real and must be released exactly once, by a later Unload/Close,
		// even though no bytes are actually resident.
		return nil, nil
	}

	sp := h.mgr.currentSpill()
	if sp == nil {
		h.state = stateUnloaded
		return nil, ErrSpillUnavailable
	}
	buf, err := sp.Read(h.id)
	if err != nil {
		h.state = stateUnloaded
		return nil, fmt.Errorf("bufferpool: reloading spilled block %d: %w", h.id, err)
	}
	h.buffer = buf
	return newPinToken(h), nil
}

// unload evicts h: spills non-destroyable anonymous contents, releases the
// buffer, and returns its memory_usage to the budget. Caller must hold h.mu
// and must have already verified canUnloadLocked().
func (h *BlockHandle) unload() error {
	if h.state == stateUnloaded {
		return nil
	}
	if !h.canUnloadLocked() {
		panic(fmt.Sprintf("bufferpool: unload called on block %d which cannot be unloaded", h.id))
	}

	if !h.IsPersistent() && !h.canDestroy && h.buffer != nil {
		sp := h.mgr.currentSpill()
		if sp == nil {
			return ErrSpillUnavailable
		}
		if err := sp.Write(h.id, h.buffer); err != nil {
			return fmt.Errorf("bufferpool: spilling block %d: %w", h.id, err)
		}
	}

	h.state = stateUnloaded
	h.buffer = nil
	h.mgr.releaseMemory(h.memoryUsage)
	return nil
}

// canUnloadLocked is spec.md's CanUnload. Caller must hold h.mu.
func (h *BlockHandle) canUnloadLocked() bool {
	if h.state == stateUnloaded {
		return false
	}
	if h.readers > 0 {
		return false
	}
	if !h.IsPersistent() && !h.canDestroy && !h.mgr.spillConfigured() {
		// unloading would require spilling, but no temp_directory exists.
		return false
	}
	return true
}

// stamp returns the handle's current eviction_timestamp without acquiring
// h.mu, for the eviction queue's lock-free staleness filter.
func (h *BlockHandle) stamp() uint64 {
	return h.evictionTimestamp.Load()
}
