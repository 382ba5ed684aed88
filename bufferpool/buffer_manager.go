// Package bufferpool is the buffer pool manager: it brokers pinned access
// to fixed-size blocks that live on disk (persistent) or only in memory
// (anonymous), under a configurable resident-memory ceiling, spilling
// anonymous blocks whose contents cannot be regenerated to a scratch
// directory when memory pressure demands their eviction. See SPEC_FULL.md.
package bufferpool

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"weak"

	"blockpool/blockio"
	"blockpool/fsys"
	"blockpool/spillpath"
)

// BufferManager is the process-wide registry, budget enforcer and eviction
// driver described in spec.md section 4.2. Grounded on buffer/buffer_pool_v2.go's
// single global lock guarding only registry/bookkeeping state, with I/O done
// outside that lock.
type BufferManager struct {
	blockReader blockio.Reader
	fs          fsys.FS
	runID       string

	mu       sync.Mutex // manager_lock: guards registry and SetLimit's two-phase commit
	registry map[BlockID]weak.Pointer[BlockHandle]

	currentMemory atomic.Int64
	maximumMemory atomic.Int64

	tempMu        sync.Mutex // temp_handle_lock
	tempDirectory string
	spill         *TemporarySpill

	temporaryID atomic.Uint64

	queue *evictionQueue
}

// NewBufferManager constructs a manager with the given budget. tempDirectory
// may be empty, which disables spilling (and therefore eviction of
// non-destroyable anonymous blocks), matching spec.md section 6.
func NewBufferManager(blockReader blockio.Reader, fs fsys.FS, maximumMemory int64, tempDirectory string) *BufferManager {
	mgr := &BufferManager{
		blockReader: blockReader,
		fs:          fs,
		runID:       spillpath.NewRunID(),
		registry:    make(map[BlockID]weak.Pointer[BlockHandle]),
		queue:       newEvictionQueue(),
	}
	mgr.maximumMemory.Store(maximumMemory)
	mgr.temporaryID.Store(uint64(MaxPersistentID) - 1)
	if tempDirectory != "" {
		mgr.spill = newTemporarySpill(fs, fs.JoinPath(tempDirectory, mgr.runID))
		mgr.tempDirectory = tempDirectory
	}
	return mgr
}

// RegisterBlock returns the shared handle for a persistent block id,
// creating it on first use. Racing callers converge on the same handle
// (spec.md section 8, property/scenario S6): the registry lock makes the
// lookup-or-create atomic, and the registry's weak.Pointer means an entry
// surviving here is guaranteed to still be backed by a live handle.
func (mgr *BufferManager) RegisterBlock(id BlockID) *BlockHandle {
	if id >= MaxPersistentID {
		panic(fmt.Sprintf("bufferpool: %d is not a valid persistent block id", uint64(id)))
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if wp, ok := mgr.registry[id]; ok {
		if h := wp.Value(); h != nil {
			return h
		}
	}
	h := newPersistentHandle(mgr, id)
	mgr.registry[id] = weak.Make(h)
	return h
}

// RegisterMemory reserves size+header bytes and returns a freshly minted,
// already-LOADED anonymous handle. It is not inserted into the registry:
// only persistent ids are (spec.md section 3).
func (mgr *BufferManager) RegisterMemory(size int64, canDestroy bool) (*BlockHandle, error) {
	total := size + BlockHeaderSize
	if err := mgr.EvictBlocks(total, mgr.maximumMemory.Load()); err != nil {
		return nil, err
	}
	id := BlockID(mgr.temporaryID.Add(1))
	buf := make([]byte, size)
	slog.Debug("bufferpool: registered anonymous block", "block_id", uint64(id), "bytes", size, "can_destroy", canDestroy)
	return newAnonymousHandle(mgr, id, buf, canDestroy, total), nil
}

// Allocate is the convenience RegisterMemory(size, can_destroy=true)+Pin
// combination from spec.md section 4.2.
func (mgr *BufferManager) Allocate(size int64) (*PinToken, error) {
	h, err := mgr.RegisterMemory(size, true)
	if err != nil {
		return nil, err
	}
	return mgr.Pin(h)
}

// ReAllocate resizes a pinned anonymous block's buffer in place. The caller
// must hold exactly one pin on handle.
func (mgr *BufferManager) ReAllocate(handle *BlockHandle, newSize int64) error {
	handle.mu.Lock()
	defer handle.mu.Unlock()

	if handle.readers != 1 {
		panic(fmt.Sprintf("bufferpool: ReAllocate requires exactly one pin, block %d has %d", uint64(handle.id), handle.readers))
	}

	total := newSize + BlockHeaderSize
	delta := total - handle.memoryUsage
	if delta > 0 {
		if err := mgr.EvictBlocks(delta, mgr.maximumMemory.Load()); err != nil {
			return err
		}
	}

	newBuf := make([]byte, newSize)
	copy(newBuf, handle.buffer)
	handle.buffer = newBuf

	if delta < 0 {
		mgr.currentMemory.Add(delta)
	}
	handle.memoryUsage = total
	return nil
}

// Pin is the heart of the system (spec.md section 4.2): it guarantees the
// block is resident, increments its reader count, and returns a token over
// its bytes (nil if this is an anonymous, destroyable block whose contents
// were discarded by a prior eviction — the caller must still Unpin via
// BufferManager.Unpin in that case, since there is no token to Release).
func (mgr *BufferManager) Pin(handle *BlockHandle) (*PinToken, error) {
	handle.mu.Lock()
	if handle.state == stateLoaded {
		handle.readers++
		tok, err := handle.load()
		handle.mu.Unlock()
		return tok, err
	}
	required := handle.memoryUsage
	handle.mu.Unlock()

	if err := mgr.EvictBlocks(required, mgr.maximumMemory.Load()); err != nil {
		return nil, err
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if handle.state == stateLoaded {
		// someone else loaded it while we were evicting
		handle.readers++
		return handle.load()
	}
	if handle.readers != 0 {
		panic(fmt.Sprintf("bufferpool: block %d is unloaded but has %d readers", uint64(handle.id), handle.readers))
	}
	handle.readers = 1
	return handle.load()
}

// Unpin releases one pin on handle. Once readers reaches zero, handle
// becomes an eviction candidate with a freshly bumped stamp.
func (mgr *BufferManager) Unpin(handle *BlockHandle) {
	handle.mu.Lock()
	defer handle.mu.Unlock()

	if handle.readers <= 0 {
		panic(fmt.Sprintf("bufferpool: unpinning block %d with %d readers", uint64(handle.id), handle.readers))
	}
	handle.readers--
	if handle.readers == 0 {
		stamp := handle.evictionTimestamp.Add(1)
		mgr.queue.enqueue(handle, stamp)
	}
}

// EvictBlocks is the reservation primitive spec.md section 4.2 names: it
// adds extra to current_memory, then unloads candidates from the eviction
// queue until current_memory is back at or under limit. On failure (queue
// exhausted before the target is reached) the reservation is rolled back
// and ErrOutOfMemory is returned. If unloading a candidate fails, the
// reservation is likewise rolled back and that error is returned.
func (mgr *BufferManager) EvictBlocks(extra int64, limit int64) error {
	mgr.currentMemory.Add(extra)
	for mgr.currentMemory.Load() > limit {
		node, ok := mgr.queue.tryDequeue()
		if !ok {
			mgr.currentMemory.Add(-extra)
			return ErrOutOfMemory
		}

		h := node.handle.Value()
		if h == nil {
			continue
		}
		if h.stamp() != node.stamp {
			// handle was unpinned again since this node was enqueued (a newer
			// node carries its current stamp): stale, skip without touching
			// it. A handle that is merely re-pinned keeps its stamp and is
			// rejected by canUnloadLocked below.
			continue
		}

		h.mu.Lock()
		if h.stamp() != node.stamp || !h.canUnloadLocked() {
			h.mu.Unlock()
			continue
		}
		err := h.unload()
		h.mu.Unlock()
		if err != nil {
			mgr.currentMemory.Add(-extra)
			return err
		}
		slog.Debug("bufferpool: evicted block", "block_id", uint64(h.id))
	}
	return nil
}

// SetLimit changes the memory budget, evicting as needed to fit under it
// before committing. On failure the old limit is restored unchanged.
func (mgr *BufferManager) SetLimit(newLimit int64) error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if err := mgr.EvictBlocks(0, newLimit); err != nil {
		return err
	}
	oldLimit := mgr.maximumMemory.Load()
	mgr.maximumMemory.Store(newLimit)
	if err := mgr.EvictBlocks(0, newLimit); err != nil {
		mgr.maximumMemory.Store(oldLimit)
		return err
	}
	slog.Debug("bufferpool: limit changed", "old_bytes", oldLimit, "new_bytes", newLimit)
	return nil
}

// SetTemporaryDirectory configures the spill directory. Fails with
// ErrConfigConflict once a spill directory has already been materialized.
func (mgr *BufferManager) SetTemporaryDirectory(path string) error {
	mgr.tempMu.Lock()
	defer mgr.tempMu.Unlock()

	if mgr.spill != nil && mgr.spill.isMaterialized() {
		return ErrConfigConflict
	}
	mgr.tempDirectory = path
	if path == "" {
		mgr.spill = nil
		return nil
	}
	mgr.spill = newTemporarySpill(mgr.fs, mgr.fs.JoinPath(path, mgr.runID))
	return nil
}

// CurrentMemory reports the manager's current accounted resident memory.
func (mgr *BufferManager) CurrentMemory() int64 { return mgr.currentMemory.Load() }

// MaximumMemory reports the configured budget.
func (mgr *BufferManager) MaximumMemory() int64 { return mgr.maximumMemory.Load() }

// Close removes the spill scratch directory, if one was ever materialized.
// Spill files are ephemeral (spec.md Non-goals): nothing is flushed first.
func (mgr *BufferManager) Close() error {
	if sp := mgr.currentSpill(); sp != nil {
		return sp.teardown()
	}
	return nil
}

func (mgr *BufferManager) spillConfigured() bool {
	mgr.tempMu.Lock()
	defer mgr.tempMu.Unlock()
	return mgr.tempDirectory != ""
}

func (mgr *BufferManager) currentSpill() *TemporarySpill {
	mgr.tempMu.Lock()
	defer mgr.tempMu.Unlock()
	return mgr.spill
}

func (mgr *BufferManager) releaseMemory(n int64) {
	mgr.currentMemory.Add(-n)
}

// unregisterBlock is called by BlockHandle.Close. For anonymous ids it
// best-effort deletes any spill file; for persistent ids it drops the
// registry entry.
func (mgr *BufferManager) unregisterBlock(id BlockID, canDestroy bool) {
	if id >= MaxPersistentID {
		if !canDestroy {
			if sp := mgr.currentSpill(); sp != nil {
				if err := sp.Delete(id); err != nil {
					slog.Warn("bufferpool: deleting spill file", "block_id", uint64(id), "err", err)
				}
			}
		}
		return
	}
	mgr.mu.Lock()
	delete(mgr.registry, id)
	mgr.mu.Unlock()
}
