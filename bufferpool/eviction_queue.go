package bufferpool

import (
	"sync"
	"weak"
)

// evictionNode is spec.md section 3's EvictionNode: a weak reference plus
// the eviction_timestamp captured at enqueue time. weak.Pointer ensures the
// queue itself never extends a handle's lifetime (spec.md section 4.3).
type evictionNode struct {
	handle weak.Pointer[BlockHandle]
	stamp  uint64
}

// evictionQueue is a multi-producer multi-consumer candidate queue. spec.md
// section 4.3 sanctions "a plain mutex-guarded deque... the lock-free
// structure is a performance choice, not a correctness requirement", so
// that is what this is: a slice-backed FIFO behind a mutex, not the
// original's lock-free MPMC ring. Ordering: producers' own enqueues are
// FIFO; consumers may interleave arbitrarily, matching spec.md section 4.3.
type evictionQueue struct {
	mu    sync.Mutex
	items []evictionNode
	head  int
}

func newEvictionQueue() *evictionQueue {
	return &evictionQueue{}
}

// enqueue adds a fresh candidate. Called by Unpin once readers reaches zero.
func (q *evictionQueue) enqueue(h *BlockHandle, stamp uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, evictionNode{handle: weak.Make(h), stamp: stamp})
}

// tryDequeue pops the oldest candidate, or reports ok=false if the queue is
// empty. Staleness (stamp mismatch, or an expired weak reference) is the
// caller's responsibility to check, matching EvictBlocks' contract in
// spec.md section 4.2.
func (q *evictionQueue) tryDequeue() (node evictionNode, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return evictionNode{}, false
	}
	node = q.items[q.head]
	q.items[q.head] = evictionNode{}
	q.head++

	// Compact once the drained prefix dominates, so a long-running pool
	// doesn't grow its backing array unboundedly. spec.md section 9 flags
	// unbounded queue growth from repeated unpin/re-pin cycles as a known
	// open issue this does not attempt to solve; this compaction only
	// reclaims already-dequeued slots, it does not cap stale entries.
	if q.head > 1024 && q.head*2 > len(q.items) {
		remaining := len(q.items) - q.head
		copy(q.items, q.items[q.head:])
		q.items = q.items[:remaining]
		q.head = 0
	}

	return node, true
}

// len reports the number of candidates not yet dequeued. Test-only helper.
func (q *evictionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
