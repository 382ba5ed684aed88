package bufferpool

import "sync"

// PinToken is the scoped access token spec.md section 6 describes: while
// held, the underlying buffer is guaranteed resident and stable. Release
// drops the pin; a nil *PinToken (returned by Pin for an anonymous,
// destroyable block whose contents were already discarded) carries no
// buffer and needs no Release — the pin it represented is accounted for
// separately, see BufferManager.Pin.
//
// Grounded on buffer/buffer_pool_releaser.go's PageReleaser: a small wrapper
// whose Release method calls back into the pool to unpin, generalized here
// since this spec has no read/write latch modes, only a single pin kind.
type PinToken struct {
	once   sync.Once
	handle *BlockHandle
}

func newPinToken(h *BlockHandle) *PinToken {
	return &PinToken{handle: h}
}

// Bytes returns the resident buffer. Valid only between Pin and Release.
func (t *PinToken) Bytes() []byte {
	return t.handle.buffer
}

// BlockID returns the identity of the pinned block.
func (t *PinToken) BlockID() BlockID {
	return t.handle.id
}

// Release unpins the underlying block. Idempotent: only the first call has
// effect, so Release is safe to defer unconditionally.
func (t *PinToken) Release() {
	t.once.Do(func() {
		t.handle.mgr.Unpin(t.handle)
	})
}
