// Package blockio is the narrow on-disk block manager collaborator spec.md
// section 6 names: it knows how to read and write a fixed-size persistent
// block by id, and nothing else. BufferManager consumes it only through the
// Reader/Writer interfaces below; it never sees the underlying file.
package blockio

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Reader is the collaborator BlockHandle.Load calls into for persistent ids.
type Reader interface {
	Read(id uint64, dst []byte) error
}

// Writer lets callers flush a persistent block's bytes back to disk. The
// core buffer pool spec never requires this (persistent blocks are read-only
// from its perspective once loaded), but a realistic block manager needs it,
// and tests use it to seed fixture data.
type Writer interface {
	Write(id uint64, src []byte) error
}

// Manager is a minimal single-file block store: block id N lives at byte
// offset N*BlockSize. Grounded on the teacher's disk.Manager, which applies
// the same seek-to-offset, read/write-exactly-PageSize-bytes discipline.
type Manager struct {
	mu        sync.Mutex
	f         *os.File
	blockSize int
	nextID    uint64
}

var (
	_ Reader = (*Manager)(nil)
	_ Writer = (*Manager)(nil)
)

// Open opens (creating if absent) the backing file for a block manager whose
// blocks are blockSize bytes each.
func Open(path string, blockSize int) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockio: open %s: %w", path, err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: stat %s: %w", path, err)
	}
	return &Manager{
		f:         f,
		blockSize: blockSize,
		nextID:    uint64(stat.Size() / int64(blockSize)),
	}, nil
}

// NewBlock reserves and returns a fresh persistent block id; its bytes are
// zero until the first Write.
func (m *Manager) NewBlock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

// Read fills dst (which must be exactly blockSize bytes) with block id's
// on-disk contents. Reading a block beyond the file's current extent yields
// a zeroed buffer, matching a block manager whose space has been reserved
// via NewBlock but never written.
func (m *Manager) Read(id uint64, dst []byte) error {
	if len(dst) != m.blockSize {
		return fmt.Errorf("blockio: read buffer is %d bytes, want %d", len(dst), m.blockSize)
	}
	n, err := m.f.ReadAt(dst, int64(id)*int64(m.blockSize))
	if err != nil && err != io.EOF {
		return fmt.Errorf("blockio: read block %d: %w", id, err)
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// Write persists src (exactly blockSize bytes) at block id's slot.
func (m *Manager) Write(id uint64, src []byte) error {
	if len(src) != m.blockSize {
		return fmt.Errorf("blockio: write buffer is %d bytes, want %d", len(src), m.blockSize)
	}
	if _, err := m.f.WriteAt(src, int64(id)*int64(m.blockSize)); err != nil {
		return fmt.Errorf("blockio: write block %d: %w", id, err)
	}
	return nil
}

// Close releases the backing file.
func (m *Manager) Close() error {
	return m.f.Close()
}
