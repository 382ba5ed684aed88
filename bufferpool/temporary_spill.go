package bufferpool

import (
	"encoding/binary"
	"fmt"
	"sync"

	"blockpool/fsys"
)

// TemporarySpill is spec.md section 4.4's spill-file lifecycle: a lazily
// materialized scratch directory holding one file per evicted, non-
// destroyable anonymous block. Grounded on the original's WriteTemporaryBuffer
// / ReadTemporaryBuffer / DeleteTemporaryFile / TemporaryDirectoryHandle.
type TemporarySpill struct {
	fs  fsys.FS
	dir string

	mu           sync.Mutex
	materialized bool
}

func newTemporarySpill(fs fsys.FS, dir string) *TemporarySpill {
	return &TemporarySpill{fs: fs, dir: dir}
}

func (s *TemporarySpill) isMaterialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.materialized
}

// require lazily creates the scratch directory on first need.
func (s *TemporarySpill) require() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.materialized {
		return nil
	}
	if err := s.fs.CreateDirectory(s.dir); err != nil {
		return fmt.Errorf("bufferpool: creating temporary directory %s: %w", s.dir, err)
	}
	s.materialized = true
	return nil
}

func (s *TemporarySpill) path(id BlockID) string {
	return s.fs.JoinPath(s.dir, fmt.Sprintf("%d.block", uint64(id)))
}

// Write spills buf to id's spill file: an 8-byte little-endian size header
// followed by the payload, which this component treats as opaque.
func (s *TemporarySpill) Write(id BlockID, buf []byte) error {
	if err := s.require(); err != nil {
		return err
	}
	f, err := s.fs.OpenFile(s.path(id), true)
	if err != nil {
		return fmt.Errorf("bufferpool: opening spill file for block %d: %w", id, err)
	}
	defer f.Close()

	var header [8]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(buf)))
	if _, err := f.WriteAt(header[:], 0); err != nil {
		return fmt.Errorf("bufferpool: writing spill header for block %d: %w", id, err)
	}
	if _, err := f.WriteAt(buf, int64(len(header))); err != nil {
		return fmt.Errorf("bufferpool: writing spill payload for block %d: %w", id, err)
	}
	return nil
}

// Read reloads id's previously spilled contents.
func (s *TemporarySpill) Read(id BlockID) ([]byte, error) {
	f, err := s.fs.OpenFile(s.path(id), false)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: opening spill file for block %d: %w", id, err)
	}
	defer f.Close()

	var header [8]byte
	if _, err := f.ReadAt(header[:], 0); err != nil {
		return nil, fmt.Errorf("bufferpool: reading spill header for block %d: %w", id, err)
	}
	size := binary.LittleEndian.Uint64(header[:])

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(len(header))); err != nil {
		return nil, fmt.Errorf("bufferpool: reading spill payload for block %d: %w", id, err)
	}
	return buf, nil
}

// Delete best-effort removes id's spill file; absence is not an error.
func (s *TemporarySpill) Delete(id BlockID) error {
	return s.fs.RemoveFile(s.path(id))
}

// teardown removes the scratch directory on clean shutdown.
func (s *TemporarySpill) teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.materialized {
		return nil
	}
	return s.fs.RemoveDirectory(s.dir)
}
