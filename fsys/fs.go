// Package fsys narrows the operating system's file-system calls down to the
// handful of operations the buffer pool's spill path actually needs, so that
// tests can substitute an in-memory implementation.
package fsys

import "io"

// File is a handle to an open file, positioned reads and writes only: the
// spill format never needs a seek cursor, every access carries its own offset.
type File interface {
	io.Closer
	ReadAt(dst []byte, offset int64) (int, error)
	WriteAt(src []byte, offset int64) (int, error)
}

// FS is the file-system collaborator named in spec.md section 6.
type FS interface {
	CreateDirectory(path string) error
	RemoveDirectory(path string) error
	OpenFile(path string, create bool) (File, error)
	FileExists(path string) bool
	RemoveFile(path string) error
	JoinPath(elem ...string) string
}
