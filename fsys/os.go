package fsys

import (
	"os"
	"path/filepath"
)

// OS is the production FS implementation, backed directly by the os package.
type OS struct{}

var _ FS = OS{}

func (OS) CreateDirectory(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (OS) RemoveDirectory(path string) error {
	return os.RemoveAll(path)
}

func (OS) OpenFile(path string, create bool) (File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OS) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (OS) RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (OS) JoinPath(elem ...string) string {
	return filepath.Join(elem...)
}

type osFile struct {
	f *os.File
}

func (o osFile) ReadAt(dst []byte, offset int64) (int, error) {
	return o.f.ReadAt(dst, offset)
}

func (o osFile) WriteAt(src []byte, offset int64) (int, error) {
	return o.f.WriteAt(src, offset)
}

func (o osFile) Close() error {
	return o.f.Close()
}
