package ezfs

import (
	"io"
	"io/fs"
	"os"
	"testing"

	"github.com/ezfs-project/ezfs/backend"
)

// memStorage is a backend.Storage backed by an in-memory byte slice, so
// package tests can exercise a volume without touching the real
// filesystem.
type memStorage struct {
	data []byte
	pos  int64
}

func newMemStorage(size int64) *memStorage {
	return &memStorage{data: make([]byte, size)}
}

func (s *memStorage) Stat() (fs.FileInfo, error) { return nil, fs.ErrInvalid }

func (s *memStorage) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.pos)
	s.pos += int64(n)
	return n, err
}

func (s *memStorage) Close() error { return nil }

func (s *memStorage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *memStorage) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	return copy(s.data[off:], p), nil
}

func (s *memStorage) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = s.pos + offset
	case io.SeekEnd:
		newPos = int64(len(s.data)) + offset
	}
	s.pos = newPos
	return newPos, nil
}

func (s *memStorage) Sys() (*os.File, error) { return nil, backend.ErrNotSuitable }

func (s *memStorage) Writable() (backend.WritableFile, error) { return s, nil }

var _ backend.Storage = (*memStorage)(nil)

// mountFresh formats a brand-new in-memory volume and mounts it,
// registering a cleanup to unmount at test end.
func mountFresh(t *testing.T, opts ...Option) *Mount {
	t.Helper()
	storage := newMemStorage(VolumeSize)
	if _, err := Format(storage); err != nil {
		t.Fatalf("format: %v", err)
	}
	m, err := Mount(storage, opts...)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	t.Cleanup(func() { _ = m.Unmount() })
	return m
}
