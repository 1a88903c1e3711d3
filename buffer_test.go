package ezfs

import (
	"errors"
	"os"
	"testing"

	"github.com/ezfs-project/ezfs/backend"
	"github.com/ezfs-project/ezfs/testhelper"
)

// failingStorage wraps a testhelper.FileImpl (whose Reader/Writer funcs
// can be stubbed per test) as a backend.Storage, so blockBuffer's error
// paths can be exercised without a real backing device.
type failingStorage struct {
	*testhelper.FileImpl
}

func (failingStorage) Sys() (*os.File, error) { return nil, backend.ErrNotSuitable }
func (f failingStorage) Writable() (backend.WritableFile, error) {
	return writableFailingStorage{f}, nil
}

type writableFailingStorage struct{ failingStorage }

func (w writableFailingStorage) WriteAt(b []byte, off int64) (int, error) {
	return w.FileImpl.WriteAt(b, off)
}

var errSimulatedIO = errors.New("simulated device failure")

func TestReadBlockSurfacesIOError(t *testing.T) {
	storage := failingStorage{&testhelper.FileImpl{
		Reader: func([]byte, int64) (int, error) { return 0, errSimulatedIO },
	}}
	m := &Mount{storage: storage, icache: map[uint64]*Inode{}}
	if _, err := m.readBlock(0); !errors.Is(err, ErrIO) {
		t.Fatalf("readBlock with a failing backend: got %v, want ErrIO", err)
	}
}

func TestMarkDirtySurfacesIOError(t *testing.T) {
	storage := failingStorage{&testhelper.FileImpl{
		Reader: func(b []byte, _ int64) (int, error) { return len(b), nil },
		Writer: func([]byte, int64) (int, error) { return 0, errSimulatedIO },
	}}
	m := &Mount{storage: storage, icache: map[uint64]*Inode{}}
	buf, err := m.readBlock(0)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	if err := buf.markDirty(); !errors.Is(err, ErrIO) {
		t.Fatalf("markDirty with a failing backend: got %v, want ErrIO", err)
	}
}
