package ezfs

import (
	"fmt"
	"io"
)

// File is an open handle onto a regular file's byte contents. It
// implements io.Reader, io.Writer, and io.Seeker by translating byte
// offsets into logical-block lookups through Mount.GetBlock — the
// closest analogue to a kernel address_space's readpage/writepage pair
// that a library with no page cache can offer.
type File struct {
	m      *Mount
	ino    *Inode
	pos    int64
	closed bool
}

// OpenFile opens ino (which must be a regular file) for reading and
// writing, incrementing its open-descriptor count so that a concurrent
// Unlink driving nlink to zero defers resource release until Close.
func (m *Mount) OpenFile(ino *Inode) (*File, error) {
	if ino.IsDir() {
		return nil, ErrIsDir
	}
	m.mu.Lock()
	if err := m.checkOpen(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.mu.Unlock()
	ino.openCountAdd(1)
	return &File{m: m, ino: ino}, nil
}

// Close releases f's hold on its inode. If the inode's link count has
// already reached zero and this was the last open descriptor, its
// resources are released now.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	remaining := f.ino.openCountAdd(-1)
	if remaining > 0 {
		return nil
	}
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.ino.mu.Lock()
	nlinkZero := f.ino.nlink == 0
	f.ino.mu.Unlock()
	if nlinkZero {
		return f.m.evictLocked(f.ino)
	}
	return nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = f.ino.Size() + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("seek: negative position %d", newPos)
	}
	f.pos = newPos
	return f.pos, nil
}

// Read implements io.Reader, reading from the current position.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	size := f.ino.Size()
	if f.pos >= size {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && f.pos < size {
		logical := f.pos / BlockSize
		inBlock := f.pos % BlockSize
		dbn, err := f.m.GetBlock(f.ino, logical, false)
		if err != nil {
			return n, err
		}
		want := int64(len(p) - n)
		remaining := size - f.pos
		if remaining < want {
			want = remaining
		}
		if BlockSize-inBlock < want {
			want = BlockSize - inBlock
		}

		if dbn == UnmappedBlock {
			// A sparse region with no backing block reads as zeros.
			for i := int64(0); i < want; i++ {
				p[n+int(i)] = 0
			}
		} else {
			buf, err := f.m.readBlock(dbn)
			if err != nil {
				return n, err
			}
			copy(p[n:n+int(want)], buf.bytes()[inBlock:inBlock+want])
			buf.release()
		}
		n += int(want)
		f.pos += want
	}
	return n, nil
}

// Write implements io.Writer, writing at the current position and
// extending the file (allocating blocks as needed) past the current end.
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.m.readOnly {
		return 0, ErrReadOnly
	}
	n := 0
	for n < len(p) {
		logical := f.pos / BlockSize
		inBlock := f.pos % BlockSize
		dbn, err := f.m.GetBlock(f.ino, logical, true)
		if err != nil {
			return n, err
		}
		want := int64(len(p) - n)
		if BlockSize-inBlock < want {
			want = BlockSize - inBlock
		}

		buf, err := f.m.readBlock(dbn)
		if err != nil {
			return n, err
		}
		copy(buf.bytes()[inBlock:inBlock+want], p[n:n+int(want)])
		if err := buf.markDirty(); err != nil {
			buf.release()
			return n, err
		}
		buf.release()

		n += int(want)
		f.pos += want

		if f.pos > f.ino.Size() {
			if err := f.m.growFileSizeTo(f.ino, f.pos); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// growFileSizeTo bumps ino's recorded size (and mtime/ctime) up to size,
// persisting the inode record. Callers only ever grow size upward.
func (m *Mount) growFileSizeTo(ino *Inode, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ino.mu.Lock()
	if size > int64(ino.fileSize.Load()) {
		ino.fileSize.Store(uint64(size))
	}
	ino.touchLocked(true)
	ino.mu.Unlock()
	return m.writeInodeLocked(ino)
}
