package ezfs

import (
	"fmt"
	"io"

	"github.com/ezfs-project/ezfs/backend"
)

// blockBuffer is the stand-in for the kernel buffer_head this package has
// no kernel to borrow: read a block's bytes, mutate the in-memory copy,
// mark it dirty, and release — which here means the same thing as flush,
// since there is no background writeback daemon on the other side of
// backend.Storage. markDirty is therefore synchronous: by the time it
// returns, the bytes are durable on the backend (subject to the backend's
// own buffering/fsync semantics).
type blockBuffer struct {
	m     *Mount
	block int64
	data  []byte
	dirty bool
}

// readBlock loads data block number (absolute, device-relative) into a
// fresh blockBuffer. Block 0 is always the superblock; callers needing
// the inode store or data area pass the corresponding absolute block
// number.
func (m *Mount) readBlock(block int64) (*blockBuffer, error) {
	buf := make([]byte, BlockSize)
	n, err := m.storage.ReadAt(buf, block*BlockSize)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read block %d: %w: %v", block, ErrIO, err)
	}
	if n < BlockSize {
		// Reading past the current end of a sparsely-written backing file;
		// treat the remainder as zero, matching a freshly allocated block.
		for i := n; i < BlockSize; i++ {
			buf[i] = 0
		}
	}
	return &blockBuffer{m: m, block: block, data: buf}, nil
}

// bytes returns the buffer's live backing slice; mutate in place, then
// call markDirty before release.
func (b *blockBuffer) bytes() []byte { return b.data }

// markDirty writes the buffer's current contents back to the device
// immediately.
func (b *blockBuffer) markDirty() error {
	w, err := b.m.writableStorage()
	if err != nil {
		return err
	}
	if _, err := w.WriteAt(b.data, b.block*BlockSize); err != nil {
		return fmt.Errorf("write block %d: %w: %v", b.block, ErrIO, err)
	}
	b.dirty = true
	return nil
}

// release is a no-op beyond documenting the scope-guard discipline this
// mirrors (acquire, mutate, markDirty, release) — every path releases
// each buffer it reads once done with it, so a future refactor that adds
// real buffering (a free-list, reference counts) has a single place to
// hook in.
func (b *blockBuffer) release() {}

// writableStorage lazily resolves m.storage's writable handle, caching it
// for the life of the mount. Read-only mounts never call this.
func (m *Mount) writableStorage() (backend.WritableFile, error) {
	if m.readOnly {
		return nil, ErrReadOnly
	}
	m.writableOnce.Do(func() {
		m.writable, m.writableErr = m.storage.Writable()
	})
	return m.writable, m.writableErr
}
