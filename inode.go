package ezfs

import (
	"sync"
	"sync/atomic"
	"time"
)

// Inode is the in-memory representation of an on-disk inode record. The
// mount-global mutex (Mount.mu) serializes every field write; dbn,
// nblocks, and fileSize are additionally kept in atomic fields so that
// GetBlock's lock-free fast path (spec.md §5: "reads may proceed without
// the mount lock, relying on the stability of committed bytes") can load
// them without a data race. A kernel relying on naturally aligned word
// reads gets this for free; a Go library sharing memory across
// goroutines has to ask for it explicitly.
type Inode struct {
	m      *Mount
	number uint64

	// mode is fixed at creation (spec.md: file type never changes across
	// an inode's lifetime) and never mutated again, so it needs no lock.
	mode uint16

	dbn      atomic.Int64  // first data block, or UnmappedBlock
	nblocks  atomic.Uint64 // blocks currently owned by this inode's extent
	fileSize atomic.Uint64 // bytes, <= nblocks*BlockSize

	mu      sync.Mutex
	nlink   uint32
	uid     uint32
	gid     uint32
	atime   time.Time
	mtime   time.Time
	ctime   time.Time
	parent  uint64 // inode number of the containing directory; root is its own parent

	openCount int32 // atomic via sync/atomic funcs below
	evicted   bool  // true once nlink and openCount both hit zero and resources were released
}

// IsDir reports whether this inode is a directory.
func (ino *Inode) IsDir() bool {
	return ino.mode&ModeTypeMask == ModeDirectory
}

// Number returns the inode number.
func (ino *Inode) Number() uint64 { return ino.number }

// Mode returns the full mode word (type bits and permission bits).
func (ino *Inode) Mode() uint16 { return ino.mode }

// Size returns the current file size in bytes.
func (ino *Inode) Size() int64 { return int64(ino.fileSize.Load()) }

// Nblocks returns the number of data blocks currently owned by this inode.
func (ino *Inode) Nblocks() uint64 { return ino.nblocks.Load() }

// Sectors returns the 512-byte sector count a stat(2) caller would see in
// st_blocks, derived from nblocks (spec.md §9 supplemented feature).
func (ino *Inode) Sectors() int64 {
	return int64(ino.nblocks.Load()) * sectorsPerBlock
}

// Nlink returns the current link count.
func (ino *Inode) Nlink() uint32 {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.nlink
}

// Times returns (atime, mtime, ctime).
func (ino *Inode) Times() (atime, mtime, ctime time.Time) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.atime, ino.mtime, ino.ctime
}

// Owner returns (uid, gid).
func (ino *Inode) Owner() (uid, gid uint32) {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.uid, ino.gid
}

// openCountLoad/openCountAdd operate on openCount via the atomic package
// (a plain int32 rather than atomic.Int32 to keep the struct's zero value
// usable from materializeInode without an extra initializer).
func (ino *Inode) openCountLoad() int32      { return atomic.LoadInt32(&ino.openCount) }
func (ino *Inode) openCountAdd(d int32) int32 { return atomic.AddInt32(&ino.openCount, d) }

// toRaw snapshots the inode's mutable fields into the on-disk shape.
// Caller must hold ino.mu.
func (ino *Inode) toRaw() rawInode {
	return rawInode{
		mode:     ino.mode,
		nlink:    ino.nlink,
		uid:      ino.uid,
		gid:      ino.gid,
		fileSize: ino.fileSize.Load(),
		atime:    ino.atime,
		mtime:    ino.mtime,
		ctime:    ino.ctime,
		dbn:      ino.dbn.Load(),
		nblocks:  ino.nblocks.Load(),
	}
}

// materializeInode builds an in-memory Inode from a decoded on-disk
// record. parent is supplied by the caller (namespace.go tracks it via
// the directory structure; it has no on-disk home, see DESIGN.md's
// Open Question decision on parent-pointer bookkeeping).
func materializeInode(m *Mount, number uint64, parent uint64, rec rawInode) *Inode {
	ino := &Inode{
		m:      m,
		number: number,
		mode:   rec.mode,
		nlink:  rec.nlink,
		uid:    rec.uid,
		gid:    rec.gid,
		atime:  rec.atime,
		mtime:  rec.mtime,
		ctime:  rec.ctime,
		parent: parent,
	}
	ino.dbn.Store(rec.dbn)
	ino.nblocks.Store(rec.nblocks)
	ino.fileSize.Store(rec.fileSize)
	return ino
}

// writeInodeLocked encodes ino's current state into the inode-store block
// and marks it dirty. Caller must hold m.mu; ino.mu is acquired
// internally (so toRaw's snapshot is synchronized against concurrent
// readers like Nlink/Times/Owner) and must NOT already be held by the
// caller, or this deadlocks.
func (m *Mount) writeInodeLocked(ino *Inode) error {
	ino.mu.Lock()
	rec := ino.toRaw()
	ino.mu.Unlock()

	buf, err := m.readBlock(InodeStoreDataBlockNumber)
	if err != nil {
		return err
	}
	defer buf.release()
	off := inodeOffset(ino.number)
	encodeInode(buf.bytes()[off:off+inodeRecordSize], rec)
	return buf.markDirty()
}

// touchLocked stamps ctime (and, when data changed, mtime) using the
// mount's clock source. Caller must hold ino.mu.
func (ino *Inode) touchLocked(dataChanged bool) {
	now := ino.m.now()
	ino.ctime = now
	if dataChanged {
		ino.mtime = now
	}
}
