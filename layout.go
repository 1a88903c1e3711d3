// Package ezfs implements a single-volume, block-addressed filesystem:
// a fixed superblock/inode-table/data-area layout, two allocation
// bitmaps, a contiguous-extent allocator with in-place relocation, a
// fixed-capacity directory table, and the namespace operations built
// on top of them.
//
// The host collaborators a real kernel module would lean on — the VFS
// dentry/inode cache, the page cache, and the buffer cache — have no
// analogue outside a kernel, so this package plays both roles: Mount
// owns a small buffer abstraction (blockBuffer) over a backend.Storage,
// and File plays the address-space role, turning byte-range reads and
// writes into calls through the extent manager's GetBlock.
package ezfs

import "time"

// On-disk layout constants (spec.md §6). These are compiled-in caps —
// spec.md's Non-goals explicitly exclude growing past them.
const (
	// BlockSize is the fixed unit of device I/O.
	BlockSize = 4096

	// MaxInodes bounds the inode table. Chosen so the whole table fits in
	// a single block: MaxInodes*InodeRecordSize (32*88=2816) <= BlockSize.
	MaxInodes = 32

	// MaxDataBlocks bounds the data area addressed by the data-block bitmap.
	MaxDataBlocks = 64

	// MaxChildren is the number of directory-entry slots in one directory block.
	MaxChildren = 32

	// MaxFilenameLength is the longest filename storable in one directory
	// entry slot, NUL terminator not included.
	MaxFilenameLength = 55

	// RootInodeNumber is the inode number of the volume root.
	RootInodeNumber = 1

	// SuperblockDataBlockNumber is the fixed block holding the superblock.
	SuperblockDataBlockNumber = 0

	// InodeStoreDataBlockNumber is the fixed block holding the inode table.
	InodeStoreDataBlockNumber = 1

	// RootDataBlockNumber is the first block available for file/directory
	// data. It follows directly from InodeStoreDataBlockNumber plus the
	// number of blocks the inode table occupies (one, given MaxInodes above).
	RootDataBlockNumber = InodeStoreDataBlockNumber + 1

	// MagicNumber identifies an EZFS volume; mount rejects any other value.
	MagicNumber uint32 = 0x455A4653 // "EZFS" read most-significant byte first; stored little-endian

	// UnmappedBlock is the dbn sentinel for a regular file with no data yet.
	UnmappedBlock int64 = -1

	// sectorsPerBlock is used to derive the host's i_blocks-style 512-byte
	// sector accounting (spec.md §3) from nblocks.
	sectorsPerBlock = BlockSize / 512
)

// Inode mode bits. These mirror POSIX S_IFREG/S_IFDIR (and a permission
// mask) exactly, since the on-disk mode field has the same shape the
// original kernel module wrote via current_umask()/inode_init_owner.
const (
	ModeTypeMask  uint16 = 0o170000
	ModeDirectory uint16 = 0o040000
	ModeRegular   uint16 = 0o100000
	ModePerm      uint16 = 0o007777
)

const (
	// inodeRecordSize is the fixed on-disk size of one inode record (§6).
	inodeRecordSize = 88
	// dirEntrySize is the fixed on-disk size of one directory entry (§6).
	dirEntrySize = 4 + (MaxFilenameLength + 1) + 8
	// inodeStoreBlocks is how many blocks the inode table occupies.
	inodeStoreBlocks = (MaxInodes*inodeRecordSize + BlockSize - 1) / BlockSize
)

func init() {
	if inodeStoreBlocks != 1 {
		// RootDataBlockNumber above assumes a one-block inode table; a
		// change to MaxInodes/inodeRecordSize that breaks this must also
		// update RootDataBlockNumber's derivation.
		panic("ezfs: inode table no longer fits in one block")
	}
}

// inodeOffset returns the byte offset of inode number's record within the
// inode-store block (spec.md §3: "Inode #n resides at offset (n -
// ROOT_INODE_NUMBER) * sizeof(record)").
func inodeOffset(number uint64) int {
	return int(number-RootInodeNumber) * inodeRecordSize
}

// rawInode is the decoded, on-disk shape of an inode record — a plain
// data carrier used only at the Mount<->inode-store boundary. The
// in-memory Inode type (inode.go) is what the rest of the package works with.
type rawInode struct {
	mode     uint16
	nlink    uint32
	uid      uint32
	gid      uint32
	fileSize uint64
	atime    time.Time
	mtime    time.Time
	ctime    time.Time
	dbn      int64
	nblocks  uint64
}

func putUint16(b []byte, off int, v uint16) {
	b[off] = byte(v)
	b[off+1] = byte(v >> 8)
}

func getUint16(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func putUint32(b []byte, off int, v uint32) {
	for i := 0; i < 4; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func getUint32(b []byte, off int) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(b[off+i]) << (8 * i)
	}
	return v
}

func putUint64(b []byte, off int, v uint64) {
	for i := 0; i < 8; i++ {
		b[off+i] = byte(v >> (8 * i))
	}
}

func getUint64(b []byte, off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v
}

func putTimespec(b []byte, off int, t time.Time) {
	putUint64(b, off, uint64(t.Unix()))
	putUint64(b, off+8, uint64(int64(t.Nanosecond())))
}

func getTimespec(b []byte, off int) time.Time {
	sec := int64(getUint64(b, off))
	nsec := int64(getUint64(b, off+8))
	return time.Unix(sec, nsec).UTC()
}

// encodeInode writes rec into b (which must be at least inodeRecordSize
// bytes), at the byte offsets documented in SPEC_FULL.md §6.
func encodeInode(b []byte, rec rawInode) {
	putUint16(b, 0x00, rec.mode)
	putUint32(b, 0x02, rec.nlink)
	putUint32(b, 0x06, rec.uid)
	putUint32(b, 0x0a, rec.gid)
	putUint64(b, 0x10, rec.fileSize)
	putTimespec(b, 0x18, rec.atime)
	putTimespec(b, 0x28, rec.mtime)
	putTimespec(b, 0x38, rec.ctime)
	putUint64(b, 0x48, uint64(rec.dbn))
	putUint64(b, 0x50, rec.nblocks)
}

// decodeInode is the inverse of encodeInode.
func decodeInode(b []byte) rawInode {
	return rawInode{
		mode:     getUint16(b, 0x00),
		nlink:    getUint32(b, 0x02),
		uid:      getUint32(b, 0x06),
		gid:      getUint32(b, 0x0a),
		fileSize: getUint64(b, 0x10),
		atime:    getTimespec(b, 0x18),
		mtime:    getTimespec(b, 0x28),
		ctime:    getTimespec(b, 0x38),
		dbn:      int64(getUint64(b, 0x48)),
		nblocks:  getUint64(b, 0x50),
	}
}
