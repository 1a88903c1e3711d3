package ezfs

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/ezfs-project/ezfs/backend"
	"github.com/ezfs-project/ezfs/util/timestamp"
)

// Mount represents one mounted EZFS volume. All mutating operations
// (namespace changes, block allocation, inode metadata writes) serialize
// on mu, mirroring the single in-superblock mutex the original kernel
// module used to guard its critical sections (spec.md §5); read paths
// that only need an inode's atomic fields bypass the lock entirely.
type Mount struct {
	storage  backend.Storage
	readOnly bool
	log      *logrus.Entry
	clock    func() time.Time

	writableOnce sync.Once
	writable     backend.WritableFile
	writableErr  error

	mu         sync.Mutex
	volumeUUID uuid.UUID
	inodeBM    *inodeBitmap
	dataBM     *dataBitmap
	icache     map[uint64]*Inode
	root       *Inode
	closed     bool

	flockFD int
	flocked bool
}

// Option configures a Mount at open time.
type Option func(*Mount)

// WithLogger overrides the default logrus logger used for mount-lifecycle
// and allocation diagnostics.
func WithLogger(log *logrus.Entry) Option {
	return func(m *Mount) { m.log = log }
}

// WithReadOnly mounts the volume read-only; every mutating operation
// returns ErrReadOnly.
func WithReadOnly() Option {
	return func(m *Mount) { m.readOnly = true }
}

// withClock overrides the time source used for a/m/ctime stamps; used by
// tests that need deterministic timestamps. Unexported: not part of the
// public surface, since SOURCE_DATE_EPOCH (timestamp.GetTime) already
// covers the reproducible-build use case.
func withClock(clock func() time.Time) Option {
	return func(m *Mount) { m.clock = clock }
}

func (m *Mount) now() time.Time {
	if m.clock != nil {
		return m.clock()
	}
	return timestamp.GetTime()
}

// Mount opens an EZFS volume backed by storage, validates its superblock,
// and materializes the root inode. The returned Mount must be closed with
// Unmount.
func Mount(storage backend.Storage, opts ...Option) (*Mount, error) {
	m := &Mount{
		storage: storage,
		log:     logrus.NewEntry(logrus.StandardLogger()),
		icache:  make(map[uint64]*Inode),
		flockFD: -1,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.lockVolume(); err != nil {
		return nil, err
	}

	sbBuf, err := m.readBlock(SuperblockDataBlockNumber)
	if err != nil {
		m.unlockVolume()
		return nil, err
	}
	defer sbBuf.release()

	sb, err := decodeSuperblock(sbBuf.bytes())
	if err != nil {
		m.unlockVolume()
		return nil, err
	}
	m.volumeUUID = sb.volumeUUID
	m.inodeBM = newInodeBitmap(sb.inodeBitmap)
	m.dataBM = newDataBitmap(sb.dataBitmap)

	root, err := m.loadInode(RootInodeNumber, RootInodeNumber)
	if err != nil {
		m.unlockVolume()
		return nil, fmt.Errorf("load root inode: %w", err)
	}
	if !root.IsDir() {
		m.unlockVolume()
		return nil, fmt.Errorf("mount: %w: root inode is not a directory", ErrBadMagic)
	}
	m.root = root

	m.log.WithFields(logrus.Fields{
		"volume_uuid": m.volumeUUID.String(),
		"read_only":   m.readOnly,
	}).Info("ezfs: volume mounted")

	return m, nil
}

// Root returns the volume's root directory inode.
func (m *Mount) Root() *Inode { return m.root }

// Unmount releases the advisory volume lock and closes the backing
// storage. It does not itself flush anything: every mutation already
// wrote through synchronously (see blockBuffer.markDirty).
func (m *Mount) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.unlockVolume()
	m.log.Info("ezfs: volume unmounted")
	return m.storage.Close()
}

// checkOpen returns ErrClosed if the volume has already been unmounted.
// Caller must hold m.mu.
func (m *Mount) checkOpen() error {
	if m.closed {
		return ErrClosed
	}
	return nil
}

// checkWritable returns ErrReadOnly for mutating calls against a
// read-only mount. Caller must hold m.mu.
func (m *Mount) checkWritable() error {
	if m.readOnly {
		return ErrReadOnly
	}
	return nil
}

// lockVolume takes an advisory exclusive flock on the backing file, the
// same mechanism the teacher's disk package uses for its block-device
// ioctls: resolve the OS file via backend.Storage.Sys() and operate on
// its descriptor directly. A non-regular, non-device backend (e.g. an
// in-memory test double) simply has no fd to lock, which is fine.
func (m *Mount) lockVolume() error {
	osFile, err := m.storage.Sys()
	if err != nil {
		return nil
	}
	how := unix.LOCK_EX | unix.LOCK_NB
	if m.readOnly {
		how = unix.LOCK_SH | unix.LOCK_NB
	}
	if err := unix.Flock(int(osFile.Fd()), how); err != nil {
		return fmt.Errorf("lock volume: %w", err)
	}
	m.flockFD = int(osFile.Fd())
	m.flocked = true
	return nil
}

func (m *Mount) unlockVolume() {
	if !m.flocked {
		return
	}
	_ = unix.Flock(m.flockFD, unix.LOCK_UN)
	m.flocked = false
}

// superblock is the decoded shape of block 0.
type superblock struct {
	magic       uint32
	version     uint32
	volumeUUID  uuid.UUID
	inodeBitmap []byte
	dataBitmap  []byte
}

const (
	sbInodeBitmapBytes = (MaxInodes + 7) / 8
	sbDataBitmapBytes  = (MaxDataBlocks + 7) / 8
	sbOffMagic         = 0x00
	sbOffVersion       = 0x04
	sbOffUUID          = 0x08
	sbOffInodeBitmap   = 0x18
	sbOffDataBitmap    = sbOffInodeBitmap + sbInodeBitmapBytes

	// currentVersion is the on-disk format version this package writes
	// and the only one it reads.
	currentVersion uint32 = 1
)

func decodeSuperblock(b []byte) (superblock, error) {
	magic := getUint32(b, sbOffMagic)
	if magic != MagicNumber {
		return superblock{}, fmt.Errorf("mount: %w: found 0x%08x", ErrBadMagic, magic)
	}
	var sb superblock
	sb.magic = magic
	sb.version = getUint32(b, sbOffVersion)
	copy(sb.volumeUUID[:], b[sbOffUUID:sbOffUUID+16])
	sb.inodeBitmap = append([]byte(nil), b[sbOffInodeBitmap:sbOffInodeBitmap+sbInodeBitmapBytes]...)
	sb.dataBitmap = append([]byte(nil), b[sbOffDataBitmap:sbOffDataBitmap+sbDataBitmapBytes]...)
	return sb, nil
}

func encodeSuperblock(b []byte, sb superblock) {
	putUint32(b, sbOffMagic, sb.magic)
	putUint32(b, sbOffVersion, sb.version)
	copy(b[sbOffUUID:sbOffUUID+16], sb.volumeUUID[:])
	copy(b[sbOffInodeBitmap:sbOffInodeBitmap+sbInodeBitmapBytes], sb.inodeBitmap)
	copy(b[sbOffDataBitmap:sbOffDataBitmap+sbDataBitmapBytes], sb.dataBitmap)
}

// writeSuperblockLocked re-encodes the current bitmaps into block 0 and
// marks it dirty. Caller must hold m.mu.
func (m *Mount) writeSuperblockLocked() error {
	buf, err := m.readBlock(SuperblockDataBlockNumber)
	if err != nil {
		return err
	}
	defer buf.release()
	sb := superblock{
		magic:       MagicNumber,
		version:     currentVersion,
		volumeUUID:  m.volumeUUID,
		inodeBitmap: m.inodeBM.bytes(),
		dataBitmap:  m.dataBM.bytes(),
	}
	encodeSuperblock(buf.bytes(), sb)
	return buf.markDirty()
}

// loadInode reads inode number's record from the inode-store block and
// returns the cached instance if one is already live, attaching parent
// when materializing for the first time.
func (m *Mount) loadInode(number, parent uint64) (*Inode, error) {
	if ino, ok := m.icache[number]; ok {
		return ino, nil
	}
	set, err := m.inodeBM.isSet(number)
	if err != nil || !set {
		return nil, fmt.Errorf("load inode %d: %w", number, ErrNotFound)
	}
	buf, err := m.readBlock(InodeStoreDataBlockNumber)
	if err != nil {
		return nil, err
	}
	defer buf.release()
	off := inodeOffset(number)
	rec := decodeInode(buf.bytes()[off : off+inodeRecordSize])
	ino := materializeInode(m, number, parent, rec)
	m.icache[number] = ino
	return ino, nil
}

var _ io.Closer = (*Mount)(nil)

// Close is an alias for Unmount, satisfying io.Closer for callers that
// want to defer a generic close.
func (m *Mount) Close() error { return m.Unmount() }
