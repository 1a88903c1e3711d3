package ezfs

import "errors"

// Sentinel errors returned by ezfs operations. Callers match with
// errors.Is. Most are returned wrapped with context via fmt.Errorf; some
// are returned bare, and a few errors (creating a name that already
// exists, a negative GetBlock index, an invalid Seek) wrap no sentinel.
var (
	// ErrIO is returned when a block read or write to the backing device fails.
	ErrIO = errors.New("ezfs: I/O error")
	// ErrNoSpace is returned when the inode bitmap, data-block bitmap, or a
	// directory block has no free slot, or no sufficiently large
	// contiguous run of data blocks exists.
	ErrNoSpace = errors.New("ezfs: no space left on device")
	// ErrNameTooLong is returned when a requested filename exceeds MaxFilenameLength.
	ErrNameTooLong = errors.New("ezfs: name too long")
	// ErrNotFound is returned when a lookup or unlink target does not exist.
	ErrNotFound = errors.New("ezfs: no such file or directory")
	// ErrNotEmpty is returned by Rmdir when the target directory still has
	// active entries.
	ErrNotEmpty = errors.New("ezfs: directory not empty")
	// ErrNoMemory stands for a failed mount-time allocation. No function in
	// this package returns it.
	ErrNoMemory = errors.New("ezfs: out of memory")
	// ErrBadMagic is returned when a volume's superblock magic does not match MagicNumber.
	ErrBadMagic = errors.New("ezfs: bad magic number")
	// ErrNotDir is returned when a namespace operation expects a directory
	// inode and receives a regular file. Not part of spec.md's error table
	// (the kernel VFS enforces this before calling in); added because this
	// library has no VFS layer doing it for us.
	ErrNotDir = errors.New("ezfs: not a directory")
	// ErrIsDir is returned when byte-range file I/O is attempted against a
	// directory inode, or when Unlink targets a directory.
	ErrIsDir = errors.New("ezfs: is a directory")
	// ErrReadOnly is returned when a mutating operation is attempted on a
	// volume mounted read-only.
	ErrReadOnly = errors.New("ezfs: read-only filesystem")
	// ErrClosed is returned when an operation is attempted on an unmounted volume.
	ErrClosed = errors.New("ezfs: volume is unmounted")
)
