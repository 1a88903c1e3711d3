package ezfs

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ezfs-project/ezfs/backend"
	"github.com/ezfs-project/ezfs/util/timestamp"
)

// VolumeSize is the fixed total size, in bytes, of an EZFS volume:
// superblock + inode table + data area, every block accounted for by
// the two bitmaps' address space.
const VolumeSize = (InodeStoreDataBlockNumber + inodeStoreBlocks + MaxDataBlocks) * BlockSize

// Format initializes storage as a fresh, empty EZFS volume: a superblock
// with a new random UUID and both bitmaps clear except for the root
// inode and its directory block, an inode table holding only the root
// inode's record, and a zeroed root
// directory block. storage must already be at least VolumeSize bytes
// (backend/file.CreateFromPath with that size is the usual way to get
// one), the same division of labor the teacher pack's format tools use:
// allocate-and-truncate the backing file first, then hand it to the
// layout-writer. Grounded on the original format_disk_as_ezfs tool's
// three-block bootstrap (superblock, inode table, root directory).
func Format(storage backend.Storage) (uuid.UUID, error) {
	w, err := storage.Writable()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("format: %w", err)
	}

	volUUID := uuid.New()

	inodeBM := newInodeBitmap(make([]byte, sbInodeBitmapBytes))
	dataBM := newDataBitmap(make([]byte, sbDataBitmapBytes))
	if err := inodeBM.set(RootInodeNumber); err != nil {
		return uuid.UUID{}, err
	}
	if err := dataBM.set(RootDataBlockNumber); err != nil {
		return uuid.UUID{}, err
	}

	sbBytes := make([]byte, BlockSize)
	encodeSuperblock(sbBytes, superblock{
		magic:       MagicNumber,
		version:     currentVersion,
		volumeUUID:  volUUID,
		inodeBitmap: inodeBM.bytes(),
		dataBitmap:  dataBM.bytes(),
	})
	if _, err := w.WriteAt(sbBytes, SuperblockDataBlockNumber*BlockSize); err != nil {
		return uuid.UUID{}, fmt.Errorf("format: write superblock: %w", err)
	}

	inodeStoreBytes := make([]byte, BlockSize)
	now := timestamp.GetTime()
	rootRec := rawInode{
		mode: ModeDirectory | 0o755, nlink: 2,
		atime: now, mtime: now, ctime: now,
		dbn: RootDataBlockNumber, nblocks: 1,
	}
	off := inodeOffset(RootInodeNumber)
	encodeInode(inodeStoreBytes[off:off+inodeRecordSize], rootRec)
	if _, err := w.WriteAt(inodeStoreBytes, InodeStoreDataBlockNumber*BlockSize); err != nil {
		return uuid.UUID{}, fmt.Errorf("format: write inode table: %w", err)
	}

	rootDirBytes := make([]byte, BlockSize)
	if _, err := w.WriteAt(rootDirBytes, RootDataBlockNumber*BlockSize); err != nil {
		return uuid.UUID{}, fmt.Errorf("format: write root directory: %w", err)
	}

	return volUUID, nil
}
