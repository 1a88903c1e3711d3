package ezfs

import (
	"fmt"

	"github.com/ezfs-project/ezfs/util/bitmap"
)

// inodeBitmap tracks which of the MaxInodes inode-table slots are in use.
// Bit i corresponds to inode number i+RootInodeNumber.
type inodeBitmap struct {
	bm *bitmap.Bitmap
}

func newInodeBitmap(raw []byte) *inodeBitmap {
	return &inodeBitmap{bm: bitmap.FromBytes(raw)}
}

func (ib *inodeBitmap) bytes() []byte { return ib.bm.ToBytes() }

func (ib *inodeBitmap) isSet(number uint64) (bool, error) {
	return ib.bm.IsSet(int(number - RootInodeNumber))
}

func (ib *inodeBitmap) set(number uint64) error {
	return ib.bm.Set(int(number - RootInodeNumber))
}

func (ib *inodeBitmap) clear(number uint64) error {
	return ib.bm.Clear(int(number - RootInodeNumber))
}

// firstFree returns the lowest unused inode number, or an error wrapping
// ErrNoSpace if the inode table is full.
func (ib *inodeBitmap) firstFree() (uint64, error) {
	bit := ib.bm.FirstFree(0)
	if bit < 0 || bit >= MaxInodes {
		return 0, fmt.Errorf("allocate inode: %w", ErrNoSpace)
	}
	return uint64(bit) + RootInodeNumber, nil
}

// dataBitmap tracks which of the MaxDataBlocks data blocks are in use.
// Bit i corresponds to data block number i+RootDataBlockNumber.
type dataBitmap struct {
	bm *bitmap.Bitmap
}

func newDataBitmap(raw []byte) *dataBitmap {
	return &dataBitmap{bm: bitmap.FromBytes(raw)}
}

func (db *dataBitmap) bytes() []byte { return db.bm.ToBytes() }

func (db *dataBitmap) isSet(block int64) (bool, error) {
	return db.bm.IsSet(int(block - RootDataBlockNumber))
}

func (db *dataBitmap) set(block int64) error {
	return db.bm.Set(int(block - RootDataBlockNumber))
}

func (db *dataBitmap) clear(block int64) error {
	return db.bm.Clear(int(block - RootDataBlockNumber))
}

func (db *dataBitmap) setRange(start int64, n int) error {
	for i := 0; i < n; i++ {
		if err := db.set(start + int64(i)); err != nil {
			return err
		}
	}
	return nil
}

func (db *dataBitmap) clearRange(start int64, n int) error {
	for i := 0; i < n; i++ {
		if err := db.clear(start + int64(i)); err != nil {
			return err
		}
	}
	return nil
}

// firstFreeRun returns the lowest-index run of n contiguous free data
// blocks, translated to absolute block numbers. Returns an error wrapping
// ErrNoSpace if no such run exists.
func (db *dataBitmap) firstFreeRun(n int) (int64, error) {
	pos, ok := db.bm.FirstFreeRun(n)
	if !ok || pos+n > MaxDataBlocks {
		return 0, fmt.Errorf("allocate %d data block(s): %w", n, ErrNoSpace)
	}
	return int64(pos) + RootDataBlockNumber, nil
}

// canExtendInPlace reports whether the block immediately following an
// extent of cur blocks starting at start is free, i.e. whether the extent
// can grow by one block without relocation.
func (db *dataBitmap) canExtendInPlace(start int64, cur int) bool {
	next := start + int64(cur)
	if next-RootDataBlockNumber+1 > MaxDataBlocks {
		return false
	}
	set, err := db.isSet(next)
	return err == nil && !set
}
