package ezfs

import "fmt"

// GetBlock returns the absolute data-block number backing logical block
// index logical of ino's extent. With create set to false, a logical
// index past the current extent returns UnmappedBlock, nil. With create
// set to true, the extent is grown to cover logical — by one block at a
// time, in place when the next physical block is free, or by relocating
// the whole extent to a large-enough free run otherwise — exactly
// mirroring the original driver's block-at-a-time growth policy
// (spec.md §4.3).
//
// Reads of an already-mapped block take the lock-free fast path: dbn and
// nblocks are loaded from ino's atomic fields without acquiring m.mu,
// relying on the invariant that a block number already visible to a
// reader was committed (bitmap + on-disk dbn) before becoming visible.
func (m *Mount) GetBlock(ino *Inode, logical int64, create bool) (int64, error) {
	if logical < 0 {
		return 0, fmt.Errorf("get block: negative logical index %d", logical)
	}

	dbn := ino.dbn.Load()
	nblocks := int64(ino.nblocks.Load())
	if dbn != UnmappedBlock && logical < nblocks {
		return dbn + logical, nil
	}
	if !create {
		return UnmappedBlock, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	if err := m.checkWritable(); err != nil {
		return 0, err
	}

	// Re-check under the lock: another goroutine may have grown the
	// extent (or raced us here) between the fast-path load and the lock.
	dbn = ino.dbn.Load()
	nblocks = int64(ino.nblocks.Load())
	for logical >= nblocks {
		newDBN, newNblocks, err := m.growExtentLocked(dbn, nblocks)
		if err != nil {
			return 0, err
		}
		dbn, nblocks = newDBN, newNblocks
		// Persist each single-block growth step before attempting the
		// next one, so a later failure mid-loop still leaves the inode
		// pointing at a valid, fully-reserved extent.
		if err := m.commitExtentGrowthLocked(ino, dbn, nblocks, 0); err != nil {
			return 0, err
		}
	}
	return dbn + logical, nil
}

// growExtentLocked extends an inode's extent by exactly one block,
// either in place or by relocation, and returns the (possibly new) dbn
// and the new block count. It does not persist the owning inode's
// dbn/nblocks fields itself — the caller (GetBlock, through
// commitExtentGrowthLocked) does that after each step succeeds, matching
// spec.md's reserve-before-commit ordering: bitmap bits are claimed
// first, inode/directory records are only written once every resource
// the operation needs has been reserved.
func (m *Mount) growExtentLocked(dbn int64, nblocks int64) (int64, int64, error) {
	if dbn == UnmappedBlock {
		first, err := m.dataBM.firstFreeRun(1)
		if err != nil {
			return 0, 0, err
		}
		if err := m.dataBM.set(first); err != nil {
			return 0, 0, err
		}
		if err := m.writeSuperblockLocked(); err != nil {
			return 0, 0, err
		}
		return first, 1, nil
	}

	if m.dataBM.canExtendInPlace(dbn, int(nblocks)) {
		next := dbn + nblocks
		if err := m.dataBM.set(next); err != nil {
			return 0, 0, err
		}
		if err := m.writeSuperblockLocked(); err != nil {
			return 0, 0, err
		}
		return dbn, nblocks + 1, nil
	}

	return m.relocateExtentLocked(dbn, nblocks)
}

// relocateExtentLocked finds a free run one block larger than the
// current extent, copies the extent's live data into it, releases the
// old run, and returns the new dbn/nblocks. Ordering follows spec.md's
// Error Handling Design: the new run is reserved (bitmap set) and
// populated with copied data before the old run's bits are cleared, so a
// crash or error mid-relocation leaves the old extent intact rather than
// losing data the way an early-release-then-copy ordering would.
func (m *Mount) relocateExtentLocked(oldDBN, oldNblocks int64) (int64, int64, error) {
	newNblocks := oldNblocks + 1
	newDBN, err := m.dataBM.firstFreeRun(int(newNblocks))
	if err != nil {
		return 0, 0, fmt.Errorf("relocate extent: %w", err)
	}
	if err := m.dataBM.setRange(newDBN, int(newNblocks)); err != nil {
		return 0, 0, err
	}

	for i := int64(0); i < oldNblocks; i++ {
		src, err := m.readBlock(oldDBN + i)
		if err != nil {
			return 0, 0, err
		}
		dst, err := m.readBlock(newDBN + i)
		if err != nil {
			src.release()
			return 0, 0, err
		}
		copy(dst.bytes(), src.bytes())
		if err := dst.markDirty(); err != nil {
			src.release()
			dst.release()
			return 0, 0, err
		}
		src.release()
		dst.release()
	}

	if err := m.dataBM.clearRange(oldDBN, int(oldNblocks)); err != nil {
		return 0, 0, err
	}
	if err := m.writeSuperblockLocked(); err != nil {
		return 0, 0, err
	}

	m.log.WithFields(map[string]interface{}{
		"old_dbn": oldDBN, "new_dbn": newDBN, "nblocks": newNblocks,
	}).Debug("ezfs: relocated extent")

	return newDBN, newNblocks, nil
}

// commitExtentGrowthLocked persists ino's new dbn/nblocks to both the
// in-memory atomic fields and the on-disk inode record, and bumps
// fileSize if the write extended past the current size. Caller must hold
// m.mu. ino.mu is locked only for the field mutations and released
// before writeInodeLocked, which takes it again internally.
func (m *Mount) commitExtentGrowthLocked(ino *Inode, dbn, nblocks int64, minFileSize int64) error {
	ino.mu.Lock()
	ino.dbn.Store(dbn)
	ino.nblocks.Store(uint64(nblocks))
	if minFileSize > int64(ino.fileSize.Load()) {
		ino.fileSize.Store(uint64(minFileSize))
	}
	ino.touchLocked(true)
	ino.mu.Unlock()
	return m.writeInodeLocked(ino)
}
