package ezfs

import "fmt"

// Lookup resolves name within dir and returns its inode. dir must be a
// directory.
func (m *Mount) Lookup(dir *Inode, name string) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	number, err := m.dirLookupLocked(dir, name)
	if err != nil {
		return nil, err
	}
	return m.loadInode(number, dir.number)
}

// createLocked allocates a fresh inode of the given mode, reserves its
// single data block for directories (regular files start unmapped), and
// links it into dir under name. Every resource — the inode-bitmap bit,
// the new directory-entry slot, and (for directories) the data-block bit
// — is reserved before any inode record is written, per spec.md's
// reserve-before-commit ordering: a failure partway through never leaves
// a half-linked, half-allocated inode visible to a later lookup.
func (m *Mount) createLocked(dir *Inode, name string, mode uint16, uid, gid uint32) (*Inode, error) {
	if len(name) > MaxFilenameLength {
		return nil, fmt.Errorf("create %q: %w", name, ErrNameTooLong)
	}
	if _, err := m.dirLookupLocked(dir, name); err == nil {
		return nil, fmt.Errorf("create %q: already exists", name)
	}
	slots, slotBuf, err := m.readDirSlots(dir.dbn.Load())
	if err != nil {
		return nil, err
	}
	slotBuf.release()
	hasFreeSlot := false
	for _, s := range slots {
		if !s.active {
			hasFreeSlot = true
			break
		}
	}
	if !hasFreeSlot {
		return nil, fmt.Errorf("create %q: %w", name, ErrNoSpace)
	}

	number, err := m.inodeBM.firstFree()
	if err != nil {
		return nil, err
	}

	isDir := mode&ModeTypeMask == ModeDirectory
	dbn := UnmappedBlock
	nblocks := uint64(0)
	if isDir {
		block, err := m.dataBM.firstFreeRun(1)
		if err != nil {
			return nil, err
		}
		dbn = block
		nblocks = 1
	}

	// Reserve first: both bitmap bits are set before the new inode record
	// or its directory-entry slot are written.
	if err := m.inodeBM.set(number); err != nil {
		return nil, err
	}
	if isDir {
		if err := m.dataBM.set(dbn); err != nil {
			return nil, err
		}
	}
	if err := m.writeSuperblockLocked(); err != nil {
		return nil, err
	}

	now := m.now()
	nlink := uint32(1)
	if isDir {
		nlink = 2 // self "." plus the parent's entry
	}
	rec := rawInode{
		mode: mode, nlink: nlink, uid: uid, gid: gid,
		atime: now, mtime: now, ctime: now,
		dbn: dbn, nblocks: nblocks,
	}
	ino := materializeInode(m, number, dir.number, rec)
	if err := m.writeInodeLocked(ino); err != nil {
		return nil, err
	}

	if isDir {
		if err := m.zeroDirBlockLocked(dbn); err != nil {
			return nil, err
		}
	}

	if err := m.dirInsertLocked(dir, name, number); err != nil {
		return nil, err
	}

	if isDir {
		dir.mu.Lock()
		dir.nlink++ // the new subdirectory's ".." points back at dir
		dir.touchLocked(true)
		dir.mu.Unlock()
		if err := m.writeInodeLocked(dir); err != nil {
			return nil, err
		}
	} else {
		dir.mu.Lock()
		dir.touchLocked(true)
		dir.mu.Unlock()
		if err := m.writeInodeLocked(dir); err != nil {
			return nil, err
		}
	}

	m.icache[number] = ino
	return ino, nil
}

func (m *Mount) zeroDirBlockLocked(dbn int64) error {
	buf, err := m.readBlock(dbn)
	if err != nil {
		return err
	}
	defer buf.release()
	for i := range buf.bytes() {
		buf.bytes()[i] = 0
	}
	return buf.markDirty()
}

// Create makes a regular file named name in dir, owned by uid/gid, with
// permission bits perm. The new inode has no data block until first
// written (spec.md: regular files start with dbn=UnmappedBlock).
func (m *Mount) Create(dir *Inode, name string, perm uint16, uid, gid uint32) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if err := m.checkWritable(); err != nil {
		return nil, err
	}
	return m.createLocked(dir, name, ModeRegular|(perm&ModePerm), uid, gid)
}

// Mkdir makes a subdirectory named name in dir, owned by uid/gid.
func (m *Mount) Mkdir(dir *Inode, name string, perm uint16, uid, gid uint32) (*Inode, error) {
	if !dir.IsDir() {
		return nil, ErrNotDir
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if err := m.checkWritable(); err != nil {
		return nil, err
	}
	return m.createLocked(dir, name, ModeDirectory|(perm&ModePerm), uid, gid)
}

// Unlink removes name from dir. The target's nlink drops by one; if it
// reaches zero and the inode has no open file descriptors, its resources
// are released immediately. If the target is still open elsewhere, it
// remains valid (its inode and data blocks stay allocated) until the last
// close (spec.md §5: "a file held open past unlink remains valid until
// close").
func (m *Mount) Unlink(dir *Inode, name string) error {
	if !dir.IsDir() {
		return ErrNotDir
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := m.checkWritable(); err != nil {
		return err
	}
	return m.unlinkLocked(dir, name, false)
}

// unlinkLocked removes name's directory-entry slot and drops the
// target's nlink. allowDir permits unlinking a directory entry, used
// internally by Rmdir (which has already verified emptiness); Unlink
// itself refuses directories with ErrIsDir.
func (m *Mount) unlinkLocked(dir *Inode, name string, allowDir bool) error {
	number, err := m.dirLookupLocked(dir, name)
	if err != nil {
		return err
	}
	target, err := m.loadInode(number, dir.number)
	if err != nil {
		return err
	}
	if target.IsDir() && !allowDir {
		return ErrIsDir
	}

	if _, err := m.dirDeactivateLocked(dir, name); err != nil {
		return err
	}

	target.mu.Lock()
	target.nlink--
	target.touchLocked(false)
	nlinkZero := target.nlink == 0
	target.mu.Unlock()
	if err := m.writeInodeLocked(target); err != nil {
		return err
	}

	dir.mu.Lock()
	dir.touchLocked(true)
	dir.mu.Unlock()
	if err := m.writeInodeLocked(dir); err != nil {
		return err
	}

	if nlinkZero {
		return m.maybeEvictLocked(target)
	}
	return nil
}

// Rmdir removes the empty subdirectory named name from dir.
func (m *Mount) Rmdir(dir *Inode, name string) error {
	if !dir.IsDir() {
		return ErrNotDir
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := m.checkWritable(); err != nil {
		return err
	}

	number, err := m.dirLookupLocked(dir, name)
	if err != nil {
		return err
	}
	target, err := m.loadInode(number, dir.number)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return ErrNotDir
	}
	empty, err := m.dirIsEmptyLocked(target)
	if err != nil {
		return err
	}
	if !empty {
		return ErrNotEmpty
	}

	// unlinkLocked drops the link held by dir's entry for it (2->1); the
	// second drop below accounts for the target's own "." self-reference,
	// and dir itself loses the link the subdirectory's ".." held.
	if err := m.unlinkLocked(dir, name, true); err != nil {
		return err
	}

	target.mu.Lock()
	if target.nlink > 0 {
		target.nlink--
	}
	nlinkZero := target.nlink == 0
	target.mu.Unlock()
	if err := m.writeInodeLocked(target); err != nil {
		return err
	}
	if nlinkZero {
		if err := m.maybeEvictLocked(target); err != nil {
			return err
		}
	}

	dir.mu.Lock()
	if dir.nlink > 0 {
		dir.nlink--
	}
	dir.touchLocked(true)
	dir.mu.Unlock()
	return m.writeInodeLocked(dir)
}

// maybeEvictLocked releases an inode's resources once both its link
// count and its open-descriptor count have reached zero.
func (m *Mount) maybeEvictLocked(ino *Inode) error {
	if ino.openCountLoad() != 0 {
		return nil
	}
	return m.evictLocked(ino)
}

// evictLocked frees the inode-bitmap bit and, if the inode owns a data
// extent, the data-block bits covering it. The on-disk inode record is
// left as-is (its bitmap bit being clear is what marks it free); a
// future create reusing this inode number overwrites it.
func (m *Mount) evictLocked(ino *Inode) error {
	ino.mu.Lock()
	dbn := ino.dbn.Load()
	nblocks := int(ino.nblocks.Load())
	ino.evicted = true
	ino.mu.Unlock()

	if dbn != UnmappedBlock && nblocks > 0 {
		if err := m.dataBM.clearRange(dbn, nblocks); err != nil {
			return err
		}
	}
	if err := m.inodeBM.clear(ino.number); err != nil {
		return err
	}
	if err := m.writeSuperblockLocked(); err != nil {
		return err
	}
	delete(m.icache, ino.number)
	return nil
}
