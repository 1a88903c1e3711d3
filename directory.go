package ezfs

import "fmt"

// dirSlot is the decoded shape of one directory-entry slot.
type dirSlot struct {
	active  bool
	name    string
	inodeNo uint64
}

const (
	deOffActive  = 0x00
	deOffName    = 0x04
	deNameField  = MaxFilenameLength + 1 // NUL-terminated
	deOffInodeNo = deOffName + deNameField
)

func decodeDirSlot(b []byte) dirSlot {
	active := getUint32(b, deOffActive) != 0
	nameField := b[deOffName : deOffName+deNameField]
	n := 0
	for n < len(nameField) && nameField[n] != 0 {
		n++
	}
	return dirSlot{
		active:  active,
		name:    string(nameField[:n]),
		inodeNo: getUint64(b, deOffInodeNo),
	}
}

func encodeDirSlot(b []byte, s dirSlot) {
	var flag uint32
	if s.active {
		flag = 1
	}
	putUint32(b, deOffActive, flag)
	nameField := b[deOffName : deOffName+deNameField]
	for i := range nameField {
		nameField[i] = 0
	}
	copy(nameField, s.name)
	putUint64(b, deOffInodeNo, s.inodeNo)
}

func slotOffset(index int) int { return index * dirEntrySize }

// readDirSlots loads all MaxChildren slots of a directory's (single) data
// block.
func (m *Mount) readDirSlots(dbn int64) ([]dirSlot, *blockBuffer, error) {
	buf, err := m.readBlock(dbn)
	if err != nil {
		return nil, nil, err
	}
	slots := make([]dirSlot, MaxChildren)
	for i := range slots {
		off := slotOffset(i)
		slots[i] = decodeDirSlot(buf.bytes()[off : off+dirEntrySize])
	}
	return slots, buf, nil
}

// dirLookupLocked scans dir's data block for name, returning its inode
// number. Caller must hold m.mu and dir must already have an allocated
// data block (every directory is created with one, spec.md §4.1).
func (m *Mount) dirLookupLocked(dir *Inode, name string) (uint64, error) {
	slots, buf, err := m.readDirSlots(dir.dbn.Load())
	if err != nil {
		return 0, err
	}
	defer buf.release()
	for _, s := range slots {
		if s.active && s.name == name {
			return s.inodeNo, nil
		}
	}
	return 0, fmt.Errorf("lookup %q: %w", name, ErrNotFound)
}

// dirInsertLocked writes a new active slot for (name, inodeNo) into dir's
// directory block, reusing the first inactive slot if one exists.
// Returns ErrNoSpace if every slot is in active use.
func (m *Mount) dirInsertLocked(dir *Inode, name string, inodeNo uint64) error {
	if len(name) > MaxFilenameLength {
		return fmt.Errorf("insert %q: %w", name, ErrNameTooLong)
	}
	slots, buf, err := m.readDirSlots(dir.dbn.Load())
	if err != nil {
		return err
	}
	defer buf.release()

	for _, s := range slots {
		if s.active && s.name == name {
			return fmt.Errorf("create %q: already exists", name)
		}
	}

	index := -1
	for i, s := range slots {
		if !s.active {
			index = i
			break
		}
	}
	if index == -1 {
		return fmt.Errorf("insert %q: %w", name, ErrNoSpace)
	}

	off := slotOffset(index)
	encodeDirSlot(buf.bytes()[off:off+dirEntrySize], dirSlot{active: true, name: name, inodeNo: inodeNo})
	return buf.markDirty()
}

// dirDeactivateLocked clears the active slot matching name. Returns
// ErrNotFound if no such slot exists.
func (m *Mount) dirDeactivateLocked(dir *Inode, name string) (uint64, error) {
	slots, buf, err := m.readDirSlots(dir.dbn.Load())
	if err != nil {
		return 0, err
	}
	defer buf.release()

	for i, s := range slots {
		if s.active && s.name == name {
			off := slotOffset(i)
			encodeDirSlot(buf.bytes()[off:off+dirEntrySize], dirSlot{})
			if err := buf.markDirty(); err != nil {
				return 0, err
			}
			return s.inodeNo, nil
		}
	}
	return 0, fmt.Errorf("unlink %q: %w", name, ErrNotFound)
}

// dirIsEmptyLocked reports whether dir has no active entries other than
// the synthetic "." and "..".
func (m *Mount) dirIsEmptyLocked(dir *Inode) (bool, error) {
	slots, buf, err := m.readDirSlots(dir.dbn.Load())
	if err != nil {
		return false, err
	}
	defer buf.release()
	for _, s := range slots {
		if s.active {
			return false, nil
		}
	}
	return true, nil
}

// DirEntry is one entry returned by Iterate: either a real child or one
// of the synthetic "." / ".." entries every directory presents.
type DirEntry struct {
	Name    string
	InodeNo uint64
	IsDir   bool
}

// EmitFunc receives one directory entry during Iterate. Returning false
// stops iteration early without advancing past the entry just emitted —
// a subsequent Iterate call starting from the returned position will
// re-emit it.
type EmitFunc func(DirEntry) bool

// Iterate walks dir's entries starting at position pos, calling emit for
// each. It returns the position a caller should resume from on the next
// call. Position 0 and 1 are the synthetic "." and ".." entries; position
// 2+i corresponds to directory-block slot i.
//
// The resume semantics mirror the original driver's readdir loop exactly:
// position advances past every slot visited — active or not — when emit
// keeps going, but holds at the current slot when emit returns false, so
// resuming re-scans from (and re-emits) the slot that didn't fit.
func (m *Mount) Iterate(dir *Inode, pos int, emit EmitFunc) (int, error) {
	if !dir.IsDir() {
		return pos, ErrNotDir
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return pos, err
	}

	if pos == 0 {
		if !emit(DirEntry{Name: ".", InodeNo: dir.number, IsDir: true}) {
			return 0, nil
		}
		pos = 1
	}
	if pos == 1 {
		if !emit(DirEntry{Name: "..", InodeNo: dir.parent, IsDir: true}) {
			return 1, nil
		}
		pos = 2
	}

	slots, buf, err := m.readDirSlots(dir.dbn.Load())
	if err != nil {
		return pos, err
	}
	defer buf.release()

	for i := pos - 2; i < len(slots); i++ {
		s := slots[i]
		if !s.active {
			pos = i + 3
			continue
		}
		childIno, err := m.loadInode(s.inodeNo, dir.number)
		if err != nil {
			return pos, err
		}
		if !emit(DirEntry{Name: s.name, InodeNo: s.inodeNo, IsDir: childIno.IsDir()}) {
			return i + 2, nil
		}
		pos = i + 3
	}
	return pos, nil
}
