package ezfs

import (
	"errors"
	"testing"
)

func TestCreateAndLookup(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()

	ino, err := m.Create(root, "hello.txt", 0o644, 1000, 1000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ino.IsDir() {
		t.Fatal("regular file reported as directory")
	}
	if ino.Nlink() != 1 {
		t.Fatalf("new file nlink = %d, want 1", ino.Nlink())
	}
	if ino.dbn.Load() != UnmappedBlock {
		t.Fatalf("new regular file dbn = %d, want unmapped", ino.dbn.Load())
	}

	got, err := m.Lookup(root, "hello.txt")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.Number() != ino.Number() {
		t.Fatalf("Lookup returned inode %d, want %d", got.Number(), ino.Number())
	}

	if _, err := m.Lookup(root, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup missing: got %v, want ErrNotFound", err)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	if _, err := m.Create(root, "a", 0o644, 0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create(root, "a", 0o644, 0, 0); err == nil {
		t.Fatal("Create of a duplicate name: expected an error, got nil")
	}
}

func TestCreateNameTooLong(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	long := make([]byte, MaxFilenameLength+1)
	for i := range long {
		long[i] = 'x'
	}
	if _, err := m.Create(root, string(long), 0o644, 0, 0); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("Create with an over-long name: got %v, want ErrNameTooLong", err)
	}
}

func TestMkdirLinksParentAndChild(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()

	sub, err := m.Mkdir(root, "sub", 0o755, 0, 0)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if !sub.IsDir() {
		t.Fatal("Mkdir did not create a directory")
	}
	if sub.Nlink() != 2 {
		t.Fatalf("new directory nlink = %d, want 2 (self + parent entry)", sub.Nlink())
	}
	if root.Nlink() != 3 {
		t.Fatalf("parent nlink after one Mkdir = %d, want 3 (self + .. + child's ..)", root.Nlink())
	}
}

func TestUnlinkDropsLinkAndFreesSpace(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()

	ino, err := m.Create(root, "f", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	number := ino.Number()

	if err := m.Unlink(root, "f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := m.Lookup(root, "f"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lookup after Unlink: got %v, want ErrNotFound", err)
	}

	set, err := m.inodeBM.isSet(number)
	if err != nil {
		t.Fatalf("isSet: %v", err)
	}
	if set {
		t.Fatal("inode bit still set after unlinking a file with no open descriptors")
	}
}

func TestUnlinkDirRejected(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	if _, err := m.Mkdir(root, "d", 0o755, 0, 0); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := m.Unlink(root, "d"); !errors.Is(err, ErrIsDir) {
		t.Fatalf("Unlink on a directory: got %v, want ErrIsDir", err)
	}
}

func TestOpenFileOutlivesUnlink(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()

	ino, err := m.Create(root, "f", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := m.OpenFile(ino)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if err := m.Unlink(root, "f"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	if _, err := f.Write([]byte("still valid")); err != nil {
		t.Fatalf("write to an unlinked-but-open file: %v", err)
	}

	set, err := m.inodeBM.isSet(ino.Number())
	if err != nil {
		t.Fatalf("isSet: %v", err)
	}
	if !set {
		t.Fatal("inode bit cleared while a descriptor is still open")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	set, err = m.inodeBM.isSet(ino.Number())
	if err != nil {
		t.Fatalf("isSet after close: %v", err)
	}
	if set {
		t.Fatal("inode bit still set after the last descriptor closed")
	}
}

func TestRmdirRequiresEmpty(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	sub, err := m.Mkdir(root, "d", 0o755, 0, 0)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := m.Create(sub, "f", 0o644, 0, 0); err != nil {
		t.Fatalf("Create inside subdir: %v", err)
	}
	if err := m.Rmdir(root, "d"); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("Rmdir on a non-empty directory: got %v, want ErrNotEmpty", err)
	}
	if err := m.Unlink(sub, "f"); err != nil {
		t.Fatalf("Unlink child: %v", err)
	}
	if err := m.Rmdir(root, "d"); err != nil {
		t.Fatalf("Rmdir on an empty directory: %v", err)
	}
	if root.Nlink() != 2 {
		t.Fatalf("parent nlink after Rmdir = %d, want 2 (back to self + ..)", root.Nlink())
	}
}

func TestRmdirOnFileRejected(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	if _, err := m.Create(root, "f", 0o644, 0, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Rmdir(root, "f"); !errors.Is(err, ErrNotDir) {
		t.Fatalf("Rmdir on a regular file: got %v, want ErrNotDir", err)
	}
}

// TestDirectoryFullRejectsInsert fills every slot of a directory block
// directly (reusing one inode number, since with the root holding one of
// the MaxInodes inodes too few remain to fill all MaxChildren slots, and
// this test only cares about directory-table exhaustion)
// and checks that one more insert reports ErrNoSpace.
func TestDirectoryFullRejectsInsert(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	ino, err := m.Create(root, "placeholder", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 1; i < MaxChildren; i++ {
		name := string(rune('a'+i%26)) + string(rune('0'+i/26))
		if err := m.dirInsertLocked(root, name, ino.Number()); err != nil {
			t.Fatalf("dirInsertLocked #%d (%s): %v", i, name, err)
		}
	}
	if err := m.dirInsertLocked(root, "overflow", ino.Number()); !errors.Is(err, ErrNoSpace) {
		t.Fatalf("dirInsertLocked past MaxChildren: got %v, want ErrNoSpace", err)
	}
}
