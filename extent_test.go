package ezfs

import (
	"bytes"
	"testing"
)

func TestGetBlockUnmappedReadOnly(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	ino, err := m.Create(root, "f", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dbn, err := m.GetBlock(ino, 0, false)
	if err != nil {
		t.Fatalf("GetBlock(create=false) on unmapped file: %v", err)
	}
	if dbn != UnmappedBlock {
		t.Fatalf("GetBlock(create=false) = %d, want unmapped", dbn)
	}
}

func TestGetBlockGrowsInPlaceWhenFree(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	ino, err := m.Create(root, "f", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := m.GetBlock(ino, 0, true)
	if err != nil {
		t.Fatalf("GetBlock(0, create): %v", err)
	}
	second, err := m.GetBlock(ino, 1, true)
	if err != nil {
		t.Fatalf("GetBlock(1, create): %v", err)
	}
	if second != first+1 {
		t.Fatalf("extent did not grow in place: block 0 at %d, block 1 at %d", first, second)
	}
	if ino.Nblocks() != 2 {
		t.Fatalf("nblocks = %d, want 2", ino.Nblocks())
	}
}

func TestGetBlockRelocatesWhenNextBlockTaken(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	ino, err := m.Create(root, "f", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, err := m.GetBlock(ino, 0, true)
	if err != nil {
		t.Fatalf("GetBlock(0, create): %v", err)
	}

	// Write recognizable content into the first block so we can confirm
	// relocation preserves it.
	buf, err := m.readBlock(first)
	if err != nil {
		t.Fatalf("readBlock: %v", err)
	}
	copy(buf.bytes(), []byte("payload"))
	if err := buf.markDirty(); err != nil {
		t.Fatalf("markDirty: %v", err)
	}
	buf.release()

	// Occupy the block immediately following the extent so growth must relocate.
	m.mu.Lock()
	if err := m.dataBM.set(first + 1); err != nil {
		m.mu.Unlock()
		t.Fatalf("set: %v", err)
	}
	m.mu.Unlock()

	second, err := m.GetBlock(ino, 1, true)
	if err != nil {
		t.Fatalf("GetBlock(1, create) forcing relocation: %v", err)
	}
	newFirst := second - 1
	if newFirst == first {
		t.Fatal("extent did not relocate even though the adjacent block was taken")
	}
	if ino.Nblocks() != 2 {
		t.Fatalf("nblocks after relocation = %d, want 2", ino.Nblocks())
	}

	relocatedBuf, err := m.readBlock(newFirst)
	if err != nil {
		t.Fatalf("readBlock after relocation: %v", err)
	}
	defer relocatedBuf.release()
	if !bytes.HasPrefix(relocatedBuf.bytes(), []byte("payload")) {
		t.Fatal("relocation did not preserve the original block's data")
	}

	m.mu.Lock()
	oldStillSet, err := m.dataBM.isSet(first)
	m.mu.Unlock()
	if err != nil {
		t.Fatalf("isSet: %v", err)
	}
	if oldStillSet {
		t.Fatal("old extent's block still marked used after relocation")
	}
}

func TestGetBlockNoSpace(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	ino, err := m.Create(root, "f", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	m.mu.Lock()
	for {
		if _, err := m.dataBM.firstFreeRun(1); err != nil {
			break
		}
		block, _ := m.dataBM.firstFreeRun(1)
		_ = m.dataBM.set(block)
	}
	m.mu.Unlock()

	if _, err := m.GetBlock(ino, 0, true); err == nil {
		t.Fatal("GetBlock on an exhausted device: expected an error, got nil")
	}
}
