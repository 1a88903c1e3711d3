package ezfs

import (
	"bytes"
	"io"
	"testing"
)

func TestFileWriteReadRoundTrip(t *testing.T) {
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
	content := []byte("the quick brown fox jumps over the lazy dog")
	if n, err := f.Write(content); err != nil || n != len(content) {
		t.Fatalf("Write = (%d, %v), want (%d, nil)", n, err, len(content))
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if ino.Size() != int64(len(content)) {
		t.Fatalf("inode size = %d, want %d", ino.Size(), len(content))
	}

	f2, err := m.OpenFile(ino)
	if err != nil {
		t.Fatalf("OpenFile (reopen): %v", err)
	}
	defer f2.Close()
	got, err := io.ReadAll(f2)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("read back %q, want %q", got, content)
	}
}

func TestFileWriteSpansMultipleBlocks(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	ino, err := m.Create(root, "big", 0o644, 0, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	content := bytes.Repeat([]byte("0123456789abcdef"), BlockSize/16*3)
	f, err := m.OpenFile(ino)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ino.Nblocks() != 3 {
		t.Fatalf("nblocks = %d, want 3", ino.Nblocks())
	}

	f2, err := m.OpenFile(ino)
	if err != nil {
		t.Fatalf("OpenFile (reopen): %v", err)
	}
	defer f2.Close()
	got, err := io.ReadAll(f2)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatal("multi-block read back did not match what was written")
	}
}

func TestFileSeekAndPartialRead(t *testing.T) {
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
	if _, err := f.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := f.Seek(5, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 3)
	n, err := f.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "567" {
		t.Fatalf("Read after seek = %q, want %q", buf[:n], "567")
	}
	_ = f.Close()
}

func TestFileOnDirectoryRejected(t *testing.T) {
	m := mountFresh(t)
	root := m.Root()
	sub, err := m.Mkdir(root, "d", 0o755, 0, 0)
	if err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if _, err := m.OpenFile(sub); err == nil {
		t.Fatal("OpenFile on a directory: expected an error, got nil")
	}
}
