package ezfsutil

import (
	"io"
	"io/fs"
	"time"

	"github.com/ezfs-project/ezfs"
)

// volumeFS adapts a Mount to io/fs.FS, the same role converter.FS plays
// for the teacher pack's disk-backed filesystem.FileSystem types.
type volumeFS struct {
	m *ezfs.Mount
}

// AsFS adapts a mounted volume to a read-only io/fs.FS.
func AsFS(m *ezfs.Mount) fs.FS {
	return volumeFS{m: m}
}

func (v volumeFS) Open(name string) (fs.File, error) {
	ino, err := Resolve(v.m, name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if ino.IsDir() {
		return &dirFile{m: v.m, ino: ino, name: name}, nil
	}
	f, err := v.m.OpenFile(ino)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &regFile{f: f, ino: ino, name: name}, nil
}

// inodeFileInfo adapts an *ezfs.Inode to fs.FileInfo.
type inodeFileInfo struct {
	name string
	ino  *ezfs.Inode
}

func (fi inodeFileInfo) Name() string { return fi.name }
func (fi inodeFileInfo) Size() int64  { return fi.ino.Size() }

func (fi inodeFileInfo) Mode() fs.FileMode {
	perm := fs.FileMode(fi.ino.Mode() & ezfs.ModePerm)
	if fi.ino.IsDir() {
		return perm | fs.ModeDir
	}
	return perm
}

func (fi inodeFileInfo) ModTime() time.Time {
	_, mtime, _ := fi.ino.Times()
	return mtime
}

func (fi inodeFileInfo) IsDir() bool      { return fi.ino.IsDir() }
func (fi inodeFileInfo) Sys() interface{} { return fi.ino }

type regFile struct {
	f    *ezfs.File
	ino  *ezfs.Inode
	name string
}

func (r *regFile) Stat() (fs.FileInfo, error) {
	return inodeFileInfo{name: r.name, ino: r.ino}, nil
}
func (r *regFile) Read(p []byte) (int, error) { return r.f.Read(p) }
func (r *regFile) Close() error               { return r.f.Close() }

type dirFile struct {
	m    *ezfs.Mount
	ino  *ezfs.Inode
	name string
	pos  int
	done bool
}

func (d *dirFile) Stat() (fs.FileInfo, error) {
	return inodeFileInfo{name: d.name, ino: d.ino}, nil
}

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: ezfs.ErrIsDir}
}

func (d *dirFile) Close() error { return nil }

// ReadDir implements fs.ReadDirFile on top of Mount.Iterate's resumable
// cursor, translating its "." / ".." synthetic entries away (io/fs
// callers expect ReadDir to list children only).
func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.done {
		if n > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}

	var entries []fs.DirEntry
	var names []string
	count := 0
	pos, err := d.m.Iterate(d.ino, d.pos, func(e ezfs.DirEntry) bool {
		if e.Name == "." || e.Name == ".." {
			return true
		}
		if n > 0 && count >= n {
			return false
		}
		names = append(names, e.Name)
		count++
		return true
	})
	if err != nil {
		return entries, err
	}
	// Iterate holds the mount lock while calling emit, so children are
	// looked up only after it returns.
	for _, name := range names {
		childIno, lerr := d.m.Lookup(d.ino, name)
		if lerr != nil {
			continue
		}
		entries = append(entries, fs.FileInfoToDirEntry(inodeFileInfo{name: name, ino: childIno}))
	}
	d.pos = pos
	if n <= 0 || count < n {
		d.done = true
	}
	if n > 0 && count == 0 {
		return entries, io.EOF
	}
	return entries, nil
}
