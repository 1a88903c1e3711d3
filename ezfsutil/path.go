// Package ezfsutil adapts a mounted ezfs.Mount to standard Go
// interfaces (io/fs.FS) and provides bulk import from an external
// filesystem tree, the way the teacher pack's converter and sync
// packages adapt disk-backed filesystems for generic consumption.
package ezfsutil

import (
	"path"
	"strings"

	"github.com/ezfs-project/ezfs"
)

// Resolve walks a slash-separated path, relative to the volume root, to
// its inode. "." and "" both resolve to the root.
func Resolve(m *ezfs.Mount, name string) (*ezfs.Inode, error) {
	dir := m.Root()
	clean := strings.Trim(path.Clean("/"+name), "/")
	if clean == "" || clean == "." {
		return dir, nil
	}
	for _, part := range strings.Split(clean, "/") {
		ino, err := m.Lookup(dir, part)
		if err != nil {
			return nil, err
		}
		dir = ino
	}
	return dir, nil
}

// ResolveParent walks to the directory containing name and returns it
// along with name's final path component.
func ResolveParent(m *ezfs.Mount, name string) (*ezfs.Inode, string, error) {
	clean := strings.Trim(path.Clean("/"+name), "/")
	dirPart, base := path.Split(clean)
	dir, err := Resolve(m, dirPart)
	if err != nil {
		return nil, "", err
	}
	return dir, base, nil
}
