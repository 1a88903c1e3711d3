package ezfsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/ezfs-project/ezfs"
)

// excludedNames are skipped during Import, matching the teacher pack's
// sync package filtering out host bookkeeping files that have no
// business on a target volume.
var excludedNames = map[string]bool{
	"lost+found":                true,
	".DS_Store":                 true,
	"System Volume Information": true,
}

// Import copies every regular file and directory in src into dst,
// rooted at dst's root directory. Symlinks are skipped: EZFS has no
// symlink inode type (spec.md Non-goals).
func Import(src fs.FS, dst *ezfs.Mount) error {
	return importDir(src, dst, ".", dst.Root())
}

func importDir(src fs.FS, dst *ezfs.Mount, dir string, dstDir *ezfs.Inode) error {
	entries, err := fs.ReadDir(src, dir)
	if err != nil {
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if excludedNames[name] {
			continue
		}

		p := name
		if dir != "." {
			p = path.Join(dir, name)
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if entry.IsDir() {
			childIno, err := dst.Mkdir(dstDir, name, 0o755, 0, 0)
			if err != nil {
				return fmt.Errorf("create dir %s: %w", p, err)
			}
			if err := importDir(src, dst, p, childIno); err != nil {
				return fmt.Errorf("copy dir %s: %w", p, err)
			}
			continue
		}

		if !info.Mode().IsRegular() {
			continue
		}

		if err := importFile(src, dst, dstDir, name, p); err != nil {
			return fmt.Errorf("copy file %s: %w", p, err)
		}
	}

	return nil
}

func importFile(src fs.FS, dst *ezfs.Mount, dstDir *ezfs.Inode, name, p string) error {
	in, err := src.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	childIno, err := dst.Create(dstDir, name, 0o644, 0, 0)
	if err != nil {
		return err
	}
	out, err := dst.OpenFile(childIno)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			written := 0
			for written < n {
				w, werr := out.Write(buf[written:n])
				if werr != nil {
					return werr
				}
				if w == 0 {
					return io.ErrShortWrite
				}
				written += w
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return nil
}
