// Command mkezfs formats a new EZFS volume image and optionally
// populates it with a fixed demonstration fixture or the contents of a
// host directory.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ezfs-project/ezfs"
	"github.com/ezfs-project/ezfs/backend/file"
	"github.com/ezfs-project/ezfs/ezfsutil"
)

func main() {
	var (
		from    = flag.String("from", "", "host directory to import into the new volume")
		fixture = flag.Bool("fixture", false, "populate the volume with the built-in demonstration fixture")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <image-path>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	imagePath := flag.Arg(0)

	log := logrus.NewEntry(logrus.StandardLogger())

	if err := run(imagePath, *from, *fixture, log); err != nil {
		log.WithError(err).Error("mkezfs: failed")
		os.Exit(1)
	}
}

func run(imagePath, from string, fixture bool, log *logrus.Entry) error {
	storage, err := file.CreateFromPath(imagePath, ezfs.VolumeSize)
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}

	volUUID, err := ezfs.Format(storage)
	if err != nil {
		_ = storage.Close()
		return fmt.Errorf("format: %w", err)
	}
	log.WithField("uuid", volUUID.String()).Info("mkezfs: formatted new volume")

	m, err := ezfs.Mount(storage, ezfs.WithLogger(log))
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}
	defer m.Unmount()

	if fixture {
		if err := populateFixture(m); err != nil {
			return fmt.Errorf("populate fixture: %w", err)
		}
		log.Info("mkezfs: wrote demonstration fixture")
	}

	if from != "" {
		if err := ezfsutil.Import(os.DirFS(from), m); err != nil {
			return fmt.Errorf("import %s: %w", from, err)
		}
		log.WithField("source", from).Info("mkezfs: imported host directory")
	}

	return nil
}

// populateFixture recreates the original format_disk_as_ezfs.c demo
// layout: hello.txt and subdir under root, with names.txt, big_img.jpeg,
// and big_txt.txt nested inside subdir (format_disk_as_ezfs.c writes
// those three dentries into subdir's directory block, not root's). This
// reproduces the "Initial image" compatibility contract from spec.md
// §6: 6 inodes and 14 data blocks allocated (root, hello.txt, subdir,
// names.txt, 8 blocks for big_img.jpeg, 2 blocks for big_txt.txt).
//
// The original big_img.jpeg/big_txt.txt fixture assets aren't part of
// this repo, so their content here is deterministic filler sized to
// occupy the same block counts (8 and 2) as the original fixture.
func populateFixture(m *ezfs.Mount) error {
	root := m.Root()

	hello, err := m.Create(root, "hello.txt", 0o644, 0, 0)
	if err != nil {
		return err
	}
	if err := writeAll(m, hello, "Hello world!\n"); err != nil {
		return err
	}

	subdir, err := m.Mkdir(root, "subdir", 0o755, 0, 0)
	if err != nil {
		return err
	}

	names, err := m.Create(subdir, "names.txt", 0o644, 0, 0)
	if err != nil {
		return err
	}
	if err := writeAll(m, names, "Jiawei; Monirul; Faiza\n"); err != nil {
		return err
	}

	bigImg, err := m.Create(subdir, "big_img.jpeg", 0o644, 0, 0)
	if err != nil {
		return err
	}
	if err := writeAll(m, bigImg, placeholderContent(8)); err != nil {
		return err
	}

	bigTxt, err := m.Create(subdir, "big_txt.txt", 0o644, 0, 0)
	if err != nil {
		return err
	}
	return writeAll(m, bigTxt, placeholderContent(2))
}

// placeholderContent returns deterministic filler that spans exactly
// numBlocks blocks of the extent allocator (short of a whole number of
// blocks by one byte, so the extent sizing path is exercised the same
// way a real trailing partial block would be).
func placeholderContent(numBlocks int) string {
	size := numBlocks*ezfs.BlockSize - 1
	const pattern = "0123456789abcdef"
	var b strings.Builder
	b.Grow(size)
	for b.Len() < size {
		remaining := size - b.Len()
		if remaining < len(pattern) {
			b.WriteString(pattern[:remaining])
			break
		}
		b.WriteString(pattern)
	}
	return b.String()
}

func writeAll(m *ezfs.Mount, ino *ezfs.Inode, content string) error {
	f, err := m.OpenFile(ino)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(content))
	return err
}
