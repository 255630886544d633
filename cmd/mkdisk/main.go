// Command mkdisk builds a formatted disk image on the host
// filesystem: an empty bitmap and root directory, optionally
// populated from a skeleton directory tree, grounded on mkfs/mkfs.go's
// "walk a host directory, copy each file into the target filesystem"
// shape (addfiles/copydata there), adapted from ufs.Ufs_t to
// fs.FileSystem_t.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"nachos/defs"
	"nachos/disk"
	"nachos/fs"
	"nachos/thread"
)

func main() {
	image := flag.String("image", "", "path to write the disk image to")
	sectors := flag.Int("sectors", defs.NumSectors, "number of sectors in the image")
	skel := flag.String("skel", "", "optional host directory tree to copy into the image")
	flag.Parse()

	if *image == "" {
		fmt.Fprintln(os.Stderr, "mkdisk: -image is required")
		os.Exit(1)
	}

	sched := thread.NewScheduler()
	dev := disk.NewMemDevice(*sectors, 0)
	done := make(chan struct{})
	var failed bool

	sched.Fork(func() {
		self := sched.Current()
		sd := disk.NewSynchDisk(sched, dev)
		fsys := fs.FormatDisk(self, sched, sd)

		if *skel != "" {
			if err := addSkeleton(self, fsys, *skel); err != nil {
				fmt.Fprintf(os.Stderr, "mkdisk: %v\n", err)
				failed = true
			}
		}
		fsys.Sync(self)
		close(done)
	}, 0)

	sched.Boot()
	<-done

	if failed {
		os.Exit(1)
	}
	if err := dev.Save(*image); err != nil {
		fmt.Fprintf(os.Stderr, "mkdisk: saving %s: %v\n", *image, err)
		os.Exit(1)
	}
	fmt.Printf("mkdisk: wrote %s (%d sectors)\n", *image, *sectors)
}

// addSkeleton walks skelDir on the host and replicates its directory
// structure and file contents into fsys, mirroring mkfs.go's
// addfiles/copydata pair.
func addSkeleton(self *thread.Thread_t, fsys *fs.FileSystem_t, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skelDir)
		if rel == "" {
			return nil
		}
		rel = "/" + strings.TrimPrefix(rel, string(os.PathSeparator))

		if d.IsDir() {
			if ferr := fsys.CreateDirectory(self, rel); ferr != 0 {
				return fmt.Errorf("mkdir %s: err=%d", rel, ferr)
			}
			return nil
		}
		if ferr := fsys.Create(self, rel); ferr != 0 {
			return fmt.Errorf("create %s: err=%d", rel, ferr)
		}
		return copyFileInto(self, fsys, path, rel)
	})
}

func copyFileInto(self *thread.Thread_t, fsys *fs.FileSystem_t, hostPath, imagePath string) error {
	src, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer src.Close()

	of, ferr := fsys.Open(self, imagePath)
	if ferr != 0 {
		return fmt.Errorf("open %s: err=%d", imagePath, ferr)
	}
	defer of.Close(self)

	buf := make([]byte, defs.SectorSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if werr := of.Write(self, buf[:n]); werr != 0 {
				return fmt.Errorf("write %s: err=%d", imagePath, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
