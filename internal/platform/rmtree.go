package platform

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrNotRamdisk is returned when asked to delete the contents of a
// filesystem that is not a ramfs or tmpfs instance.
var ErrNotRamdisk = errors.New("not a ramfs or tmpfs")

// RemoveTree deletes everything beneath the directory referred to by fd,
// staying on the same filesystem. It refuses to run unless that
// filesystem is a ramfs or tmpfs instance: its purpose is freeing the
// memory held by an abandoned initramfs root, and pointing it at a
// disk-backed tree would be destructive. Mount points are skipped via
// the same-device check. Deletion is best-effort; it continues past
// entries it cannot remove and reports the first failure at the end.
func RemoveTree(fd int) error {
	var sfs unix.Statfs_t
	if err := unix.Fstatfs(fd, &sfs); err != nil {
		return fmt.Errorf("statfs old root: %w", err)
	}

	if sfs.Type != unix.RAMFS_MAGIC && sfs.Type != unix.TMPFS_MAGIC {
		return fmt.Errorf("%w: filesystem magic %#x", ErrNotRamdisk, sfs.Type)
	}

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("stat old root: %w", err)
	}

	return removeTreeAt(fd, st.Dev)
}

func removeTreeAt(fd int, dev uint64) error {
	// Dup so that reading the directory stream doesn't close or consume
	// the caller's fd.
	dupFD, err := unix.Dup(fd)
	if err != nil {
		return fmt.Errorf("dup directory fd: %w", err)
	}

	dir := os.NewFile(uintptr(dupFD), "rmtree")
	names, err := dir.Readdirnames(-1)
	dir.Close()
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var firstErr error

	recordErr := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	for _, name := range names {
		var st unix.Stat_t
		if err := unix.Fstatat(
			fd, name, &st, unix.AT_SYMLINK_NOFOLLOW,
		); err != nil {
			recordErr(fmt.Errorf("stat %s: %w", name, err))
			continue
		}

		// A different device means a mount point; leave it alone.
		if st.Dev != dev {
			continue
		}

		if st.Mode&unix.S_IFMT != unix.S_IFDIR {
			if err := unix.Unlinkat(fd, name, 0); err != nil {
				recordErr(fmt.Errorf("remove %s: %w", name, err))
			}

			continue
		}

		childFD, err := unix.Openat(
			fd,
			name,
			unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC,
			0,
		)
		if err != nil {
			recordErr(fmt.Errorf("open %s: %w", name, err))
			continue
		}

		err = removeTreeAt(childFD, dev)
		unix.Close(childFD)
		if err != nil {
			recordErr(err)
		}

		if err := unix.Unlinkat(fd, name, unix.AT_REMOVEDIR); err != nil {
			recordErr(fmt.Errorf("remove directory %s: %w", name, err))
		}
	}

	return firstErr
}
