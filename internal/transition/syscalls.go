package transition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nixpig/nsutil/internal/platform"
	"golang.org/x/sys/unix"
)

// Syscalls is the kernel boundary of a root transition. Validation uses
// only the read-side methods; every other method mutates process or
// mount state. Tests substitute a fake to drive the state machine
// without touching the host.
type Syscalls interface {
	// Read side.
	DirExists(path string) (bool, error)
	HasSysAdmin() (bool, error)

	// Mutation side.
	Open(path string) (int, error)
	Close(fd int) error
	Chdir(dir string) error
	Fchdir(fd int) error
	PivotRoot(newRoot string, putOld string) error
	MoveMount(source string, target string) error
	Chroot(dir string) error
	UnmountDetach(target string) error
	Remove(path string) error
	RemoveTree(fd int) error
}

type hostSyscalls struct{}

// Host returns the Syscalls implementation backed by the running
// kernel.
func Host() Syscalls {
	return hostSyscalls{}
}

func (hostSyscalls) DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat %s: %w", path, err)
	}

	return info.IsDir(), nil
}

func (hostSyscalls) HasSysAdmin() (bool, error) {
	return platform.HasSysAdmin()
}

func (hostSyscalls) Open(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", path, err)
	}

	return fd, nil
}

func (hostSyscalls) Close(fd int) error {
	return unix.Close(fd)
}

func (hostSyscalls) Chdir(dir string) error {
	if err := unix.Chdir(dir); err != nil {
		return fmt.Errorf("chdir %s: %w", dir, err)
	}

	return nil
}

func (hostSyscalls) Fchdir(fd int) error {
	if err := unix.Fchdir(fd); err != nil {
		return fmt.Errorf("fchdir: %w", err)
	}

	return nil
}

func (hostSyscalls) PivotRoot(newRoot, putOld string) error {
	return platform.PivotRoot(newRoot, putOld)
}

func (hostSyscalls) MoveMount(source, target string) error {
	return platform.MoveMount(source, target)
}

func (hostSyscalls) Chroot(dir string) error {
	return platform.Chroot(dir)
}

func (hostSyscalls) UnmountDetach(target string) error {
	return platform.UnmountDetach(target)
}

func (hostSyscalls) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}

	return nil
}

func (hostSyscalls) RemoveTree(fd int) error {
	return platform.RemoveTree(fd)
}
