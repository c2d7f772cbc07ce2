package platform

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MountProc mounts a fresh procfs instance at target, creating the
// directory if needed. A fresh instance is needed after a pid namespace
// unshare so that tools reading /proc see the new namespace's
// processes.
func MountProc(target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create proc dir: %w", err)
	}

	return mount(
		"proc",
		target,
		"proc",
		unix.MS_NOSUID|unix.MS_NOEXEC|unix.MS_NODEV,
		"",
	)
}
