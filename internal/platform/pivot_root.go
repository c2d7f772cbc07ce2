package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PivotRoot makes newRoot the root filesystem of the calling process'
// mount namespace and moves the old root underneath putOld. Both must be
// mount points, putOld must be at or underneath newRoot, and neither may
// have shared propagation.
func PivotRoot(newRoot, putOld string) error {
	if err := unix.PivotRoot(newRoot, putOld); err != nil {
		return fmt.Errorf("pivot_root %s %s: %w", newRoot, putOld, err)
	}

	return nil
}

// Chroot changes the root directory of the calling process to dir. Used
// to finalise a root move, where the moved mount is made the process'
// root without a pivot.
func Chroot(dir string) error {
	if err := unix.Chroot(dir); err != nil {
		return fmt.Errorf("chroot to %s: %w", dir, err)
	}

	return nil
}
