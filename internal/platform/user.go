package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetUser switches the current process to the given user and group IDs.
// Supplementary groups are dropped first so that the target process does
// not inherit them, then the GID is set while we still have the
// privilege to do so, and the UID last.
func SetUser(uid, gid int) error {
	if err := unix.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("set supplementary groups: %w", err)
	}

	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("set GID: %w", err)
	}

	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("set UID: %w", err)
	}

	return nil
}
