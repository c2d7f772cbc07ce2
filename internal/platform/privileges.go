package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetNoNewPrivs sets the PR_SET_NO_NEW_PRIVS flag for the current
// process, preventing it and its descendants from gaining new
// privileges through setuid or file-capability execs.
func SetNoNewPrivs() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privileges flag: %w", err)
	}

	return nil
}

// SetKeepCaps sets the state of the 'keep capabilities' flag using
// PR_SET_KEEPCAPS. 0 = clear flag, 1 = set flag.
func SetKeepCaps(state uintptr) error {
	if err := unix.Prctl(unix.PR_SET_KEEPCAPS, state, 0, 0, 0); err != nil {
		return fmt.Errorf("set keep capabilities flag: %w", err)
	}

	return nil
}
