package platform

import (
	"fmt"
	"slices"

	"golang.org/x/sys/unix"
)

var validPropagationFlags = []uintptr{
	0,
	unix.MS_SHARED,
	unix.MS_PRIVATE,
	unix.MS_SLAVE,
	unix.MS_UNBINDABLE,
}

// propagationNames maps mount propagation names, as accepted on the
// command line, to their recursive mount flags.
var propagationNames = map[string]uintptr{
	"shared":  unix.MS_SHARED | unix.MS_REC,
	"private": unix.MS_PRIVATE | unix.MS_REC,
	"slave":   unix.MS_SLAVE | unix.MS_REC,
}

func mount(source, target, fstype string, flags uintptr, data string) error {
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return fmt.Errorf(
			"mount %s to %s (type=%s, flags=%#x): %w",
			source, target, fstype, flags, err,
		)
	}

	return nil
}

// MoveMount atomically moves the mount at source to target. The usual
// caller has already made source the working directory and moves "." onto
// "/" as part of a root switch.
func MoveMount(source, target string) error {
	return mount(source, target, "", unix.MS_MOVE, "")
}

// UnmountDetach lazily unmounts the mount at the given target with
// MNT_DETACH, disconnecting it from the tree immediately and cleaning up
// once it is no longer busy.
func UnmountDetach(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("detach mount %s: %w", target, err)
	}

	return nil
}

// SetPropagation sets the propagation type for the mount at the given target.
// Valid values for flag are MS_SHARED, MS_PRIVATE, MS_SLAVE, MS_UNBINDABLE and
// only one flag may be provided. The MS_REC modifier can be OR'd with any
// propagation type to make it recursive.
func SetPropagation(target string, flag uintptr) error {
	if !validatePropagationFlag(flag) {
		return fmt.Errorf("invalid propagation flag: 0x%x", flag)
	}

	return mount("", target, "", flag, "")
}

// PropagationFlag resolves a propagation name from the command line to
// its recursive mount flag. The name "unchanged" maps to zero, meaning
// leave propagation alone.
func PropagationFlag(name string) (uintptr, error) {
	if name == "" || name == "unchanged" {
		return 0, nil
	}

	flag, ok := propagationNames[name]
	if !ok {
		return 0, fmt.Errorf(
			"unsupported propagation mode %q (want shared, private, slave or unchanged)",
			name,
		)
	}

	return flag, nil
}

func validatePropagationFlag(flag uintptr) bool {
	baseFlag := flag &^ unix.MS_REC

	return slices.Contains(validPropagationFlags, baseFlag)
}
