package validation

import (
	"errors"
	"fmt"
	"path/filepath"
)

// TargetPID validates a PID given on the command line to name another
// process. Whether the process actually exists surfaces later, when its
// namespace files are opened.
func TargetPID(pid int) error {
	if pid <= 0 {
		return errors.New("target PID must be a positive integer")
	}

	return nil
}

// OwnerID validates a uid or gid supplied on the command line.
func OwnerID(what string, id int) error {
	if id < 0 {
		return fmt.Errorf("%s must not be negative", what)
	}

	return nil
}

// AbsolutePath validates that a user-supplied path is absolute, for
// arguments that are resolved inside another root where a relative path
// would silently mean something else.
func AbsolutePath(what, path string) error {
	if path == "" {
		return fmt.Errorf("%s must not be empty", what)
	}

	if !filepath.IsAbs(path) {
		return fmt.Errorf("%s must be an absolute path", what)
	}

	return nil
}
