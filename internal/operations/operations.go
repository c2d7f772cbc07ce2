// Package operations implements the tool-level workflows behind the
// CLI front-ends. Each operation validates its options, builds the
// mount table / namespace / transition pipeline, fails fast before any
// mutation, and finally hands control to the launcher.
package operations

import (
	"os"
	"path/filepath"

	"github.com/nixpig/nsutil/internal/launcher"
	"github.com/nixpig/nsutil/internal/mounttable"
)

// ExitCodeError carries a specific process exit code through the CLI
// layer for failures where the shell convention demands more than a
// plain 1, such as 127 for a missing payload binary.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	return e.Err.Error()
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

// reexecFailure marks errors starting the internal re-exec stage. 125
// distinguishes tool-internal failures from payload failures.
func reexecFailure(err error) error {
	return &ExitCodeError{Code: 125, Err: err}
}

// launchFailure maps payload start errors to 126/127.
func launchFailure(err error) error {
	return &ExitCodeError{Code: launcher.ExecFailureCode(err), Err: err}
}

// shellArgv is the payload for tools invoked without a command: the
// caller's shell, falling back to /bin/sh.
func shellArgv() []string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return []string{shell}
	}

	return []string{"/bin/sh"}
}

// resolvePath canonicalizes a user-supplied path for mount table
// queries. A path that does not resolve falls back to its cleaned
// absolute form so that validation can name the precise precondition
// instead of a bare symlink resolution error.
func resolvePath(path string) string {
	if resolved, err := mounttable.Canonical(path); err == nil {
		return resolved
	}

	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return filepath.Clean(path)
}
