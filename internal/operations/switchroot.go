package operations

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nixpig/nsutil/internal/launcher"
	"github.com/nixpig/nsutil/internal/mounttable"
	"github.com/nixpig/nsutil/internal/transition"
	"github.com/nixpig/nsutil/internal/validation"
)

// SwitchRootOpts holds the options for the SwitchRoot operation.
type SwitchRootOpts struct {
	// NewRoot is the mounted filesystem that becomes the new root.
	NewRoot string
	// Init is the program to hand control to, as a path inside NewRoot.
	Init string
	// InitArgs are passed to Init verbatim.
	InitArgs []string
	// NoUnmount keeps the old root contents instead of deleting them.
	NoUnmount bool
}

// SwitchRoot moves the NewRoot mount over /, chroots into it, removes
// the contents of the old ram-backed root and runs Init. It blocks
// until Init terminates and returns its mapped exit code, so on the
// success path control never comes back before Init itself is done.
func SwitchRoot(opts *SwitchRootOpts) (int, error) {
	if err := validation.AbsolutePath("init", opts.Init); err != nil {
		return 0, err
	}

	newRoot := resolvePath(opts.NewRoot)

	if _, err := os.Stat(filepath.Join(newRoot, opts.Init)); err != nil {
		return 0, fmt.Errorf("locate init under new root: %w", err)
	}

	// Real init handoff happens as PID 1 out of an initramfs. Anything
	// else is almost certainly a mistake, but not one worth refusing.
	if os.Getpid() != 1 {
		slog.Warn("not running as PID 1", "pid", os.Getpid())
	}

	table, err := mounttable.Self()
	if err != nil {
		return 0, fmt.Errorf("read mount table: %w", err)
	}

	policy := transition.RemoveOldRoot
	if opts.NoUnmount {
		policy = transition.KeepOldRoot
	}

	t := transition.New(transition.Config{
		Mode:    transition.ModeSwitch,
		NewRoot: newRoot,
		OldRoot: policy,
	})

	if err := t.Validate(table); err != nil {
		return 0, err
	}

	slog.Debug(
		"switching root",
		"newroot", opts.NewRoot,
		"init", opts.Init,
	)

	if err := t.Execute(); err != nil {
		var partial *transition.PartialError
		if !errors.As(err, &partial) || !partial.Committed {
			return 0, err
		}

		// The root swap held, so losing the old root cleanup must not
		// stop the boot.
		slog.Warn("old root cleanup failed", "cause", partial.Cause)
	}

	spec := launcher.NewProcessSpec(
		append([]string{opts.Init}, opts.InitArgs...),
	)

	code, err := launcher.Fork(spec)
	if err != nil {
		return 0, launchFailure(err)
	}

	return code, nil
}
