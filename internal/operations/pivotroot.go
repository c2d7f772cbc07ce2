package operations

import (
	"fmt"
	"log/slog"

	"github.com/nixpig/nsutil/internal/mounttable"
	"github.com/nixpig/nsutil/internal/transition"
)

// PivotRootOpts holds the options for the PivotRoot operation.
type PivotRootOpts struct {
	// NewRoot is the mount point that becomes the new root filesystem.
	NewRoot string
	// PutOld is the directory under NewRoot that receives the old root.
	PutOld string
}

// PivotRoot moves the root filesystem of the current mount namespace to
// PutOld and makes NewRoot the new root. The old root stays mounted;
// detaching it is left to the caller, as a pivoted system usually still
// needs things from it.
func PivotRoot(opts *PivotRootOpts) error {
	table, err := mounttable.Self()
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	t := transition.New(transition.Config{
		Mode:    transition.ModePivot,
		NewRoot: resolvePath(opts.NewRoot),
		PutOld:  resolvePath(opts.PutOld),
		OldRoot: transition.KeepOldRoot,
	})

	if err := t.Validate(table); err != nil {
		return err
	}

	slog.Debug(
		"pivoting root",
		"newroot", opts.NewRoot,
		"putold", opts.PutOld,
	)

	return t.Execute()
}
