package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nixpig/nsutil/internal/cli"
	"github.com/nixpig/nsutil/internal/operations"
	"github.com/thediveo/gons"
)

// tools are the front-end names this binary answers to when invoked
// through a symlink, busybox style. nsexec is the internal second
// stage, reached through the re-exec argv rather than a symlink.
var tools = map[string]bool{
	"pivot_root":  true,
	"switch_root": true,
	"unshare":     true,
	"nsenter":     true,
	"nsexec":      true,
	"mountpoint":  true,
	"findmnt":     true,
}

func main() {
	// The pre-main hook has already run; a failed namespace join must
	// not fall through into the second stage.
	if err := gons.Status(); err != nil {
		os.Stderr.Write(
			fmt.Appendf(nil, "failed to join namespaces: %s\n", err),
		)
		os.Exit(125)
	}

	root := cli.RootCmd()

	if name := filepath.Base(os.Args[0]); tools[name] {
		root.SetArgs(append([]string{name}, os.Args[1:]...))
	}

	if err := root.Execute(); err != nil {
		var exitErr *operations.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}

		os.Exit(1)
	}
}
