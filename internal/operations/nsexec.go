package operations

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/nixpig/nsutil/internal/launcher"
	"github.com/nixpig/nsutil/internal/namespace"
	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// envMountNS and envUserNS hand namespace files to the pre-main re-exec
// hook, which joins them before the Go runtime spins up its threads.
// The kernel refuses setns for mount and user namespaces from a
// multithreaded process, so those two kinds cannot be joined any later.
const (
	envMountNS = "gons_mnt"
	envUserNS  = "gons_user"
)

// StageNamespace is a namespace file descriptor inherited across the
// re-exec for the second stage to join.
type StageNamespace struct {
	Kind specs.LinuxNamespaceType
	FD   int
}

// ExecStageOpts holds the options for the ExecStage operation.
type ExecStageOpts struct {
	// Namespaces are joined first, in canonical order. Mount and user
	// namespaces never appear here; those are joined pre-main.
	Namespaces []StageNamespace
	// Propagation names the mount propagation to apply to /.
	Propagation string
	// MountProc is the mountpoint for a fresh procfs, empty for none.
	MountProc string
	// Root and RootFD select the directory to chroot into. RootFD wins
	// and -1 means unset, since 0 is a valid descriptor.
	Root   string
	RootFD int
	// Wd and WdFD select the working directory, same convention.
	Wd   string
	WdFD int
	// UID and GID of -1 keep the current credentials.
	UID int
	GID int

	KeepCaps    bool
	NoNewPrivs  bool
	CleanEnv    bool
	KeepEnv     []string
	BoundingSet []string

	// Fork runs the payload as a child and reports its exit code
	// instead of replacing the process image.
	Fork bool

	Argv []string
}

// ExecStage finishes an invocation after the first stage has settled
// what only it could: it joins inherited namespace descriptors, adjusts
// mount propagation, mounts a fresh procfs, moves into the requested
// root and working directory, and launches the payload. It returns only
// on failure or, in fork mode, with the payload's exit code.
func ExecStage(opts *ExecStageOpts) (int, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// The pre-main hook has joined whatever the trigger variables
	// named. Drop the variables and re-arm close-on-exec on the
	// descriptors they pointed at, so the payload inherits neither.
	for _, key := range []string{envMountNS, envUserNS} {
		if rest, ok := strings.CutPrefix(
			os.Getenv(key), "/proc/self/fd/",
		); ok {
			if fd, err := strconv.Atoi(rest); err == nil {
				unix.CloseOnExec(fd)
			}
		}

		os.Unsetenv(key)
	}

	if err := joinStageNamespaces(opts.Namespaces); err != nil {
		return 0, err
	}

	if opts.Propagation != "" {
		flag, err := platform.PropagationFlag(opts.Propagation)
		if err != nil {
			return 0, err
		}

		if flag != 0 {
			if err := platform.SetPropagation("/", flag); err != nil {
				return 0, err
			}
		}
	}

	if err := enterStageRoot(opts); err != nil {
		return 0, err
	}

	if opts.MountProc != "" {
		if err := platform.MountProc(opts.MountProc); err != nil {
			return 0, err
		}
	}

	if opts.WdFD >= 0 {
		if err := unix.Fchdir(opts.WdFD); err != nil {
			return 0, fmt.Errorf("enter working directory: %w", err)
		}

		_ = unix.Close(opts.WdFD)
	}

	spec := launcher.NewProcessSpec(opts.Argv)
	spec.UID = opts.UID
	spec.GID = opts.GID
	spec.KeepCaps = opts.KeepCaps
	spec.NoNewPrivs = opts.NoNewPrivs
	spec.BoundingSet = opts.BoundingSet

	if opts.WdFD < 0 {
		spec.Dir = opts.Wd
	}

	if opts.CleanEnv {
		spec.Env = launcher.BuildEnv(os.Environ(), true, opts.KeepEnv)
	}

	if opts.Fork {
		code, err := launcher.Fork(spec)
		if err != nil {
			return 0, launchFailure(err)
		}

		return code, nil
	}

	if err := launcher.Replace(spec); err != nil {
		return 0, launchFailure(err)
	}

	panic("unreachable")
}

// joinStageNamespaces applies inherited namespace descriptors in
// canonical order and closes them. Each descriptor was opened and
// type-checked by the first stage, before any namespace changed.
func joinStageNamespaces(nss []StageNamespace) error {
	for _, kind := range namespace.ApplyOrder() {
		for _, ns := range nss {
			if ns.Kind != kind {
				continue
			}

			if err := platform.SetNS(uintptr(ns.FD), ns.Kind); err != nil {
				return err
			}

			_ = unix.Close(ns.FD)
		}
	}

	return nil
}

// enterStageRoot chroots into the requested root. The descriptor
// variant serves nsenter, where the root was opened before any
// namespace changed because the path may not resolve afterwards; the
// path variant serves unshare, where the path is still meaningful.
func enterStageRoot(opts *ExecStageOpts) error {
	switch {
	case opts.RootFD >= 0:
		if err := unix.Fchdir(opts.RootFD); err != nil {
			return fmt.Errorf("enter root directory: %w", err)
		}

		if err := platform.Chroot("."); err != nil {
			return err
		}

		_ = unix.Close(opts.RootFD)
	case opts.Root != "":
		if err := platform.Chroot(opts.Root); err != nil {
			return err
		}

		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("enter root directory: %w", err)
		}
	}

	return nil
}

// stageArgs serializes stage options into the argument vector of the
// internal nsexec command.
func stageArgs(opts *ExecStageOpts) []string {
	args := []string{"nsexec"}

	for _, ns := range opts.Namespaces {
		args = append(args, "--ns-fd", fmt.Sprintf(
			"%s=%d", platform.NamespaceNames[ns.Kind], ns.FD,
		))
	}

	if opts.Propagation != "" {
		args = append(args, "--propagation", opts.Propagation)
	}

	if opts.MountProc != "" {
		args = append(args, "--mount-proc", opts.MountProc)
	}

	if opts.Root != "" {
		args = append(args, "--root", opts.Root)
	}

	if opts.RootFD >= 0 {
		args = append(args, "--root-fd", strconv.Itoa(opts.RootFD))
	}

	if opts.Wd != "" {
		args = append(args, "--wd", opts.Wd)
	}

	if opts.WdFD >= 0 {
		args = append(args, "--wd-fd", strconv.Itoa(opts.WdFD))
	}

	if opts.UID >= 0 {
		args = append(args, "--uid", strconv.Itoa(opts.UID))
	}

	if opts.GID >= 0 {
		args = append(args, "--gid", strconv.Itoa(opts.GID))
	}

	if opts.KeepCaps {
		args = append(args, "--keep-caps")
	}

	if opts.NoNewPrivs {
		args = append(args, "--no-new-privs")
	}

	if opts.CleanEnv {
		args = append(args, "--clean-env")
	}

	for _, name := range opts.KeepEnv {
		args = append(args, "--keep-env", name)
	}

	for _, c := range opts.BoundingSet {
		args = append(args, "--bounding-set", c)
	}

	if opts.Fork {
		args = append(args, "--fork")
	}

	args = append(args, "--")

	return append(args, opts.Argv...)
}
