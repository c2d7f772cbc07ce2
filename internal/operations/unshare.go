package operations

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"syscall"

	"github.com/nixpig/nsutil/internal/launcher"
	"github.com/nixpig/nsutil/internal/namespace"
	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// UnshareOpts holds the options for the Unshare operation.
type UnshareOpts struct {
	// Namespaces are the kinds to create fresh.
	Namespaces []specs.LinuxNamespaceType
	// Fork runs the payload as a child process instead of replacing
	// the current image. Mount, user and pid namespaces force this:
	// the kernel only grants those unshares to a single-threaded
	// process, so they have to ride the clone of a fresh child.
	Fork bool
	// KillChild is delivered to the payload when this process dies.
	// Non-zero implies Fork.
	KillChild unix.Signal
	// MountProc mounts a fresh procfs at the given path. Implies a
	// mount namespace.
	MountProc string
	// MapUser and MapGroup map the current credentials to the given
	// IDs inside a new user namespace; -1 leaves the mapping unset.
	// Either implies a user namespace.
	MapUser  int
	MapGroup int
	// Propagation names the mount propagation to apply inside the new
	// mount namespace.
	Propagation string
	// Root is a directory to chroot into before running the payload.
	Root string
	// Wd is the payload working directory.
	Wd string
	// TimeOffsets are clock offsets for a new time namespace. Offsets
	// only ever apply to children of the unsharing process, so they
	// imply Fork.
	TimeOffsets map[string]specs.LinuxTimeOffset

	KeepCaps    bool
	NoNewPrivs  bool
	CleanEnv    bool
	KeepEnv     []string
	BoundingSet []string

	Argv []string
}

// Unshare creates the requested namespaces and runs the payload inside
// them. Kinds the kernel grants a multithreaded process are unshared in
// place and the payload replaces the current image; anything else is
// applied as clone flags on a re-exec of this binary, which finishes
// the setup and reports the payload's exit code back here.
func Unshare(opts *UnshareOpts) (int, error) {
	spec := namespace.NewSpec()

	for _, kind := range opts.Namespaces {
		if err := spec.Unshare(kind); err != nil {
			return 0, err
		}
	}

	if opts.MountProc != "" && !spec.Has(specs.MountNamespace) {
		if err := spec.Unshare(specs.MountNamespace); err != nil {
			return 0, err
		}
	}

	if (opts.MapUser >= 0 || opts.MapGroup >= 0) &&
		!spec.Has(specs.UserNamespace) {
		if err := spec.Unshare(specs.UserNamespace); err != nil {
			return 0, err
		}
	}

	if len(opts.TimeOffsets) > 0 && !spec.Has(specs.TimeNamespace) {
		return 0, errors.New("time offsets require a time namespace")
	}

	if opts.Propagation != "" {
		if !spec.Has(specs.MountNamespace) {
			return 0, errors.New(
				"mount propagation requires a mount namespace",
			)
		}

		if _, err := platform.PropagationFlag(opts.Propagation); err != nil {
			return 0, err
		}
	}

	argv := opts.Argv
	if len(argv) == 0 {
		argv = shellArgv()
	}

	stage := &ExecStageOpts{
		Propagation: opts.Propagation,
		MountProc:   opts.MountProc,
		Root:        opts.Root,
		RootFD:      -1,
		Wd:          opts.Wd,
		WdFD:        -1,
		UID:         -1,
		GID:         -1,
		KeepCaps:    opts.KeepCaps,
		NoNewPrivs:  opts.NoNewPrivs,
		CleanEnv:    opts.CleanEnv,
		KeepEnv:     opts.KeepEnv,
		BoundingSet: opts.BoundingSet,
		Argv:        argv,
	}

	needsClone := opts.Fork ||
		opts.KillChild != 0 ||
		len(opts.TimeOffsets) > 0 ||
		spec.Has(specs.UserNamespace) ||
		spec.Has(specs.MountNamespace) ||
		spec.Has(specs.PIDNamespace)

	slog.Debug(
		"unsharing namespaces",
		"kinds", spec.Kinds(),
		"clone", needsClone,
	)

	if needsClone {
		return unshareClone(opts, spec, stage)
	}

	runtime.LockOSThread()

	runner := namespace.NewFDRunner()
	defer runner.Close()

	if err := namespace.Execute(spec.Plan(), runner); err != nil {
		return 0, err
	}

	return ExecStage(stage)
}

// unshareClone re-execs this binary as a child carrying the namespace
// clone flags and waits for it. A time namespace cannot be requested
// through clone; it is unshared here first, offsets written while the
// namespace is still empty, and the child picks it up by inheritance.
func unshareClone(
	opts *UnshareOpts,
	spec *namespace.Spec,
	stage *ExecStageOpts,
) (int, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if spec.Has(specs.TimeNamespace) {
		if err := platform.Unshare(unix.CLONE_NEWTIME); err != nil {
			return 0, err
		}

		if len(opts.TimeOffsets) > 0 {
			if err := platform.SetTimeOffsets(opts.TimeOffsets); err != nil {
				return 0, err
			}
		}
	}

	var flags uintptr

	for _, kind := range spec.Kinds() {
		if kind == specs.TimeNamespace {
			continue
		}

		flags |= platform.NamespaceFlags[kind]
	}

	attr := &syscall.ProcAttr{
		Env: os.Environ(),
		Files: []uintptr{
			os.Stdin.Fd(),
			os.Stdout.Fd(),
			os.Stderr.Fd(),
		},
		Sys: &syscall.SysProcAttr{
			Cloneflags: flags,
		},
	}

	if opts.KillChild != 0 {
		attr.Sys.Pdeathsig = opts.KillChild
	}

	if spec.Has(specs.UserNamespace) {
		uidMaps, gidMaps := platform.BuildIDMappings(
			opts.MapUser, opts.MapGroup,
		)

		if opts.MapUser >= 0 {
			attr.Sys.UidMappings = uidMaps
		}

		if opts.MapGroup >= 0 {
			attr.Sys.GidMappings = gidMaps
			attr.Sys.GidMappingsEnableSetgroups = false
		}
	}

	pid, err := syscall.ForkExec("/proc/self/exe", stageArgs(stage), attr)
	if err != nil {
		return 0, reexecFailure(fmt.Errorf("fork namespace stage: %w", err))
	}

	code, err := launcher.WaitExit(pid)
	if err != nil {
		return 0, err
	}

	return code, nil
}
