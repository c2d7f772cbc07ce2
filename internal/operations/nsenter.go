package operations

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/nixpig/nsutil/internal/namespace"
	"github.com/nixpig/nsutil/internal/platform"
	"github.com/nixpig/nsutil/internal/validation"
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// NsenterOpts holds the options for the Nsenter operation.
type NsenterOpts struct {
	// TargetPID locates namespace files for kinds without an explicit
	// path. Zero means no target process.
	TargetPID int
	// Namespaces maps each kind to enter to its namespace file. An
	// empty path derives the file from TargetPID.
	Namespaces map[specs.LinuxNamespaceType]string
	// All enters every namespace of the target, skipping kinds the
	// kernel does not have and a user namespace the caller is already
	// in.
	All bool
	// Root is a directory to chroot into, resolved before any
	// namespace changes.
	Root string
	// Wd is the payload working directory, resolved the same way.
	Wd string
	// UID and GID of -1 keep the current credentials, except that
	// entering a user namespace resets unset ones to 0 unless
	// PreserveCredentials is set.
	UID                 int
	GID                 int
	PreserveCredentials bool
	// NoFork suppresses the fork that normally follows entering a pid
	// namespace.
	NoFork bool

	KeepCaps    bool
	NoNewPrivs  bool
	CleanEnv    bool
	KeepEnv     []string
	BoundingSet []string

	Argv []string
}

// Nsenter runs the payload inside the namespaces of a target process.
// Kinds the kernel lets a multithreaded process join are entered in
// place; a mount or user namespace forces a re-exec of this binary, as
// those joins only succeed before the Go runtime starts its threads.
// Entering a pid namespace only affects children, so the payload is
// forked in that case unless NoFork is set.
func Nsenter(opts *NsenterOpts) (int, error) {
	if opts.TargetPID != 0 {
		if err := validation.TargetPID(opts.TargetPID); err != nil {
			return 0, err
		}
	}

	spec := namespace.NewSpec()

	for kind, path := range opts.Namespaces {
		if err := spec.Enter(kind, path, opts.TargetPID); err != nil {
			return 0, err
		}
	}

	if opts.All {
		if opts.TargetPID <= 0 {
			return 0, errors.New(
				"entering all namespaces requires a target PID",
			)
		}

		if err := expandAll(spec, opts.TargetPID); err != nil {
			return 0, err
		}
	}

	if spec.Empty() && opts.Root == "" && opts.Wd == "" {
		return 0, errors.New("no namespaces requested")
	}

	uid, gid := opts.UID, opts.GID

	if spec.Has(specs.UserNamespace) && !opts.PreserveCredentials {
		if uid < 0 {
			uid = 0
		}

		if gid < 0 {
			gid = 0
		}
	}

	argv := opts.Argv
	if len(argv) == 0 {
		argv = shellArgv()
	}

	stage := &ExecStageOpts{
		Root:        opts.Root,
		RootFD:      -1,
		Wd:          opts.Wd,
		WdFD:        -1,
		UID:         uid,
		GID:         gid,
		KeepCaps:    opts.KeepCaps,
		NoNewPrivs:  opts.NoNewPrivs,
		CleanEnv:    opts.CleanEnv,
		KeepEnv:     opts.KeepEnv,
		BoundingSet: opts.BoundingSet,
		Fork:        spec.Has(specs.PIDNamespace) && !opts.NoFork,
		Argv:        argv,
	}

	slog.Debug(
		"entering namespaces",
		"kinds", spec.Kinds(),
		"target", opts.TargetPID,
	)

	if spec.Has(specs.UserNamespace) || spec.Has(specs.MountNamespace) {
		return 0, nsenterReexec(spec, stage)
	}

	runtime.LockOSThread()

	runner := namespace.NewFDRunner()
	defer runner.Close()

	if err := namespace.Execute(spec.Plan(), runner); err != nil {
		return 0, err
	}

	return ExecStage(stage)
}

// expandAll adds an entry request for every namespace the target has
// and the spec does not. Kinds the kernel was built without are
// skipped, as is a user namespace the caller is already a member of,
// which the kernel would refuse to re-enter.
func expandAll(spec *namespace.Spec, pid int) error {
	for _, kind := range namespace.ApplyOrder() {
		if spec.Has(kind) {
			continue
		}

		path := platform.NSPath(pid, kind)

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return fmt.Errorf("inspect %s: %w", path, err)
		}

		if kind == specs.UserNamespace {
			own, err := os.Stat("/proc/self/ns/user")
			if err == nil && os.SameFile(info, own) {
				continue
			}
		}

		if err := spec.Enter(kind, "", pid); err != nil {
			return err
		}
	}

	return nil
}

// nsenterReexec hands the entry over to a fresh image of this binary.
// The mount and user namespace files ride the pre-main environment
// hook; every other kind crosses the exec as an inherited descriptor
// for the second stage to join after the hook has run, which keeps the
// user namespace ahead of the rest. Everything is opened here, before
// any namespace changes: the target paths, and the root and working
// directories, may stop resolving once the mount namespace switches.
func nsenterReexec(spec *namespace.Spec, stage *ExecStageOpts) error {
	env := scrubEnv(os.Environ())

	for _, kind := range spec.Kinds() {
		req, _ := spec.Request(kind)

		f, err := platform.OpenNSFile(kind, req.TargetPath())
		if err != nil {
			return err
		}

		// A dup carries no close-on-exec flag, so the descriptor
		// survives into the next stage.
		fd, err := unix.Dup(int(f.Fd()))

		f.Close()

		if err != nil {
			return fmt.Errorf("duplicate namespace descriptor: %w", err)
		}

		switch kind {
		case specs.UserNamespace:
			env = append(env, fmt.Sprintf(
				"%s=/proc/self/fd/%d", envUserNS, fd,
			))
		case specs.MountNamespace:
			env = append(env, fmt.Sprintf(
				"%s=/proc/self/fd/%d", envMountNS, fd,
			))
		default:
			stage.Namespaces = append(stage.Namespaces, StageNamespace{
				Kind: kind,
				FD:   fd,
			})
		}
	}

	if stage.Root != "" {
		fd, err := unix.Open(stage.Root, unix.O_RDONLY|unix.O_DIRECTORY, 0)
		if err != nil {
			return fmt.Errorf("open root directory: %w", err)
		}

		stage.Root, stage.RootFD = "", fd
	}

	if stage.Wd != "" {
		fd, err := unix.Open(stage.Wd, unix.O_RDONLY|unix.O_DIRECTORY, 0)
		if err != nil {
			return fmt.Errorf("open working directory: %w", err)
		}

		stage.Wd, stage.WdFD = "", fd
	}

	if err := unix.Exec("/proc/self/exe", stageArgs(stage), env); err != nil {
		return reexecFailure(fmt.Errorf("re-exec namespace stage: %w", err))
	}

	panic("unreachable")
}

// scrubEnv drops leftover pre-main hook variables, so the hook in the
// next stage only sees what this invocation sets.
func scrubEnv(env []string) []string {
	kept := make([]string, 0, len(env))

	for _, kv := range env {
		if strings.HasPrefix(kv, "gons_") {
			continue
		}

		kept = append(kept, kv)
	}

	return kept
}
