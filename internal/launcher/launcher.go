// Package launcher starts the payload command of a tool invocation
// once namespace and root state have been settled: it shapes the
// environment, applies credential and capability changes, and then
// either replaces the current process image or forks a child and
// reports its exit status.
package launcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"syscall"

	"github.com/nixpig/nsutil/internal/platform"
	"golang.org/x/sys/unix"
)

var ErrNoCommand = errors.New("no command specified")

// ProcessSpec describes the payload process. Zero values leave the
// corresponding process attribute untouched: a nil Env inherits the
// caller's environment, UID/GID of -1 keep the current credentials and
// a nil BoundingSet keeps the bounding set.
type ProcessSpec struct {
	Argv []string
	Env  []string
	Dir  string

	UID int
	GID int

	// BoundingSet lists the capabilities to retain in the bounding
	// set; an empty non-nil slice drops them all.
	BoundingSet []string
	// KeepCaps raises the permitted set into the ambient set so the
	// payload keeps capabilities across the exec.
	KeepCaps   bool
	NoNewPrivs bool

	// Pdeathsig is delivered to a forked payload when this process
	// dies. Zero means none.
	Pdeathsig unix.Signal
}

// NewProcessSpec returns a ProcessSpec that changes nothing beyond the
// command itself.
func NewProcessSpec(argv []string) *ProcessSpec {
	return &ProcessSpec{Argv: argv, UID: -1, GID: -1}
}

// Replace swaps the current process image for the payload. It returns
// only on failure.
func Replace(spec *ProcessSpec) error {
	if len(spec.Argv) == 0 {
		return ErrNoCommand
	}

	bin, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return fmt.Errorf("find path of binary: %w", err)
	}

	if err := applyProcessState(spec); err != nil {
		return err
	}

	env := spec.Env
	if env == nil {
		env = os.Environ()
	}

	if err := unix.Exec(bin, spec.Argv, env); err != nil {
		return fmt.Errorf(
			"execve (argv0=%s, argv=%s): %w",
			bin, spec.Argv, err,
		)
	}

	panic("unreachable")
}

// Fork starts the payload as a child process and blocks until it
// terminates, returning its mapped exit code. Credential and
// capability changes are applied to the current process first so the
// child inherits them.
func Fork(spec *ProcessSpec) (int, error) {
	if len(spec.Argv) == 0 {
		return 0, ErrNoCommand
	}

	bin, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		return 0, fmt.Errorf("find path of binary: %w", err)
	}

	if err := applyProcessState(spec); err != nil {
		return 0, err
	}

	env := spec.Env
	if env == nil {
		env = os.Environ()
	}

	attr := &syscall.ProcAttr{
		Env: env,
		Files: []uintptr{
			os.Stdin.Fd(),
			os.Stdout.Fd(),
			os.Stderr.Fd(),
		},
		Sys: &syscall.SysProcAttr{},
	}

	if spec.Pdeathsig != 0 {
		attr.Sys.Pdeathsig = spec.Pdeathsig
	}

	pid, err := syscall.ForkExec(bin, spec.Argv, attr)
	if err != nil {
		return 0, fmt.Errorf("fork payload process: %w", err)
	}

	return WaitExit(pid)
}

// WaitExit blocks until pid terminates and returns its mapped exit
// code.
func WaitExit(pid int) (int, error) {
	var ws unix.WaitStatus

	for {
		if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
			if err == unix.EINTR {
				continue
			}

			return 0, fmt.Errorf("wait for payload process: %w", err)
		}

		if ws.Exited() || ws.Signaled() {
			return ExitStatus(ws), nil
		}
	}
}

// ExitStatus maps a wait status to a shell-style exit code: a normal
// exit passes its code through unchanged, death by signal N maps to
// 128+N.
func ExitStatus(ws unix.WaitStatus) int {
	if ws.Exited() {
		return ws.ExitStatus()
	}

	if ws.Signaled() {
		return 128 + int(ws.Signal())
	}

	return 0
}

// ExecFailureCode maps a launch error to the shell convention: 127 when
// the program cannot be found, 126 when it exists but cannot be
// executed.
func ExecFailureCode(err error) int {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return 127
	}

	return 126
}

// applyProcessState applies capability, credential and working
// directory changes in the order the kernel requires: bounding set
// while still privileged, KEEPCAPS around the credential switch,
// ambient raise after it.
func applyProcessState(spec *ProcessSpec) error {
	if spec.BoundingSet != nil {
		if err := platform.DropBounding(spec.BoundingSet); err != nil {
			return fmt.Errorf("drop bounding caps: %w", err)
		}
	}

	changeIDs := spec.UID >= 0 || spec.GID >= 0

	if changeIDs && spec.KeepCaps {
		if err := platform.SetKeepCaps(1); err != nil {
			return fmt.Errorf("set KEEPCAPS: %w", err)
		}
	}

	if changeIDs {
		uid := spec.UID
		if uid < 0 {
			uid = os.Getuid()
		}

		gid := spec.GID
		if gid < 0 {
			gid = os.Getgid()
		}

		if err := platform.SetUser(uid, gid); err != nil {
			return fmt.Errorf("set user: %w", err)
		}
	}

	if spec.KeepCaps {
		if err := platform.RaiseAmbient(); err != nil {
			return fmt.Errorf("raise ambient caps: %w", err)
		}

		if changeIDs {
			if err := platform.SetKeepCaps(0); err != nil {
				return fmt.Errorf("clear KEEPCAPS: %w", err)
			}
		}
	}

	if spec.NoNewPrivs {
		if err := platform.SetNoNewPrivs(); err != nil {
			return fmt.Errorf("set no new privileges: %w", err)
		}
	}

	if spec.Dir != "" {
		if err := os.Chdir(spec.Dir); err != nil {
			return fmt.Errorf("change working directory: %w", err)
		}
	}

	return nil
}
