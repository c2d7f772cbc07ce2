package namespace

import (
	"fmt"
	"os"

	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
)

// FDRunner executes namespace operations with real syscalls, keeping
// every opened namespace file for the lifetime of the sequence so that
// later steps never depend on /proc paths that may have become
// unresolvable. The caller must hold runtime.LockOSThread for the
// duration, since setns acts on the calling thread.
type FDRunner struct {
	files map[specs.LinuxNamespaceType]*os.File
}

// NewFDRunner returns a runner with no files opened yet.
func NewFDRunner() *FDRunner {
	return &FDRunner{
		files: make(map[specs.LinuxNamespaceType]*os.File),
	}
}

// Open opens and validates the namespace file for the operation and
// retains it.
func (r *FDRunner) Open(op Operation) error {
	f, err := platform.OpenNSFile(op.Kind, op.Path)
	if err != nil {
		return err
	}

	r.files[op.Kind] = f

	return nil
}

// Enter moves the calling thread into the namespace opened for the
// operation's kind.
func (r *FDRunner) Enter(op Operation) error {
	f, ok := r.files[op.Kind]
	if !ok {
		return fmt.Errorf(
			"no namespace file opened for %s",
			platform.NamespaceNames[op.Kind],
		)
	}

	return platform.SetNS(f.Fd(), op.Kind)
}

// Unshare creates a fresh namespace of the operation's kind.
func (r *FDRunner) Unshare(op Operation) error {
	return platform.Unshare(platform.NamespaceFlags[op.Kind])
}

// Close releases all files the runner still holds.
func (r *FDRunner) Close() {
	for kind, f := range r.files {
		f.Close()
		delete(r.files, kind)
	}
}
