// Package transition implements the root filesystem transitions behind
// pivot_root and switch_root as a small state machine. A Transition is
// validated against a mount table snapshot, which builds a step plan,
// and the plan is then executed exactly once. Validation is read-only;
// all mutation happens in Execute, through an injectable Syscalls
// boundary.
package transition

import (
	"fmt"
	"path/filepath"

	"github.com/nixpig/nsutil/internal/mounttable"
)

type Mode uint8

const (
	// ModePivot swaps roots with pivot_root(2), parking the old root
	// at put_old.
	ModePivot Mode = iota + 1
	// ModeSwitch overmounts / with the new root and chroots into it,
	// the way initramfs hands off to the real root.
	ModeSwitch
)

type OldRootPolicy uint8

const (
	// KeepOldRoot leaves the old root filesystem alone.
	KeepOldRoot OldRootPolicy = iota
	// DetachOldRoot lazily unmounts the old root after a pivot.
	DetachOldRoot
	// RemoveOldRoot detaches and removes put_old after a pivot, or
	// recursively deletes the ram-backed old root after a switch.
	RemoveOldRoot
)

type State uint8

const (
	StateNew State = iota
	StateValidated
	StateDetached
	StatePivoted
	StateOldRootHandled
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateValidated:
		return "validated"
	case StateDetached:
		return "detached"
	case StatePivoted:
		return "pivoted"
	case StateOldRootHandled:
		return "oldroothandled"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	Mode    Mode
	NewRoot string
	// PutOld receives the old root mount in pivot mode. Unused in
	// switch mode.
	PutOld  string
	OldRoot OldRootPolicy
	// Sys substitutes the kernel boundary; nil means the host kernel.
	Sys Syscalls
}

// step is one unit of the plan. Critical steps roll back on failure;
// steps past the point of no return do not, their failure is carried in
// a PartialError instead. A nil do advances the state without touching
// the kernel.
type step struct {
	name     string
	next     State
	critical bool
	do       func() error
	undo     func() error
}

type Transition struct {
	cfg   Config
	sys   Syscalls
	state State
	plan  []step

	newRoot    string
	putOld     string
	putOldPost string

	savedCwd  int
	oldRootFD int
}

func New(cfg Config) *Transition {
	sys := cfg.Sys
	if sys == nil {
		sys = Host()
	}

	return &Transition{
		cfg:       cfg,
		sys:       sys,
		state:     StateNew,
		savedCwd:  -1,
		oldRootFD: -1,
	}
}

func (t *Transition) State() State {
	return t.state
}

// Validate checks every transition precondition against the given mount
// table snapshot and, on success, builds the step plan. It performs no
// mutating syscalls and on failure leaves the transition in its initial
// state.
func (t *Transition) Validate(table *mounttable.Table) error {
	if t.state != StateNew {
		return fmt.Errorf("%w: state is %s", ErrPlanConsumed, t.state)
	}

	if !filepath.IsAbs(t.cfg.NewRoot) {
		return fmt.Errorf(
			"%w: new root %s is not an absolute path",
			ErrPrecondition, t.cfg.NewRoot,
		)
	}

	t.newRoot = filepath.Clean(t.cfg.NewRoot)

	var err error
	switch t.cfg.Mode {
	case ModePivot:
		err = t.validatePivot(table)
	case ModeSwitch:
		err = t.validateSwitch(table)
	default:
		err = fmt.Errorf("%w: unknown transition mode", ErrPrecondition)
	}

	if err != nil {
		return err
	}

	ok, err := t.sys.HasSysAdmin()
	if err != nil {
		return fmt.Errorf("probe capabilities: %w", err)
	}

	if !ok {
		return ErrCapabilityDenied
	}

	t.buildPlan()
	t.state = StateValidated

	return nil
}

func (t *Transition) validatePivot(table *mounttable.Table) error {
	if !filepath.IsAbs(t.cfg.PutOld) {
		return fmt.Errorf(
			"%w: put_old %s is not an absolute path",
			ErrPrecondition, t.cfg.PutOld,
		)
	}

	t.putOld = filepath.Clean(t.cfg.PutOld)

	if t.newRoot == "/" {
		return fmt.Errorf(
			"%w: new root must differ from the current root",
			ErrPrecondition,
		)
	}

	if err := t.checkDir(t.newRoot, "new root"); err != nil {
		return err
	}

	if err := t.checkDir(t.putOld, "put_old"); err != nil {
		return err
	}

	if !table.IsMountPoint(t.newRoot) {
		return fmt.Errorf(
			"%w: new root %s is not a mount point",
			ErrPrecondition, t.newRoot,
		)
	}

	if !table.IsUnder(t.putOld, t.newRoot) {
		return fmt.Errorf(
			"%w: put_old %s is not at or underneath new root %s",
			ErrPrecondition, t.putOld, t.newRoot,
		)
	}

	if err := t.checkPropagation(table); err != nil {
		return err
	}

	// Where put_old will sit once the roots have swapped.
	rel, err := filepath.Rel(t.newRoot, t.putOld)
	if err != nil {
		return fmt.Errorf(
			"%w: put_old %s cannot be resolved under new root %s",
			ErrPrecondition, t.putOld, t.newRoot,
		)
	}

	t.putOldPost = filepath.Clean("/" + rel)

	return nil
}

// checkPropagation mirrors the kernel's pivot_root propagation checks:
// the new root mount, the mount holding put_old and the parent of the
// current root must all be non-shared.
func (t *Transition) checkPropagation(table *mounttable.Table) error {
	if e := table.Lookup(t.newRoot); e != nil && e.Shared() {
		return fmt.Errorf(
			"%w: new root %s has shared propagation",
			ErrPrecondition, t.newRoot,
		)
	}

	if e := table.Lookup(t.putOld); e != nil && e.Shared() {
		return fmt.Errorf(
			"%w: put_old %s is on a mount with shared propagation",
			ErrPrecondition, t.putOld,
		)
	}

	root := table.Root()
	if root == nil {
		return nil
	}

	if parent := table.ByID(root.ParentID); parent != nil && parent.Shared() {
		return fmt.Errorf(
			"%w: the current root's parent mount has shared propagation",
			ErrPrecondition,
		)
	}

	return nil
}

// ramFilesystems are the filesystem types switch_root may delete from.
// Anything else under / means we are not running off an initramfs.
var ramFilesystems = map[string]bool{
	"rootfs": true,
	"ramfs":  true,
	"tmpfs":  true,
}

func (t *Transition) validateSwitch(table *mounttable.Table) error {
	if t.cfg.OldRoot == DetachOldRoot {
		return fmt.Errorf(
			"%w: detach policy does not apply to a root switch",
			ErrPrecondition,
		)
	}

	if t.newRoot == "/" {
		return fmt.Errorf(
			"%w: new root must differ from the current root",
			ErrPrecondition,
		)
	}

	if err := t.checkDir(t.newRoot, "new root"); err != nil {
		return err
	}

	if !table.IsMountPoint(t.newRoot) {
		return fmt.Errorf(
			"%w: new root %s is not a mount point",
			ErrPrecondition, t.newRoot,
		)
	}

	if t.cfg.OldRoot == RemoveOldRoot {
		root := table.Root()
		if root == nil {
			return fmt.Errorf(
				"%w: mount table has no root entry",
				ErrPrecondition,
			)
		}

		if !ramFilesystems[root.FSType] {
			return fmt.Errorf(
				"%w: old root deletion requires a ram-backed root filesystem, not %s",
				ErrPrecondition, root.FSType,
			)
		}
	}

	return nil
}

func (t *Transition) checkDir(path, what string) error {
	ok, err := t.sys.DirExists(path)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf(
			"%w: %s %s is not a directory",
			ErrPrecondition, what, path,
		)
	}

	return nil
}

func (t *Transition) buildPlan() {
	switch t.cfg.Mode {
	case ModePivot:
		t.plan = t.pivotPlan()
	case ModeSwitch:
		t.plan = t.switchPlan()
	}
}

func (t *Transition) pivotPlan() []step {
	plan := []step{
		{
			name:     "enter new root",
			next:     StateDetached,
			critical: true,
			do: func() error {
				return t.sys.Chdir(t.newRoot)
			},
			undo: func() error {
				return t.sys.Fchdir(t.savedCwd)
			},
		},
		{
			name:     "pivot_root",
			next:     StatePivoted,
			critical: true,
			do: func() error {
				return t.sys.PivotRoot(t.newRoot, t.putOld)
			},
		},
	}

	switch t.cfg.OldRoot {
	case KeepOldRoot:
		plan = append(plan, step{
			name: "keep old root",
			next: StateOldRootHandled,
		})
	case DetachOldRoot:
		plan = append(plan, step{
			name: "detach old root",
			next: StateOldRootHandled,
			do: func() error {
				return t.sys.UnmountDetach(t.putOldPost)
			},
		})
	case RemoveOldRoot:
		plan = append(plan, step{
			name: "remove old root",
			next: StateOldRootHandled,
			do: func() error {
				if err := t.sys.UnmountDetach(t.putOldPost); err != nil {
					return err
				}

				return t.sys.Remove(t.putOldPost)
			},
		})
	}

	return append(plan, step{
		name: "reset working directory",
		next: StateCommitted,
		do: func() error {
			return t.sys.Chdir("/")
		},
	})
}

func (t *Transition) switchPlan() []step {
	plan := []step{
		{
			name:     "enter new root",
			next:     StateDetached,
			critical: true,
			do: func() error {
				return t.sys.Chdir(t.newRoot)
			},
			undo: func() error {
				return t.sys.Fchdir(t.savedCwd)
			},
		},
		{
			name:     "move mount onto /",
			next:     StateDetached,
			critical: true,
			do: func() error {
				return t.sys.MoveMount(".", "/")
			},
		},
		{
			name:     "chroot into moved root",
			next:     StatePivoted,
			critical: true,
			do: func() error {
				return t.sys.Chroot(".")
			},
		},
	}

	if t.cfg.OldRoot == RemoveOldRoot {
		plan = append(plan, step{
			name: "remove old root",
			next: StateOldRootHandled,
			do: func() error {
				return t.sys.RemoveTree(t.oldRootFD)
			},
		})
	} else {
		plan = append(plan, step{
			name: "keep old root",
			next: StateOldRootHandled,
		})
	}

	return append(plan, step{
		name: "reset working directory",
		next: StateCommitted,
		do: func() error {
			return t.sys.Chdir("/")
		},
	})
}

// Execute runs the plan built by Validate. Each transition executes at
// most once; a failed critical step rolls back completed steps in
// reverse order, and a failure past the point of no return surfaces as
// a PartialError with Committed set.
func (t *Transition) Execute() error {
	switch t.state {
	case StateValidated:
	case StateNew:
		return ErrNotValidated
	default:
		return fmt.Errorf("%w: state is %s", ErrPlanConsumed, t.state)
	}

	fd, err := t.sys.Open(".")
	if err != nil {
		t.state = StateFailed

		return &SyscallError{Step: "save working directory", Err: err}
	}

	t.savedCwd = fd

	defer func() {
		_ = t.sys.Close(t.savedCwd)
	}()

	if t.cfg.Mode == ModeSwitch && t.cfg.OldRoot == RemoveOldRoot {
		fd, err := t.sys.Open("/")
		if err != nil {
			t.state = StateFailed

			return &SyscallError{Step: "open old root", Err: err}
		}

		t.oldRootFD = fd

		defer func() {
			_ = t.sys.Close(t.oldRootFD)
		}()
	}

	var deferred *SyscallError

	var completed []step

	for _, s := range t.plan {
		if s.do == nil {
			t.state = s.next

			continue
		}

		if err := s.do(); err != nil {
			stepErr := &SyscallError{Step: s.name, Err: err}

			if !s.critical {
				// Past the point of no return; the swap stands, so
				// record the failure and march on.
				if deferred == nil {
					deferred = stepErr
				}

				t.state = s.next

				continue
			}

			t.state = StateFailed

			if rbErr := t.rollback(completed); rbErr != nil {
				return &PartialError{Cause: stepErr, Rollback: rbErr}
			}

			return stepErr
		}

		if s.undo != nil {
			completed = append(completed, s)
		}

		t.state = s.next
	}

	if deferred != nil {
		return &PartialError{Cause: deferred, Committed: true}
	}

	return nil
}

func (t *Transition) rollback(completed []step) error {
	var firstErr error

	for i := len(completed) - 1; i >= 0; i-- {
		if err := completed[i].undo(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
