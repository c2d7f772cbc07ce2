package namespace

import (
	"errors"
	"fmt"

	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// OpCode identifies a step in a namespace plan.
type OpCode uint8

const (
	// OpOpen opens and validates a target namespace file.
	OpOpen OpCode = iota + 1
	// OpEnter joins a previously opened namespace file via setns.
	OpEnter
	// OpUnshare creates a fresh namespace.
	OpUnshare
)

func (c OpCode) String() string {
	switch c {
	case OpOpen:
		return "open"
	case OpEnter:
		return "enter"
	case OpUnshare:
		return "unshare"
	}

	return "unknown"
}

// Operation is one step of a namespace plan.
type Operation struct {
	Code OpCode
	Kind specs.LinuxNamespaceType
	// Path is the namespace file to open, for OpOpen steps.
	Path string
}

// Plan returns the ordered operations for the spec. All target namespace
// files are opened first, then entries are applied with the user
// namespace leading, then unshares with the user namespace leading, and
// any mount namespace operation runs at the very end.
func (s *Spec) Plan() []Operation {
	plan := make([]Operation, 0, 2*len(s.requests))

	for _, kind := range s.Kinds() {
		r := s.requests[kind]
		if r.Action != ActionEnter {
			continue
		}

		plan = append(plan, Operation{
			Code: OpOpen,
			Kind: kind,
			Path: r.TargetPath(),
		})
	}

	for _, code := range []OpCode{OpEnter, OpUnshare} {
		action := ActionEnter
		if code == OpUnshare {
			action = ActionUnshare
		}

		for _, kind := range s.Kinds() {
			if kind == specs.MountNamespace {
				continue
			}

			if r := s.requests[kind]; r.Action == action {
				plan = append(plan, Operation{Code: code, Kind: kind})
			}
		}
	}

	if r, ok := s.requests[specs.MountNamespace]; ok {
		code := OpEnter
		if r.Action == ActionUnshare {
			code = OpUnshare
		}

		plan = append(plan, Operation{Code: code, Kind: specs.MountNamespace})
	}

	return plan
}

// Runner performs the side effects of a plan. The production runner
// issues real syscalls; tests substitute a recording fake.
type Runner interface {
	Open(op Operation) error
	Enter(op Operation) error
	Unshare(op Operation) error
}

// OperationError reports which namespace operation failed and why.
type OperationError struct {
	Code OpCode
	Kind specs.LinuxNamespaceType
	Err  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf(
		"%s %s namespace: %s",
		e.Code, platform.NamespaceNames[e.Kind], e.Err,
	)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Errno extracts the syscall errno from the underlying error, if any.
func (e *OperationError) Errno() (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return errno, true
	}

	return 0, false
}

// Execute runs the plan against the runner, stopping at the first
// failure. A failure is returned as an *OperationError naming the step.
func Execute(plan []Operation, r Runner) error {
	for _, op := range plan {
		var err error

		switch op.Code {
		case OpOpen:
			err = r.Open(op)
		case OpEnter:
			err = r.Enter(op)
		case OpUnshare:
			err = r.Unshare(op)
		default:
			err = fmt.Errorf("invalid op code %d", op.Code)
		}

		if err != nil {
			return &OperationError{Code: op.Code, Kind: op.Kind, Err: err}
		}
	}

	return nil
}
