package transition

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrPrecondition is wrapped by all validation failures.
	ErrPrecondition = errors.New("precondition violation")
	// ErrCapabilityDenied is returned when the caller lacks
	// CAP_SYS_ADMIN in its current user namespace.
	ErrCapabilityDenied = errors.New("operation requires CAP_SYS_ADMIN")
	// ErrNotValidated is returned when Execute is called before a
	// successful Validate.
	ErrNotValidated = errors.New("transition has not been validated")
	// ErrPlanConsumed is returned when a transition is executed twice;
	// a plan is consumed exactly once.
	ErrPlanConsumed = errors.New("transition plan already consumed")
)

// SyscallError is a transition step that failed at the kernel boundary.
// Its message carries a hint for the errnos whose strerror text alone
// does not explain what went wrong with a root swap.
type SyscallError struct {
	Step string
	Err  error
}

func (e *SyscallError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Step, e.Err)

	if hint := e.hint(); hint != "" {
		msg = fmt.Sprintf("%s (%s)", msg, hint)
	}

	return msg
}

func (e *SyscallError) Unwrap() error {
	return e.Err
}

// Errno extracts the syscall errno from the underlying error, if any.
func (e *SyscallError) Errno() (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return errno, true
	}

	return 0, false
}

func (e *SyscallError) hint() string {
	errno, ok := e.Errno()
	if !ok {
		return ""
	}

	switch errno {
	case unix.EPERM:
		return "changing the root mount requires CAP_SYS_ADMIN in the current user namespace"
	case unix.EINVAL:
		return "the new root is not a mount point, put_old is not at or underneath the new root, or a mount involved has shared propagation"
	case unix.EBUSY:
		return "the new root or put_old is busy, or is on the current root filesystem"
	default:
		return ""
	}
}

// PartialError reports a failure after some transition steps already
// completed: either a step past the point of no return failed, in which
// case the root swap itself stands and Committed is true, or a step
// failure was followed by a rollback failure, leaving the mount
// namespace in between states.
type PartialError struct {
	Cause     error
	Rollback  error
	Committed bool
}

func (e *PartialError) Error() string {
	if e.Rollback != nil {
		return fmt.Sprintf(
			"partial transition: %s; rollback also failed: %s",
			e.Cause, e.Rollback,
		)
	}

	if e.Committed {
		return fmt.Sprintf(
			"transition committed with cleanup failure: %s",
			e.Cause,
		)
	}

	return fmt.Sprintf("partial transition: %s", e.Cause)
}

func (e *PartialError) Unwrap() error {
	return e.Cause
}
