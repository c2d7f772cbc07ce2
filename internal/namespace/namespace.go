// Package namespace computes and executes ordered namespace operation
// plans. The kernel is picky about sequencing: target namespace files
// must be opened before anything is unshared, a user namespace has to be
// entered before any other kind so that the capability checks for the
// rest are made against the target user namespace, and mount namespace
// changes have to come last because they alter how every subsequent path
// resolves.
package namespace

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
)

var (
	// ErrUnknownKind is returned for a namespace kind the kernel does
	// not have.
	ErrUnknownKind = errors.New("unknown namespace kind")
	// ErrDuplicateKind is returned when the same kind is requested
	// twice in one spec.
	ErrDuplicateKind = errors.New("namespace kind requested twice")
	// ErrNoTarget is returned for an entry request with neither a
	// namespace path nor a target PID.
	ErrNoTarget = errors.New("namespace entry needs a path or a target PID")
)

// Action describes what to do with one namespace kind.
type Action uint8

const (
	// ActionEnter joins an existing namespace via setns.
	ActionEnter Action = iota + 1
	// ActionUnshare creates a fresh namespace.
	ActionUnshare
)

// Request pairs a namespace kind with the action to take on it.
type Request struct {
	Kind   specs.LinuxNamespaceType
	Action Action
	// Path is the namespace file to enter. Empty means derive it from
	// PID as /proc/<pid>/ns/<name>.
	Path string
	// PID is the process whose namespace to enter when Path is empty.
	PID int
}

// TargetPath returns the namespace file path for an entry request,
// deriving it from the target PID when no explicit path was given.
func (r Request) TargetPath() string {
	if r.Path != "" {
		return r.Path
	}

	return platform.NSPath(r.PID, r.Kind)
}

// applyOrder is the order namespace operations are applied in.
// Namespaces need to be applied in a specific order. Don't change these.
var applyOrder = []specs.LinuxNamespaceType{
	specs.UserNamespace,
	specs.PIDNamespace,
	specs.NetworkNamespace,
	specs.IPCNamespace,
	specs.UTSNamespace,
	specs.CgroupNamespace,
	specs.TimeNamespace,
	specs.MountNamespace,
}

// ApplyOrder returns the canonical namespace application order, for
// callers that sequence namespace work outside a Spec.
func ApplyOrder() []specs.LinuxNamespaceType {
	return slices.Clone(applyOrder)
}

// Spec collects the namespace requests for one invocation and validates
// them as they are added.
type Spec struct {
	requests map[specs.LinuxNamespaceType]Request
}

// NewSpec returns an empty namespace spec.
func NewSpec() *Spec {
	return &Spec{
		requests: make(map[specs.LinuxNamespaceType]Request),
	}
}

// Enter requests joining the namespace of the given kind, located either
// at an explicit namespace file path or derived from the target PID.
func (s *Spec) Enter(
	kind specs.LinuxNamespaceType,
	path string,
	pid int,
) error {
	if err := s.validateKind(kind); err != nil {
		return err
	}

	if path == "" && pid <= 0 {
		return fmt.Errorf("%w: %s", ErrNoTarget, kind)
	}

	s.requests[kind] = Request{
		Kind:   kind,
		Action: ActionEnter,
		Path:   path,
		PID:    pid,
	}

	return nil
}

// Unshare requests creation of a fresh namespace of the given kind.
func (s *Spec) Unshare(kind specs.LinuxNamespaceType) error {
	if err := s.validateKind(kind); err != nil {
		return err
	}

	s.requests[kind] = Request{Kind: kind, Action: ActionUnshare}

	return nil
}

func (s *Spec) validateKind(kind specs.LinuxNamespaceType) error {
	if _, ok := platform.NamespaceFlags[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if _, ok := s.requests[kind]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}

	return nil
}

// Has reports whether the spec contains a request for the given kind.
func (s *Spec) Has(kind specs.LinuxNamespaceType) bool {
	_, ok := s.requests[kind]

	return ok
}

// Request returns the request for the given kind, if present.
func (s *Spec) Request(kind specs.LinuxNamespaceType) (Request, bool) {
	r, ok := s.requests[kind]

	return r, ok
}

// Kinds returns the requested kinds in apply order.
func (s *Spec) Kinds() []specs.LinuxNamespaceType {
	kinds := make([]specs.LinuxNamespaceType, 0, len(s.requests))

	for _, kind := range applyOrder {
		if _, ok := s.requests[kind]; ok {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}

// Empty reports whether no namespaces were requested.
func (s *Spec) Empty() bool {
	return len(s.requests) == 0
}
