package namespace_test

import (
	"testing"

	"github.com/nixpig/nsutil/internal/namespace"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecEnterValidation(t *testing.T) {
	scenarios := map[string]struct {
		kind specs.LinuxNamespaceType
		path string
		pid  int
		err  error
	}{
		"enter with explicit path": {
			kind: specs.NetworkNamespace,
			path: "/proc/42/ns/net",
		},
		"enter with target pid": {
			kind: specs.UTSNamespace,
			pid:  42,
		},
		"enter with unknown kind": {
			kind: specs.LinuxNamespaceType("banana"),
			path: "/proc/42/ns/banana",
			err:  namespace.ErrUnknownKind,
		},
		"enter without path or pid": {
			kind: specs.IPCNamespace,
			err:  namespace.ErrNoTarget,
		},
		"enter with negative pid": {
			kind: specs.IPCNamespace,
			pid:  -1,
			err:  namespace.ErrNoTarget,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			spec := namespace.NewSpec()

			err := spec.Enter(data.kind, data.path, data.pid)

			if data.err != nil {
				assert.ErrorIs(t, err, data.err)
				assert.True(t, spec.Empty())
				return
			}

			require.NoError(t, err)
			assert.True(t, spec.Has(data.kind))
		})
	}
}

func TestSpecRejectsDuplicateKind(t *testing.T) {
	scenarios := map[string]struct {
		first  func(s *namespace.Spec) error
		second func(s *namespace.Spec) error
	}{
		"unshare twice": {
			first: func(s *namespace.Spec) error {
				return s.Unshare(specs.UTSNamespace)
			},
			second: func(s *namespace.Spec) error {
				return s.Unshare(specs.UTSNamespace)
			},
		},
		"enter then unshare": {
			first: func(s *namespace.Spec) error {
				return s.Enter(specs.NetworkNamespace, "", 42)
			},
			second: func(s *namespace.Spec) error {
				return s.Unshare(specs.NetworkNamespace)
			},
		},
		"unshare then enter": {
			first: func(s *namespace.Spec) error {
				return s.Unshare(specs.PIDNamespace)
			},
			second: func(s *namespace.Spec) error {
				return s.Enter(specs.PIDNamespace, "", 42)
			},
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			spec := namespace.NewSpec()

			require.NoError(t, data.first(spec))
			assert.ErrorIs(t, data.second(spec), namespace.ErrDuplicateKind)
		})
	}
}

func TestSpecKindsApplyOrder(t *testing.T) {
	spec := namespace.NewSpec()

	// Added in a deliberately scrambled order.
	require.NoError(t, spec.Unshare(specs.MountNamespace))
	require.NoError(t, spec.Unshare(specs.NetworkNamespace))
	require.NoError(t, spec.Unshare(specs.UserNamespace))
	require.NoError(t, spec.Unshare(specs.TimeNamespace))
	require.NoError(t, spec.Unshare(specs.PIDNamespace))

	assert.Equal(
		t,
		[]specs.LinuxNamespaceType{
			specs.UserNamespace,
			specs.PIDNamespace,
			specs.NetworkNamespace,
			specs.TimeNamespace,
			specs.MountNamespace,
		},
		spec.Kinds(),
	)
}

func TestRequestTargetPath(t *testing.T) {
	scenarios := map[string]struct {
		request namespace.Request
		path    string
	}{
		"explicit path wins": {
			request: namespace.Request{
				Kind: specs.NetworkNamespace,
				Path: "/var/run/netns/blue",
				PID:  42,
			},
			path: "/var/run/netns/blue",
		},
		"derived from pid": {
			request: namespace.Request{
				Kind: specs.MountNamespace,
				PID:  42,
			},
			path: "/proc/42/ns/mnt",
		},
		"derived uses kernel name": {
			request: namespace.Request{
				Kind: specs.NetworkNamespace,
				PID:  1,
			},
			path: "/proc/1/ns/net",
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.path, data.request.TargetPath())
		})
	}
}
