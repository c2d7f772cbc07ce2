package operations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nixpig/nsutil/internal/namespace"
	"github.com/nixpig/nsutil/internal/transition"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPivotRootRejectsBadPaths(t *testing.T) {
	scenarios := map[string]struct {
		newRoot string
		putOld  string
	}{
		"test missing new root": {
			newRoot: "/definitely-not-a-real-newroot",
			putOld:  "/definitely-not-a-real-newroot/old",
		},
		"test relative new root": {
			newRoot: "definitely-not-a-real-newroot",
			putOld:  "/definitely-not-a-real-newroot/old",
		},
		"test put_old outside new root": {
			newRoot: "/definitely-not-a-real-newroot",
			putOld:  "/somewhere-else",
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			err := PivotRoot(&PivotRootOpts{
				NewRoot: data.newRoot,
				PutOld:  data.putOld,
			})

			assert.ErrorIs(t, err, transition.ErrPrecondition)
		})
	}
}

func TestSwitchRootValidation(t *testing.T) {
	newRoot := t.TempDir()

	require.NoError(t, os.WriteFile(
		filepath.Join(newRoot, "init"), []byte("#!/bin/sh\n"), 0o755,
	))

	scenarios := map[string]struct {
		newRoot     string
		init        string
		errContains string
		errIs       error
	}{
		"test relative init": {
			newRoot:     newRoot,
			init:        "sbin/init",
			errContains: "must be an absolute path",
		},
		"test missing init": {
			newRoot:     newRoot,
			init:        "/definitely-not-init",
			errContains: "locate init under new root",
		},
		"test new root not a mount point": {
			newRoot: newRoot,
			init:    "/init",
			errIs:   transition.ErrPrecondition,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			_, err := SwitchRoot(&SwitchRootOpts{
				NewRoot: data.newRoot,
				Init:    data.init,
			})

			if data.errIs != nil {
				assert.ErrorIs(t, err, data.errIs)
			} else {
				assert.ErrorContains(t, err, data.errContains)
			}
		})
	}
}

func TestUnshareOptionConflicts(t *testing.T) {
	scenarios := map[string]struct {
		opts        *UnshareOpts
		errContains string
		errIs       error
	}{
		"test time offsets without time namespace": {
			opts: &UnshareOpts{
				Namespaces: []specs.LinuxNamespaceType{
					specs.NetworkNamespace,
				},
				TimeOffsets: map[string]specs.LinuxTimeOffset{
					"monotonic": {Secs: 100},
				},
				MapUser:  -1,
				MapGroup: -1,
				Argv:     []string{"true"},
			},
			errContains: "time offsets require a time namespace",
		},
		"test propagation without mount namespace": {
			opts: &UnshareOpts{
				Namespaces: []specs.LinuxNamespaceType{
					specs.UTSNamespace,
				},
				Propagation: "private",
				MapUser:     -1,
				MapGroup:    -1,
				Argv:        []string{"true"},
			},
			errContains: "mount propagation requires a mount namespace",
		},
		"test duplicate namespace kind": {
			opts: &UnshareOpts{
				Namespaces: []specs.LinuxNamespaceType{
					specs.MountNamespace,
					specs.MountNamespace,
				},
				MapUser:  -1,
				MapGroup: -1,
				Argv:     []string{"true"},
			},
			errIs: namespace.ErrDuplicateKind,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			_, err := Unshare(data.opts)

			if data.errIs != nil {
				assert.ErrorIs(t, err, data.errIs)
			} else {
				assert.ErrorContains(t, err, data.errContains)
			}
		})
	}
}

func TestNsenterValidation(t *testing.T) {
	scenarios := map[string]struct {
		opts        *NsenterOpts
		errContains string
		errIs       error
	}{
		"test negative target pid": {
			opts: &NsenterOpts{
				TargetPID: -1,
				UID:       -1,
				GID:       -1,
				Argv:      []string{"true"},
			},
			errContains: "must be a positive integer",
		},
		"test nothing requested": {
			opts: &NsenterOpts{
				UID:  -1,
				GID:  -1,
				Argv: []string{"true"},
			},
			errContains: "no namespaces requested",
		},
		"test all without target pid": {
			opts: &NsenterOpts{
				All:  true,
				UID:  -1,
				GID:  -1,
				Argv: []string{"true"},
			},
			errContains: "requires a target PID",
		},
		"test namespace without path or target": {
			opts: &NsenterOpts{
				Namespaces: map[specs.LinuxNamespaceType]string{
					specs.NetworkNamespace: "",
				},
				UID:  -1,
				GID:  -1,
				Argv: []string{"true"},
			},
			errIs: namespace.ErrNoTarget,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			_, err := Nsenter(data.opts)

			if data.errIs != nil {
				assert.ErrorIs(t, err, data.errIs)
			} else {
				assert.ErrorContains(t, err, data.errContains)
			}
		})
	}
}

func TestStageArgs(t *testing.T) {
	scenarios := map[string]struct {
		opts *ExecStageOpts
		args []string
	}{
		"test unshare stage": {
			opts: &ExecStageOpts{
				Propagation: "private",
				MountProc:   "/proc",
				RootFD:      -1,
				WdFD:        -1,
				UID:         -1,
				GID:         -1,
				KeepCaps:    true,
				CleanEnv:    true,
				KeepEnv:     []string{"TERM"},
				Argv:        []string{"sh", "-c", "true"},
			},
			args: []string{
				"nsexec",
				"--propagation", "private",
				"--mount-proc", "/proc",
				"--keep-caps",
				"--clean-env",
				"--keep-env", "TERM",
				"--",
				"sh", "-c", "true",
			},
		},
		"test nsenter stage": {
			opts: &ExecStageOpts{
				Namespaces: []StageNamespace{
					{Kind: specs.NetworkNamespace, FD: 7},
					{Kind: specs.PIDNamespace, FD: 8},
				},
				RootFD: 9,
				WdFD:   10,
				UID:    0,
				GID:    0,
				Fork:   true,
				Argv:   []string{"ls"},
			},
			args: []string{
				"nsexec",
				"--ns-fd", "net=7",
				"--ns-fd", "pid=8",
				"--root-fd", "9",
				"--wd-fd", "10",
				"--uid", "0",
				"--gid", "0",
				"--fork",
				"--",
				"ls",
			},
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.args, stageArgs(data.opts))
		})
	}
}

func TestShellArgv(t *testing.T) {
	t.Setenv("SHELL", "/bin/dash")
	assert.Equal(t, []string{"/bin/dash"}, shellArgv())

	t.Setenv("SHELL", "")
	assert.Equal(t, []string{"/bin/sh"}, shellArgv())
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/", resolvePath("/"))
	assert.Equal(
		t,
		"/definitely-not-a-real-path",
		resolvePath("/definitely-not-a-real-path/../definitely-not-a-real-path"),
	)
}

func TestExitCodeWrappers(t *testing.T) {
	err := reexecFailure(os.ErrPermission)

	var exitErr *ExitCodeError

	assert.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 125, exitErr.Code)
	assert.ErrorIs(t, err, os.ErrPermission)

	err = launchFailure(os.ErrNotExist)

	assert.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 127, exitErr.Code)
}
