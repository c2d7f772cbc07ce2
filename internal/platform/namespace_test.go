package platform_test

import (
	"os"
	"syscall"
	"testing"

	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceMappings(t *testing.T) {
	assert.Len(t, platform.NamespaceNames, 8)
	assert.Len(t, platform.NamespaceFlags, 8)

	for key := range platform.NamespaceFlags {
		_, ok := platform.NamespaceNames[key]

		assert.True(t, ok, "missing namespace name for '%s'", key)
	}
}

func TestKindFromName(t *testing.T) {
	scenarios := map[string]struct {
		name string
		kind specs.LinuxNamespaceType
		ok   bool
	}{
		"mnt":          {name: "mnt", kind: specs.MountNamespace, ok: true},
		"uts":          {name: "uts", kind: specs.UTSNamespace, ok: true},
		"ipc":          {name: "ipc", kind: specs.IPCNamespace, ok: true},
		"net":          {name: "net", kind: specs.NetworkNamespace, ok: true},
		"pid":          {name: "pid", kind: specs.PIDNamespace, ok: true},
		"user":         {name: "user", kind: specs.UserNamespace, ok: true},
		"cgroup":       {name: "cgroup", kind: specs.CgroupNamespace, ok: true},
		"time":         {name: "time", kind: specs.TimeNamespace, ok: true},
		"mount is not a kernel name": {name: "mount", ok: false},
		"empty":                      {name: "", ok: false},
		"unknown":                    {name: "banana", ok: false},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			kind, ok := platform.KindFromName(data.name)

			assert.Equal(t, data.ok, ok)
			if data.ok {
				assert.Equal(t, data.kind, kind)
			}
		})
	}
}

func TestNSPath(t *testing.T) {
	assert.Equal(
		t,
		"/proc/1/ns/mnt",
		platform.NSPath(1, specs.MountNamespace),
	)
	assert.Equal(
		t,
		"/proc/4242/ns/user",
		platform.NSPath(4242, specs.UserNamespace),
	)
}

func TestOpenNSFile(t *testing.T) {
	scenarios := map[string]struct {
		kind specs.LinuxNamespaceType
		path string
		err  error
	}{
		"net namespace": {
			kind: specs.NetworkNamespace,
			path: "/proc/self/ns/net",
			err:  nil,
		},
		"uts namespace": {
			kind: specs.UTSNamespace,
			path: "/proc/self/ns/uts",
			err:  nil,
		},
		"pid namespace": {
			kind: specs.PIDNamespace,
			path: "/proc/self/ns/pid",
			err:  nil,
		},
		"mismatched namespace kind": {
			kind: specs.MountNamespace,
			path: "/proc/self/ns/net",
			err:  platform.ErrInvalidNamespacePath,
		},
		"empty path": {
			kind: specs.NetworkNamespace,
			path: "",
			err:  platform.ErrInvalidNamespacePath,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			f, err := platform.OpenNSFile(data.kind, data.path)

			if data.err != nil {
				assert.ErrorIs(t, err, data.err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, f)
			f.Close()
		})
	}
}

func TestBuildIDMappings(t *testing.T) {
	scenarios := map[string]struct {
		innerUID    int
		innerGID    int
		expectedUID []syscall.SysProcIDMap
		expectedGID []syscall.SysProcIDMap
	}{
		"map root user": {
			innerUID: 0,
			innerGID: 0,
			expectedUID: []syscall.SysProcIDMap{
				{ContainerID: 0, HostID: os.Getuid(), Size: 1},
			},
			expectedGID: []syscall.SysProcIDMap{
				{ContainerID: 0, HostID: os.Getgid(), Size: 1},
			},
		},
		"map unprivileged user": {
			innerUID: 1000,
			innerGID: 1000,
			expectedUID: []syscall.SysProcIDMap{
				{ContainerID: 1000, HostID: os.Getuid(), Size: 1},
			},
			expectedGID: []syscall.SysProcIDMap{
				{ContainerID: 1000, HostID: os.Getgid(), Size: 1},
			},
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			uidMappings, gidMappings := platform.BuildIDMappings(
				data.innerUID,
				data.innerGID,
			)

			assert.Equal(t, data.expectedUID, uidMappings)
			assert.Equal(t, data.expectedGID, gidMappings)
		})
	}
}
