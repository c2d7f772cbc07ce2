package platform

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// ErrInvalidNamespacePath is returned when a namespace path does not
// refer to a namespace file of the expected kind.
var ErrInvalidNamespacePath = errors.New("invalid namespace path")

// NamespaceFlags maps LinuxNamespaceType to corresponding Linux clone flags.
var NamespaceFlags = map[specs.LinuxNamespaceType]uintptr{
	specs.PIDNamespace:     unix.CLONE_NEWPID,
	specs.NetworkNamespace: unix.CLONE_NEWNET,
	specs.MountNamespace:   unix.CLONE_NEWNS,
	specs.IPCNamespace:     unix.CLONE_NEWIPC,
	specs.UTSNamespace:     unix.CLONE_NEWUTS,
	specs.UserNamespace:    unix.CLONE_NEWUSER,
	specs.CgroupNamespace:  unix.CLONE_NEWCGROUP,
	specs.TimeNamespace:    unix.CLONE_NEWTIME,
}

// NamespaceNames maps LinuxNamespaceType to the kernel's names for them,
// as used for the /proc/<pid>/ns/<name> entries.
var NamespaceNames = map[specs.LinuxNamespaceType]string{
	specs.PIDNamespace:     "pid",
	specs.NetworkNamespace: "net",
	specs.MountNamespace:   "mnt",
	specs.IPCNamespace:     "ipc",
	specs.UTSNamespace:     "uts",
	specs.UserNamespace:    "user",
	specs.CgroupNamespace:  "cgroup",
	specs.TimeNamespace:    "time",
}

// KindFromName resolves a kernel namespace name back to its
// LinuxNamespaceType.
func KindFromName(name string) (specs.LinuxNamespaceType, bool) {
	for kind, n := range NamespaceNames {
		if n == name {
			return kind, true
		}
	}

	return "", false
}

// NSPath returns the procfs path of the namespace of the given kind for
// the process with the given PID.
func NSPath(pid int, kind specs.LinuxNamespaceType) string {
	return fmt.Sprintf("/proc/%d/ns/%s", pid, NamespaceNames[kind])
}

// SetNS moves the calling thread into the namespace referred to by fd.
// The kind is passed to the kernel so that it can reject a file of the
// wrong namespace type.
func SetNS(fd uintptr, kind specs.LinuxNamespaceType) error {
	if err := unix.Setns(int(fd), int(NamespaceFlags[kind])); err != nil {
		return fmt.Errorf("setns to %s namespace: %w", NamespaceNames[kind], err)
	}

	return nil
}

// Unshare disassociates the calling process from the namespaces given by
// flags, creating fresh ones.
func Unshare(flags uintptr) error {
	if err := unix.Unshare(int(flags)); err != nil {
		return fmt.Errorf("unshare (flags=%#x): %w", flags, err)
	}

	return nil
}

// OpenNSFile opens the namespace file at the given path and validates
// that it refers to a namespace of the given kind, returning the open
// file. If validation fails then ErrInvalidNamespacePath is returned.
//
// The returned file must be kept open until the namespace has been
// entered; all namespace files are opened before any namespace is
// changed so that a path like /proc/<pid>/ns/net stays resolvable even
// once the calling process has left the target's pid namespace view.
func OpenNSFile(kind specs.LinuxNamespaceType, path string) (*os.File, error) {
	if path == "" {
		return nil, ErrInvalidNamespacePath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open namespace path: %w", err)
	}

	nsType, err := unix.IoctlRetInt(int(f.Fd()), unix.NS_GET_NSTYPE)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf(
			"get namespace type from file descriptor: %w",
			err,
		)
	}

	if NamespaceFlags[kind] != uintptr(nsType) {
		f.Close()
		return nil, fmt.Errorf(
			"%w: %s is not a %s namespace",
			ErrInvalidNamespacePath, path, NamespaceNames[kind],
		)
	}

	return f, nil
}

// BuildIDMappings returns single-entry UID and GID mappings that map
// innerUID/innerGID inside a new user namespace to the current process'
// credentials outside it, for configuration via cmd.SysProcAttr.
func BuildIDMappings(
	innerUID, innerGID int,
) ([]syscall.SysProcIDMap, []syscall.SysProcIDMap) {
	uidMappings := []syscall.SysProcIDMap{
		{
			ContainerID: innerUID,
			HostID:      os.Getuid(),
			Size:        1,
		},
	}

	gidMappings := []syscall.SysProcIDMap{
		{
			ContainerID: innerGID,
			HostID:      os.Getgid(),
			Size:        1,
		},
	}

	return uidMappings, gidMappings
}
