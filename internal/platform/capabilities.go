package platform

import (
	"fmt"
	"strings"

	"github.com/syndtr/gocapability/capability"
)

// capabilityNames maps CAP_* capability name strings to their
// corresponding capability values.
var capabilityNames = map[string]capability.Cap{
	"CAP_AUDIT_CONTROL":      capability.CAP_AUDIT_CONTROL,
	"CAP_AUDIT_READ":         capability.CAP_AUDIT_READ,
	"CAP_AUDIT_WRITE":        capability.CAP_AUDIT_WRITE,
	"CAP_BLOCK_SUSPEND":      capability.CAP_BLOCK_SUSPEND,
	"CAP_BPF":                capability.CAP_BPF,
	"CAP_CHECKPOINT_RESTORE": capability.CAP_CHECKPOINT_RESTORE,
	"CAP_CHOWN":              capability.CAP_CHOWN,
	"CAP_DAC_OVERRIDE":       capability.CAP_DAC_OVERRIDE,
	"CAP_DAC_READ_SEARCH":    capability.CAP_DAC_READ_SEARCH,
	"CAP_FOWNER":             capability.CAP_FOWNER,
	"CAP_FSETID":             capability.CAP_FSETID,
	"CAP_IPC_LOCK":           capability.CAP_IPC_LOCK,
	"CAP_IPC_OWNER":          capability.CAP_IPC_OWNER,
	"CAP_KILL":               capability.CAP_KILL,
	"CAP_LEASE":              capability.CAP_LEASE,
	"CAP_LINUX_IMMUTABLE":    capability.CAP_LINUX_IMMUTABLE,
	"CAP_MAC_ADMIN":          capability.CAP_MAC_ADMIN,
	"CAP_MAC_OVERRIDE":       capability.CAP_MAC_OVERRIDE,
	"CAP_MKNOD":              capability.CAP_MKNOD,
	"CAP_NET_ADMIN":          capability.CAP_NET_ADMIN,
	"CAP_NET_BIND_SERVICE":   capability.CAP_NET_BIND_SERVICE,
	"CAP_NET_BROADCAST":      capability.CAP_NET_BROADCAST,
	"CAP_NET_RAW":            capability.CAP_NET_RAW,
	"CAP_PERFMON":            capability.CAP_PERFMON,
	"CAP_SETGID":             capability.CAP_SETGID,
	"CAP_SETFCAP":            capability.CAP_SETFCAP,
	"CAP_SETPCAP":            capability.CAP_SETPCAP,
	"CAP_SETUID":             capability.CAP_SETUID,
	"CAP_SYS_ADMIN":          capability.CAP_SYS_ADMIN,
	"CAP_SYS_BOOT":           capability.CAP_SYS_BOOT,
	"CAP_SYS_CHROOT":         capability.CAP_SYS_CHROOT,
	"CAP_SYS_MODULE":         capability.CAP_SYS_MODULE,
	"CAP_SYS_NICE":           capability.CAP_SYS_NICE,
	"CAP_SYS_PACCT":          capability.CAP_SYS_PACCT,
	"CAP_SYS_PTRACE":         capability.CAP_SYS_PTRACE,
	"CAP_SYS_RAWIO":          capability.CAP_SYS_RAWIO,
	"CAP_SYS_RESOURCE":       capability.CAP_SYS_RESOURCE,
	"CAP_SYS_TIME":           capability.CAP_SYS_TIME,
	"CAP_SYS_TTY_CONFIG":     capability.CAP_SYS_TTY_CONFIG,
	"CAP_SYSLOG":             capability.CAP_SYSLOG,
	"CAP_WAKE_ALARM":         capability.CAP_WAKE_ALARM,
}

// ResolveCapabilities converts capability name strings to their
// capability values. Names are case-insensitive and the CAP_ prefix is
// optional. Unknown names are an error since they come from user input.
func ResolveCapabilities(names []string) ([]capability.Cap, error) {
	caps := make([]capability.Cap, 0, len(names))

	for _, name := range names {
		normalised := strings.ToUpper(name)
		if !strings.HasPrefix(normalised, "CAP_") {
			normalised = "CAP_" + normalised
		}

		v, ok := capabilityNames[normalised]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}

		caps = append(caps, v)
	}

	return caps, nil
}

// HasSysAdmin reports whether the current process holds CAP_SYS_ADMIN in
// its effective set. Mount and root manipulation fail with EPERM without
// it, so callers probe before attempting a transition.
func HasSysAdmin() (bool, error) {
	c, err := capability.NewPid2(0)
	if err != nil {
		return false, fmt.Errorf("initialise capabilities object: %w", err)
	}

	if err := c.Load(); err != nil {
		return false, fmt.Errorf("load capability state: %w", err)
	}

	return c.Get(capability.EFFECTIVE, capability.CAP_SYS_ADMIN), nil
}

// DropBounding reduces the capability bounding set to only the named
// capabilities. An empty retain list drops the entire bounding set.
func DropBounding(retain []string) error {
	caps, err := ResolveCapabilities(retain)
	if err != nil {
		return err
	}

	c, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("initialise capabilities object: %w", err)
	}

	if err := c.Load(); err != nil {
		return fmt.Errorf("load capability state: %w", err)
	}

	c.Clear(capability.BOUNDING)
	c.Set(capability.BOUNDING, caps...)

	if err := c.Apply(capability.BOUNDS); err != nil {
		return fmt.Errorf("apply bounding set: %w", err)
	}

	return nil
}

// RaiseAmbient raises every permitted capability into the inheritable
// and ambient sets so that capabilities survive the execve of an
// unprivileged binary after a user namespace unshare.
func RaiseAmbient() error {
	c, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("initialise capabilities object: %w", err)
	}

	if err := c.Load(); err != nil {
		return fmt.Errorf("load capability state: %w", err)
	}

	for _, v := range capability.List() {
		if !c.Get(capability.PERMITTED, v) {
			continue
		}

		c.Set(capability.INHERITABLE|capability.AMBIENT, v)
	}

	if err := c.Apply(capability.CAPS | capability.AMBS); err != nil {
		return fmt.Errorf("apply ambient capabilities: %w", err)
	}

	return nil
}
