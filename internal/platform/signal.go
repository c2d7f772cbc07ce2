package platform

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// signalNames maps signal names, without the SIG prefix, to signals.
var signalNames = map[string]unix.Signal{
	"HUP":    unix.SIGHUP,
	"INT":    unix.SIGINT,
	"QUIT":   unix.SIGQUIT,
	"ILL":    unix.SIGILL,
	"TRAP":   unix.SIGTRAP,
	"ABRT":   unix.SIGABRT,
	"IOT":    unix.SIGIOT,
	"BUS":    unix.SIGBUS,
	"FPE":    unix.SIGFPE,
	"KILL":   unix.SIGKILL,
	"USR1":   unix.SIGUSR1,
	"SEGV":   unix.SIGSEGV,
	"USR2":   unix.SIGUSR2,
	"PIPE":   unix.SIGPIPE,
	"ALRM":   unix.SIGALRM,
	"TERM":   unix.SIGTERM,
	"STKFLT": unix.SIGSTKFLT,
	"CHLD":   unix.SIGCHLD,
	"CONT":   unix.SIGCONT,
	"STOP":   unix.SIGSTOP,
	"TSTP":   unix.SIGTSTP,
	"TTIN":   unix.SIGTTIN,
	"TTOU":   unix.SIGTTOU,
	"URG":    unix.SIGURG,
	"XCPU":   unix.SIGXCPU,
	"XFSZ":   unix.SIGXFSZ,
	"VTALRM": unix.SIGVTALRM,
	"PROF":   unix.SIGPROF,
	"WINCH":  unix.SIGWINCH,
	"IO":     unix.SIGIO,
	"PWR":    unix.SIGPWR,
	"SYS":    unix.SIGSYS,
}

// maxSignal is the kernel's _NSIG, the upper bound for valid signal
// numbers including the real-time range.
const maxSignal = 64

// ParseSignal parses a signal given by name or number. Names are
// case-insensitive and the SIG prefix is optional; numbers may be any
// valid signal number including real-time signals.
func ParseSignal(sig string) (unix.Signal, error) {
	if n, err := strconv.Atoi(sig); err == nil {
		if n < 1 || n > maxSignal {
			return 0, fmt.Errorf("invalid signal number %d", n)
		}

		return unix.Signal(n), nil
	}

	name := strings.TrimPrefix(strings.ToUpper(sig), "SIG")
	if s, ok := signalNames[name]; ok {
		return s, nil
	}

	return 0, fmt.Errorf("unknown signal %q", sig)
}
