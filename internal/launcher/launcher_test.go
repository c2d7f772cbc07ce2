package launcher

import (
	"io/fs"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestExitStatus(t *testing.T) {
	scenarios := map[string]struct {
		ws   unix.WaitStatus
		code int
	}{
		"clean exit passes through": {
			ws:   unix.WaitStatus(0),
			code: 0,
		},
		"nonzero exit passes through": {
			ws:   unix.WaitStatus(3 << 8),
			code: 3,
		},
		"SIGKILL maps to 137": {
			ws:   unix.WaitStatus(9),
			code: 137,
		},
		"SIGTERM maps to 143": {
			ws:   unix.WaitStatus(15),
			code: 143,
		},
		"SIGSEGV with core dump maps to 139": {
			ws:   unix.WaitStatus(11 | 0x80),
			code: 139,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.code, ExitStatus(data.ws))
		})
	}
}

func TestForkReportsExitCode(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}

	scenarios := map[string]struct {
		command string
		code    int
	}{
		"clean exit":       {command: "exit 0", code: 0},
		"nonzero exit":     {command: "exit 3", code: 3},
		"killed by signal": {command: "kill -9 $$", code: 137},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			spec := NewProcessSpec([]string{"/bin/sh", "-c", data.command})

			code, err := Fork(spec)
			require.NoError(t, err)
			assert.Equal(t, data.code, code)
		})
	}
}

func TestLaunchRequiresCommand(t *testing.T) {
	assert.ErrorIs(t, Replace(NewProcessSpec(nil)), ErrNoCommand)

	_, err := Fork(NewProcessSpec(nil))
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestForkMissingBinary(t *testing.T) {
	spec := NewProcessSpec([]string{"definitely-not-a-real-binary-name"})

	_, err := Fork(spec)
	require.Error(t, err)
	assert.Equal(t, 127, ExecFailureCode(err))
}

func TestExecFailureCode(t *testing.T) {
	scenarios := map[string]struct {
		err  error
		code int
	}{
		"not found is 127": {
			err:  &exec.Error{Name: "nope", Err: exec.ErrNotFound},
			code: 127,
		},
		"missing file is 127": {
			err:  fs.ErrNotExist,
			code: 127,
		},
		"permission denied is 126": {
			err:  fs.ErrPermission,
			code: 126,
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.code, ExecFailureCode(data.err))
		})
	}
}

func TestBuildEnv(t *testing.T) {
	base := []string{
		"PATH=/usr/bin",
		"TERM=xterm",
		"HOME=/root",
		"SECRET=hunter2",
		"malformed",
	}

	scenarios := map[string]struct {
		clean       bool
		passthrough []string
		want        []string
	}{
		"not cleaning passes everything through": {
			want: base,
		},
		"cleaning keeps TERM and defaults PATH": {
			clean: true,
			want: []string{
				"TERM=xterm",
				"PATH=" + defaultPath,
			},
		},
		"passthrough names survive": {
			clean:       true,
			passthrough: []string{"HOME"},
			want: []string{
				"TERM=xterm",
				"HOME=/root",
				"PATH=" + defaultPath,
			},
		},
		"passed-through PATH is not replaced": {
			clean:       true,
			passthrough: []string{"PATH"},
			want: []string{
				"PATH=/usr/bin",
				"TERM=xterm",
			},
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			got := BuildEnv(base, data.clean, data.passthrough)

			assert.ElementsMatch(t, data.want, got)
		})
	}
}
