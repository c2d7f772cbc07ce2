package mounttable_test

import (
	"strings"
	"testing"

	"github.com/nixpig/nsutil/internal/mounttable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostTable = `27 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw,errors=remount-ro
21 27 0:19 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw
22 27 0:20 / /sys rw,nosuid,nodev,noexec,relatime shared:13 - sysfs sysfs rw
28 27 8:2 / /mnt/new rw,relatime - ext4 /dev/sda2 rw
29 28 0:25 / /mnt/new/proc rw,nosuid - proc proc rw
30 27 0:26 / /tmp rw,nosuid,nodev shared:3 - tmpfs tmpfs rw,size=402400k
31 30 0:27 / /tmp/stack rw - tmpfs lower rw
32 30 0:28 / /tmp/stack rw - tmpfs upper rw
33 27 0:29 /dir /mnt/with\040space rw master:4 - tmpfs tmpfs rw
`

func TestParse(t *testing.T) {
	table, err := mounttable.Parse(strings.NewReader(hostTable))
	require.NoError(t, err)

	assert.Equal(t, 9, table.Len())

	root := table.ByID(27)
	require.NotNil(t, root)
	assert.Equal(t, 1, root.ParentID)
	assert.Equal(t, 8, root.Major)
	assert.Equal(t, 1, root.Minor)
	assert.Equal(t, "/", root.Root)
	assert.Equal(t, "/", root.MountPoint)
	assert.Equal(t, []string{"rw", "relatime"}, root.Options)
	assert.Equal(t, []string{"shared:1"}, root.OptionalFields)
	assert.Equal(t, "ext4", root.FSType)
	assert.Equal(t, "/dev/sda1", root.Source)
	assert.Equal(t, []string{"rw", "errors=remount-ro"}, root.SuperOptions)

	escaped := table.ByID(33)
	require.NotNil(t, escaped)
	assert.Equal(t, "/mnt/with space", escaped.MountPoint)
	assert.Equal(t, "/dir", escaped.Root)
}

func TestParseEmptyInput(t *testing.T) {
	table, err := mounttable.Parse(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
}

func TestParseMalformed(t *testing.T) {
	scenarios := map[string]struct {
		line string
	}{
		"too few fields": {
			line: "36 35 98:0 /mnt1 /mnt2 rw - ext3",
		},
		"bad mount id": {
			line: "x 35 98:0 / /a rw - ext3 /dev/root rw",
		},
		"bad parent id": {
			line: "36 y 98:0 / /a rw - ext3 /dev/root rw",
		},
		"device without colon": {
			line: "36 35 98 /a /b rw - ext3 /dev/root rw extra",
		},
		"device with bad major": {
			line: "36 35 a:0 / /a rw - ext3 /dev/root rw",
		},
		"device with bad minor": {
			line: "36 35 98:b / /a rw - ext3 /dev/root rw",
		},
		"missing separator": {
			line: "36 35 98:0 / /a rw shared:1 ext3 /dev/root rw",
		},
		"truncated after separator": {
			line: "36 35 98:0 / /a rw shared:1 master:2 - ext3 /dev/root",
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			_, err := mounttable.Parse(strings.NewReader(data.line))
			assert.ErrorIs(t, err, mounttable.ErrMalformed)
		})
	}
}

func TestParseReportsLineNumber(t *testing.T) {
	input := "27 1 8:1 / / rw shared:1 - ext4 /dev/sda1 rw\nnot a mountinfo line\n"

	_, err := mounttable.Parse(strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, mounttable.ErrMalformed)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParseOptionalFieldVariance(t *testing.T) {
	scenarios := map[string]struct {
		line     string
		optional []string
	}{
		"no optional fields": {
			line:     "36 35 98:0 / /a rw - ext3 /dev/root rw",
			optional: []string{},
		},
		"one optional field": {
			line:     "36 35 98:0 / /a rw shared:5 - ext3 /dev/root rw",
			optional: []string{"shared:5"},
		},
		"multiple optional fields": {
			line:     "36 35 98:0 / /a rw shared:5 master:2 - ext3 /dev/root rw",
			optional: []string{"shared:5", "master:2"},
		},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			table, err := mounttable.Parse(strings.NewReader(data.line))
			require.NoError(t, err)
			require.Equal(t, 1, table.Len())

			assert.ElementsMatch(
				t,
				data.optional,
				table.ByID(36).OptionalFields,
			)
		})
	}
}

func TestEntryDevice(t *testing.T) {
	table, err := mounttable.Parse(strings.NewReader(hostTable))
	require.NoError(t, err)

	assert.Equal(t, "8:1", table.ByID(27).Device())
	assert.Equal(t, "0:19", table.ByID(21).Device())
}

func TestEntryShared(t *testing.T) {
	table, err := mounttable.Parse(strings.NewReader(hostTable))
	require.NoError(t, err)

	scenarios := map[string]struct {
		mountID int
		shared  bool
	}{
		"root with shared tag":        {mountID: 27, shared: true},
		"private mount":               {mountID: 28, shared: false},
		"master tag is not shared":    {mountID: 33, shared: false},
		"proc with shared tag":        {mountID: 21, shared: true},
		"nested private proc":         {mountID: 29, shared: false},
		"tmpfs with shared tag":       {mountID: 30, shared: true},
		"stacked mount without tags":  {mountID: 31, shared: false},
		"topmost stacked without tag": {mountID: 32, shared: false},
	}

	for scenario, data := range scenarios {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, data.shared, table.ByID(data.mountID).Shared())
		})
	}
}
