// Package mounttable parses /proc/<pid>/mountinfo into an immutable
// snapshot that can be queried for mount relationships. Queries are pure
// functions over the snapshot; they never touch the filesystem.
package mounttable

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a mountinfo line cannot be parsed.
var ErrMalformed = errors.New("malformed mountinfo")

// minFields is the field count of a mountinfo line with no optional
// fields: mount ID, parent ID, major:minor, root, mount point, options,
// the '-' separator, fstype, source and super options.
const minFields = 10

// Entry is a single row of a mountinfo table.
type Entry struct {
	// MountID is the unique ID of the mount.
	MountID int
	// ParentID is the MountID of the parent mount.
	ParentID int
	// Major and Minor identify the device backing the mount.
	Major, Minor int
	// Root is the pathname of the directory in the filesystem which forms
	// the root of this mount.
	Root string
	// MountPoint is the pathname of the mount point relative to the
	// process' root directory.
	MountPoint string
	// Options holds the per-mount options.
	Options []string
	// OptionalFields holds zero or more propagation tags of the form
	// shared:N, master:N, propagate_from:N or unbindable.
	OptionalFields []string
	// FSType is the filesystem type in the form "type[.subtype]".
	FSType string
	// Source is filesystem-specific information, or "none".
	Source string
	// SuperOptions holds the per-superblock options.
	SuperOptions []string
}

// Device returns the major:minor device number of the entry as a string.
func (e *Entry) Device() string {
	return fmt.Sprintf("%d:%d", e.Major, e.Minor)
}

// Shared reports whether the entry is a member of a shared peer group.
func (e *Entry) Shared() bool {
	for _, f := range e.OptionalFields {
		if strings.HasPrefix(f, "shared:") {
			return true
		}
	}

	return false
}

// Table is an ordered mountinfo snapshot. Entries appear in the order the
// kernel reported them, which is mount order; for stacked mounts the
// later entry is the one on top.
type Table struct {
	entries []*Entry
	byID    map[int]*Entry
}

// Parse reads mountinfo lines from r and builds a Table. Lines that do
// not conform to the mountinfo format yield an error wrapping
// ErrMalformed with the offending line number.
func Parse(r io.Reader) (*Table, error) {
	table := &Table{byID: make(map[int]*Entry)}

	scanner := bufio.NewScanner(r)
	lineno := 0

	for scanner.Scan() {
		lineno++

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}

		table.entries = append(table.entries, entry)
		table.byID[entry.MountID] = entry
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mountinfo: %w", err)
	}

	return table, nil
}

// ParseFile parses the mountinfo file at the given path.
func ParseFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mountinfo: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Self returns a snapshot of the calling process' mount table.
func Self() (*Table, error) {
	return ParseFile("/proc/self/mountinfo")
}

// OfPID returns a snapshot of the mount table of the process with the
// given PID, as seen through procfs.
func OfPID(pid int) (*Table, error) {
	return ParseFile(fmt.Sprintf("/proc/%d/mountinfo", pid))
}

func parseLine(line string) (*Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return nil, fmt.Errorf(
			"%w: expected at least %d fields, got %d",
			ErrMalformed, minFields, len(fields),
		)
	}

	mountID, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad mount ID %q", ErrMalformed, fields[0])
	}

	parentID, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad parent ID %q", ErrMalformed, fields[1])
	}

	major, minor, err := parseDevice(fields[2])
	if err != nil {
		return nil, err
	}

	// Optional fields run from field 7 up to the '-' separator.
	sep := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			sep = i
			break
		}
	}
	if sep == -1 {
		return nil, fmt.Errorf("%w: missing '-' separator", ErrMalformed)
	}
	if len(fields) < sep+4 {
		return nil, fmt.Errorf(
			"%w: expected fstype, source and super options after separator",
			ErrMalformed,
		)
	}

	return &Entry{
		MountID:        mountID,
		ParentID:       parentID,
		Major:          major,
		Minor:          minor,
		Root:           unescape(fields[3]),
		MountPoint:     unescape(fields[4]),
		Options:        strings.Split(fields[5], ","),
		OptionalFields: fields[6:sep],
		FSType:         fields[sep+1],
		Source:         unescape(fields[sep+2]),
		SuperOptions:   strings.Split(fields[sep+3], ","),
	}, nil
}

func parseDevice(dev string) (int, int, error) {
	majorStr, minorStr, ok := strings.Cut(dev, ":")
	if !ok {
		return 0, 0, fmt.Errorf(
			"%w: bad device number %q", ErrMalformed, dev,
		)
	}

	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad device major %q", ErrMalformed, majorStr)
	}

	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad device minor %q", ErrMalformed, minorStr)
	}

	return major, minor, nil
}

// unescape decodes the \ooo octal escapes the kernel uses for space, tab,
// newline and backslash in mountinfo path fields.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) &&
			isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			sb.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}

		sb.WriteByte(s[i])
	}

	return sb.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
