package platform

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/opencontainers/runtime-spec/specs-go"
)

var ErrInvalidClock = errors.New("invalid clock")

// SetTimeOffsets sets the clock offsets for the time namespace. It must
// be called on the thread that unshared the time namespace, before the
// first process is created in it; the kernel rejects writes to
// timens_offsets once the namespace has a member. The thread-self path
// keeps the write on the unsharing thread's namespace rather than the
// thread group leader's.
func SetTimeOffsets(offsets map[string]specs.LinuxTimeOffset) error {
	var tos bytes.Buffer

	clocks := make([]string, 0, len(offsets))
	for clock := range offsets {
		clocks = append(clocks, clock)
	}
	slices.Sort(clocks)

	for _, clock := range clocks {
		timeOffset, err := parseTimeOffset(offsets[clock], clock)
		if err != nil {
			return fmt.Errorf("parse time offset: %w", err)
		}

		if _, err := tos.WriteString(timeOffset); err != nil {
			return fmt.Errorf("write time offset: %w", err)
		}
	}

	if err := os.WriteFile(
		"/proc/thread-self/timens_offsets", tos.Bytes(), 0o644,
	); err != nil {
		return fmt.Errorf("write timens offsets: %w", err)
	}

	return nil
}

func parseTimeOffset(offset specs.LinuxTimeOffset, clock string) (string, error) {
	if clock != "monotonic" && clock != "boottime" {
		return "", ErrInvalidClock
	}

	return fmt.Sprintf("%s %d %d\n", clock, offset.Secs, offset.Nanosecs), nil
}
