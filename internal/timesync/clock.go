package timesync

import (
	"golang.org/x/sys/unix"
)

// Clock returns CLOCK_MONOTONIC nanoseconds, the time base of event stamps.
type Clock func() uint64

// Monotonic reads CLOCK_MONOTONIC, the clock bpf_ktime_get_ns uses.
// It returns 0 if the clock cannot be read.
func Monotonic() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano()) //nolint:gosec // Monotonic time is non-negative
}
