package timesync

import (
	"fmt"
	"time"

	"github.com/prometheus/procfs"
)

// Converter handles conversion from monotonic timestamps to wall-clock time.
type Converter struct {
	bootTime time.Time
}

// NewConverter creates a new time converter.
// It reads the system boot time from /proc/stat.
// If reading fails, it estimates boot time from the monotonic clock.
func NewConverter() (*Converter, error) {
	bootTime, err := getSystemBootTime(procfs.DefaultMountPoint)
	if err != nil {
		// Fallback: now minus time since boot on the monotonic clock
		bootTime = time.Now().Add(-time.Duration(Monotonic())) //nolint:gosec // Uptime fits in int64
	}

	return &Converter{
		bootTime: bootTime,
	}, nil
}

// NewConverterAt returns a converter with a fixed boot time.
func NewConverterAt(bootTime time.Time) *Converter {
	return &Converter{bootTime: bootTime}
}

// MonotonicToWallClock converts a monotonic timestamp (nanoseconds since boot) to wall-clock time.
// This is a pure function that performs the conversion based on the boot time captured at initialization.
func (c *Converter) MonotonicToWallClock(monotonicNanos uint64) time.Time {
	//nolint:gosec // uint64 to int64 conversion for time.Duration is safe for reasonable timestamps
	return c.bootTime.Add(time.Duration(monotonicNanos))
}

// BootTime returns the system boot time used for conversions.
func (c *Converter) BootTime() time.Time {
	return c.bootTime
}

// getSystemBootTime reads btime from <procRoot>/stat.
func getSystemBootTime(procRoot string) (time.Time, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return time.Time{}, fmt.Errorf("opening procfs at %s: %w", procRoot, err)
	}
	stat, err := fs.Stat()
	if err != nil {
		return time.Time{}, fmt.Errorf("reading stat: %w", err)
	}
	if stat.BootTime == 0 {
		return time.Time{}, fmt.Errorf("btime not found in stat")
	}
	return time.Unix(int64(stat.BootTime), 0), nil //nolint:gosec // Seconds since epoch
}
