// Package timesync provides the monotonic clock events are stamped with and
// converts those stamps to wall-clock time.
//
// Events carry CLOCK_MONOTONIC nanoseconds, the same base the kernel-side
// tracer uses. Consumers convert them to absolute time by adding the system
// boot time read from /proc/stat.
package timesync
