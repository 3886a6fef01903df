// Package procinfo caches what the pipeline knows about each traced process.
//
// ProcessInfo holds the Go version and calling convention of the binary, the
// offset table key, and the itab addresses used to tell concrete net.Conn
// types apart. It is filled once per process and then only read.
//
// Manager provides command-query separation:
//
// Queries (read-only):
//   - Get(pid) - Retrieve process info
//   - GetError(pid) - Retrieve the inspection error
//   - Len() - Number of cached processes
//
// Commands (mutations):
//   - Set(pid, info) - Store process info
//   - SetError(pid, err) - Remember a failed inspection
//   - Delete(pid) - Clean up on process exit
//   - Load(pid, inspect) - Get, or inspect once and store
//
// Thread-safe with RWMutex for concurrent access.
package procinfo
