// Package procmem reads Go runtime values out of a traced process.
//
// Every read is bounded and fallible. A read that touches an unmapped or
// obviously invalid address returns ErrFault, and callers treat that as
// absent data rather than propagating whatever bytes happen to be there.
//
// Two Readers are provided:
//   - Process reads a live pid through process_vm_readv(2)
//   - Image is a sparse in-memory address space used for replay and tests
//
// The typed helpers (ReadPtr, ReadIface, ReadString, ReadSlice) decode the
// amd64 layouts of Go pointers, interface values, strings and slices.
package procmem
