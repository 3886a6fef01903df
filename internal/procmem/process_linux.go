//go:build linux

package procmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Process reads memory of a live process with process_vm_readv(2).
// The caller needs CAP_SYS_PTRACE or the same credentials as the target.
type Process struct {
	pid int
}

// NewProcess returns a Reader for pid.
func NewProcess(pid int) *Process {
	return &Process{pid: pid}
}

// Pid returns the target process id.
func (p *Process) Pid() int {
	return p.pid
}

// ReadAt implements Reader. Partial transfers are reported as faults.
func (p *Process) ReadAt(dst []byte, addr uint64) error {
	if len(dst) == 0 {
		return nil
	}

	local := []unix.Iovec{{Base: &dst[0]}}
	local[0].SetLen(len(dst))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(dst)}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return fmt.Errorf("%w: pid %d at %#x: %v", ErrFault, p.pid, addr, err)
	}
	if n != len(dst) {
		return fmt.Errorf("%w: pid %d at %#x: short read %d/%d", ErrFault, p.pid, addr, n, len(dst))
	}
	return nil
}
