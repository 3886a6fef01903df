// Package probectx carries the state of a single probe invocation.
//
// A Context is created by the probe host each time an intercepted function
// fires and is discarded afterwards. The wrapped-socket flag lives here
// rather than in a shared cell, so concurrently firing probes on different
// threads never observe each other's state.
package probectx

import (
	"github.com/mrzor/h2trace/internal/goabi"
	"github.com/mrzor/h2trace/internal/offsets"
	"github.com/mrzor/h2trace/internal/procinfo"
	"github.com/mrzor/h2trace/internal/procmem"
)

// Context is one probe invocation.
type Context struct {
	Regs goabi.Regs
	Mem  procmem.Reader
	Proc *procinfo.ProcessInfo

	Tgid uint32 // process id
	Pid  uint32 // thread id
	GoID uint64 // goroutine id from the scheduler introspection service

	tls bool
}

// New returns a Context for a probe that fired on thread pid of process tgid.
func New(proc *procinfo.ProcessInfo, mem procmem.Reader, regs goabi.Regs, tgid, pid uint32, goid uint64) *Context {
	return &Context{
		Regs: regs,
		Mem:  mem,
		Proc: proc,
		Tgid: tgid,
		Pid:  pid,
		GoID: goid,
	}
}

// Args returns an argument reader using the process's calling convention.
func (c *Context) Args() goabi.Args {
	conv := goabi.RegisterABI
	if c.Proc != nil {
		conv = c.Proc.Convention
	}
	return goabi.NewArgs(&c.Regs, c.Mem, conv)
}

// Offset resolves a symbolic field for the traced binary.
func (c *Context) Offset(f offsets.Field) (uint64, bool) {
	return c.Proc.Offset(f)
}

// Field returns base plus the offset of f.
func (c *Context) Field(base uint64, f offsets.Field) (uint64, bool) {
	off, ok := c.Offset(f)
	if !ok {
		return 0, false
	}
	return base + off, true
}

// TLS reports whether the connection resolved in this invocation went
// through a TLS layer.
func (c *Context) TLS() bool {
	return c.tls
}

// SetTLS records whether the resolved connection is TLS.
func (c *Context) SetTLS(v bool) {
	c.tls = v
}

// Itabs returns the itab addresses of the traced process.
func (c *Context) Itabs() procinfo.Itabs {
	if c.Proc == nil {
		return procinfo.Itabs{}
	}
	return c.Proc.Itabs
}
