// Package goabi reads the arguments of an intercepted Go function from a
// probe's register snapshot.
//
// Go 1.17 switched amd64 from the stack-based ABI0 to the register-based
// ABIInternal. Integer arguments are assigned RAX, RBX, RCX, RDI, RSI, R8,
// R9, R10, R11 in order; under ABI0 the same words live above the return
// address at RSP+8, RSP+16 and so on. Stack offsets are not always a plain
// word index because ABI0 packs small arguments, so every call site names
// both locations explicitly with a Loc.
package goabi

import (
	"github.com/hashicorp/go-version"

	"github.com/mrzor/h2trace/internal/procmem"
)

// Regs is the amd64 register snapshot taken when a probe fires.
type Regs struct {
	RAX uint64
	RBX uint64
	RCX uint64
	RDX uint64
	RDI uint64
	RSI uint64
	R8  uint64
	R9  uint64
	R10 uint64
	R11 uint64
	RSP uint64
	RIP uint64
}

// Reg names an integer argument register.
type Reg uint8

// Argument registers in ABIInternal assignment order.
const (
	RAX Reg = iota
	RBX
	RCX
	RDI
	RSI
	R8
	R9
	R10
	R11
)

var regNames = [...]string{"rax", "rbx", "rcx", "rdi", "rsi", "r8", "r9", "r10", "r11"}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "reg?"
}

// Value returns the register's contents in regs.
func (r Reg) Value(regs *Regs) uint64 {
	switch r {
	case RAX:
		return regs.RAX
	case RBX:
		return regs.RBX
	case RCX:
		return regs.RCX
	case RDI:
		return regs.RDI
	case RSI:
		return regs.RSI
	case R8:
		return regs.R8
	case R9:
		return regs.R9
	case R10:
		return regs.R10
	case R11:
		return regs.R11
	default:
		return 0
	}
}

// Convention is the argument passing convention of a traced binary.
type Convention uint8

const (
	// StackABI is ABI0: arguments on the stack above the return address.
	StackABI Convention = iota
	// RegisterABI is ABIInternal as used on amd64 since Go 1.17.
	RegisterABI
)

func (c Convention) String() string {
	if c == RegisterABI {
		return "register"
	}
	return "stack"
}

// RegisterABIVersion is the first Go release using RegisterABI on amd64.
var RegisterABIVersion = version.Must(version.NewVersion("1.17.0"))

// ConventionFor picks the convention of a binary built with Go v.
// An unknown version is assumed to be modern.
func ConventionFor(v *version.Version) Convention {
	if v == nil || v.GreaterThanOrEqual(RegisterABIVersion) {
		return RegisterABI
	}
	return StackABI
}

// Loc is where one argument word lives under each convention.
type Loc struct {
	Reg   Reg
	Stack uint64 // offset from RSP
}

// Receiver is the location of a method receiver or first argument.
var Receiver = Loc{Reg: RAX, Stack: 8}

// Args reads arguments for one probe invocation.
type Args struct {
	regs *Regs
	mem  procmem.Reader
	conv Convention
}

// NewArgs binds a register snapshot and the stack's address space.
func NewArgs(regs *Regs, mem procmem.Reader, conv Convention) Args {
	return Args{regs: regs, mem: mem, conv: conv}
}

// Convention returns the convention in use.
func (a Args) Convention() Convention {
	return a.conv
}

// Receiver returns the receiver pointer of the intercepted method.
func (a Args) Receiver() uint64 {
	return a.Word(Receiver)
}

// Word returns the 8-byte argument at loc. Whatever value is found is
// returned as-is; a stack slot that cannot be read yields 0.
func (a Args) Word(loc Loc) uint64 {
	if a.conv == RegisterABI {
		return loc.Reg.Value(a.regs)
	}
	v, err := procmem.ReadU64(a.mem, a.regs.RSP+loc.Stack)
	if err != nil {
		return 0
	}
	return v
}

// U32 returns the low 32 bits of the argument at loc.
func (a Args) U32(loc Loc) uint32 {
	if a.conv == RegisterABI {
		return uint32(loc.Reg.Value(a.regs)) //nolint:gosec // Truncation to the argument width
	}
	v, err := procmem.ReadU32(a.mem, a.regs.RSP+loc.Stack)
	if err != nil {
		return 0
	}
	return v
}

// String returns a string argument spread over two words.
func (a Args) String(ptr, length Loc) procmem.String {
	return procmem.String{Ptr: a.Word(ptr), Len: a.Word(length)}
}

// Slice returns a slice argument spread over three words.
func (a Args) Slice(ptr, length, capacity Loc) procmem.Slice {
	return procmem.Slice{Ptr: a.Word(ptr), Len: a.Word(length), Cap: a.Word(capacity)}
}
