// Package bininspect reads what the probe pipeline needs to know about a Go
// binary: its toolchain version, which selects the calling convention and
// the offset table, and the runtime addresses of the net.Conn itabs the
// connection resolver compares interface tags against.
//
// Itab symbols are named "go:itab.<concrete>,<interface>" ("go.itab." before
// Go 1.20). For position-independent executables the symbol values are
// shifted by the load bias read from the process's memory maps.
package bininspect
