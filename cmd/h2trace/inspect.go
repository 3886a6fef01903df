package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrzor/h2trace/internal/bininspect"
	"github.com/mrzor/h2trace/internal/procinfo"
	"github.com/mrzor/h2trace/internal/procmem"
)

func newInspectCmd(a *app) *cobra.Command {
	var pid uint32
	cmd := &cobra.Command{
		Use:   "inspect [binary]",
		Short: "Show the Go version, calling convention and net.Conn itabs of a binary or process",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case pid != 0:
				return a.inspectProcess(cmd.OutOrStdout(), pid)
			case len(args) == 1:
				return inspectBinary(cmd.OutOrStdout(), args[0])
			default:
				return errors.New("inspect needs a binary path or --pid")
			}
		},
	}
	cmd.Flags().Uint32Var(&pid, "pid", 0, "inspect a running process instead of a file")
	return cmd
}

func inspectBinary(w io.Writer, path string) error {
	b, err := bininspect.InspectFile(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "binary:      %s\n", b.Path)
	fmt.Fprintf(w, "go version:  %s (table key %s)\n", b.GoVersion, b.BinaryVersion)
	fmt.Fprintf(w, "convention:  %s\n", b.Convention)
	fmt.Fprintf(w, "pie:         %t\n", b.PIE)
	printItabs(w, b.Itabs)
	return nil
}

func (a *app) inspectProcess(w io.Writer, pid uint32) error {
	store, err := a.offsetStore()
	if err != nil {
		return err
	}
	inspector, err := bininspect.NewInspector(a.cfg.ProcRoot, store)
	if err != nil {
		return err
	}

	procs := procinfo.NewManager()
	info, err := procs.Load(pid, inspector.Inspect)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "pid:         %d\n", info.Pid)
	fmt.Fprintf(w, "executable:  %s\n", info.Executable)
	fmt.Fprintf(w, "go version:  %s (table key %s)\n", info.GoVersion, info.BinaryVersion)
	fmt.Fprintf(w, "convention:  %s\n", info.Convention)
	printItabs(w, info.Itabs)

	// The itab's first word is its interface type pointer, so a readable,
	// non-zero word confirms the relocated address.
	mem := procmem.NewProcess(int(pid))
	if info.Itabs.TCPConn != 0 {
		word, err := procmem.ReadU64(mem, info.Itabs.TCPConn)
		fmt.Fprintf(w, "memory:      %s\n", readable(word, err))
	}

	if missing := store.Missing(info.BinaryVersion); len(missing) > 0 {
		fmt.Fprintf(w, "offsets:     %d fields have no offset for %s\n", len(missing), info.BinaryVersion)
	}
	return nil
}

func printItabs(w io.Writer, it procinfo.Itabs) {
	fmt.Fprintf(w, "itab %-45s %s\n", bininspect.TCPConnType, hexOrDash(it.TCPConn))
	fmt.Fprintf(w, "itab %-45s %s\n", bininspect.TLSConnType, hexOrDash(it.TLSConn))
	fmt.Fprintf(w, "itab %-45s %s\n", "grpc syscallConn", hexOrDash(it.SyscallConn))
}

func hexOrDash(v uint64) string {
	if v == 0 {
		return "-"
	}
	return "0x" + strconv.FormatUint(v, 16)
}

func readable(word uint64, err error) string {
	switch {
	case err != nil:
		return "unreadable: " + err.Error()
	case word == 0:
		return "readable, itab is empty"
	default:
		return "readable"
	}
}
