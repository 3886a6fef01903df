package main

import (
	"fmt"
	"strconv"

	"github.com/prometheus/procfs"
	"github.com/spf13/cobra"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/sockctx"
)

func newSocketsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sockets <pid>",
		Short: "List the TCP and UDP sockets of a process as the pipeline classifies them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("parsing pid %q: %w", args[0], err)
			}

			fs, err := procfs.NewFS(a.cfg.ProcRoot)
			if err != nil {
				return fmt.Errorf("opening procfs: %w", err)
			}
			proc, err := fs.Proc(int(pid))
			if err != nil {
				return fmt.Errorf("reading process %d: %w", pid, err)
			}
			fds, err := proc.FileDescriptors()
			if err != nil {
				return fmt.Errorf("listing descriptors of %d: %w", pid, err)
			}

			sockets := sockctx.NewProcSockets(a.cfg.ProcRoot)
			w := cmd.OutOrStdout()
			for _, fd := range fds {
				info, ok := sockets.Socket(uint32(pid), int32(fd)) //nolint:gosec // Descriptors fit in int32
				if !ok {
					continue
				}
				proto := "tcp"
				if info.L4Protocol == bpf.IPPROTO_UDP {
					proto = "udp"
				}
				fmt.Fprintf(w, "fd %-5d %s %s -> %s\n", fd, proto, info.Local, info.Remote)
			}
			return nil
		},
	}
}
