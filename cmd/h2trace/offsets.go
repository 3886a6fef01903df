package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrzor/h2trace/internal/offsets"
)

func newOffsetsCmd(_ *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offsets",
		Short: "Work with struct offset tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "fields",
		Short: "List the fields an offset table can set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			defaults := offsets.Defaults()
			for _, f := range offsets.Known() {
				if off, ok := defaults[f]; ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%-70s %#x\n", f, off)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%-70s -\n", f)
				}
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Parse an offset table and report fields left unresolved per binary version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := offsets.Load(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			versions := store.Versions()
			if len(versions) == 0 {
				fmt.Fprintln(w, "no per-binary tables, defaults only")
			}
			incomplete := 0
			for _, v := range versions {
				missing := store.Missing(v)
				if len(missing) == 0 {
					fmt.Fprintf(w, "%s: complete\n", v)
					continue
				}
				incomplete++
				fmt.Fprintf(w, "%s: %d unresolved\n", v, len(missing))
				for _, f := range missing {
					fmt.Fprintf(w, "  %s\n", f)
				}
			}
			if incomplete > 0 {
				return fmt.Errorf("%d of %d binary versions are incomplete", incomplete, len(versions))
			}
			return nil
		},
	})
	return cmd
}
