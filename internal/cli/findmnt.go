package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/nixpig/nsutil/internal/mounttable"
	"github.com/spf13/cobra"
)

func findmntCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "findmnt [TARGET]",
		Short:   "list mounts of the current mount namespace",
		Example: "  nsutil findmnt /proc",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, _ := cmd.Flags().GetInt("task")

			var (
				table *mounttable.Table
				err   error
			)

			if task > 0 {
				table, err = mounttable.OfPID(task)
			} else {
				table, err = mounttable.Self()
			}

			if err != nil {
				return fmt.Errorf("read mount table: %w", err)
			}

			entries := table.Entries()

			if len(args) == 1 {
				resolved, err := mounttable.Canonical(args[0])
				if err != nil {
					return err
				}

				e := table.Lookup(resolved)
				if e == nil {
					return fmt.Errorf("%s is not in the mount table", args[0])
				}

				entries = []*mounttable.Entry{e}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintln(w, "TARGET\tSOURCE\tFSTYPE\tOPTIONS")

			for _, e := range entries {
				fmt.Fprintf(
					w, "%s\t%s\t%s\t%s\n",
					e.MountPoint, e.Source, e.FSType,
					strings.Join(e.Options, ","),
				)
			}

			return w.Flush()
		},
	}

	cmd.Flags().
		IntP("task", "N", 0, "Use the mount table of the process with this PID")

	return cmd
}
