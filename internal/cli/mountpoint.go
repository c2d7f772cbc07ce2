package cli

import (
	"fmt"
	"os"

	"github.com/nixpig/nsutil/internal/mounttable"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func mountpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mountpoint [flags] PATH",
		Short:   "check whether a path is a mountpoint",
		Example: "  nsutil mountpoint -q /mnt/newroot",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quiet, _ := cmd.Flags().GetBool("quiet")
			fsDevno, _ := cmd.Flags().GetBool("fs-devno")
			devno, _ := cmd.Flags().GetBool("devno")

			path := args[0]

			if devno {
				return printDeviceNumber(cmd, path)
			}

			resolved, err := mounttable.Canonical(path)
			if err != nil {
				return err
			}

			table, err := mounttable.Self()
			if err != nil {
				return fmt.Errorf("read mount table: %w", err)
			}

			if !table.IsMountPoint(resolved) {
				if !quiet {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is not a mountpoint\n", path)
				}

				os.Exit(1)
			}

			if fsDevno {
				fmt.Fprintln(cmd.OutOrStdout(), table.Lookup(resolved).Device())

				return nil
			}

			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is a mountpoint\n", path)
			}

			return nil
		},
	}

	cmd.Flags().
		BoolP("quiet", "q", false, "Report only through the exit status")
	cmd.Flags().
		BoolP("fs-devno", "d", false, "Print the device number of the filesystem on the mountpoint")
	cmd.Flags().
		BoolP("devno", "x", false, "Print the device number of a block device")

	return cmd
}

func printDeviceNumber(cmd *cobra.Command, path string) error {
	var st unix.Stat_t

	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return fmt.Errorf("%s is not a block device", path)
	}

	rdev := uint64(st.Rdev)

	fmt.Fprintf(
		cmd.OutOrStdout(), "%d:%d\n", unix.Major(rdev), unix.Minor(rdev),
	)

	return nil
}
