package cli

import (
	"os"

	"github.com/nixpig/nsutil/internal/operations"
	"github.com/spf13/cobra"
)

func switchRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "switch_root NEW_ROOT INIT [INIT_ARGS...]",
		Short:   "switch to a new root filesystem and run init",
		Example: "  nsutil switch_root /sysroot /sbin/init",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			noUnmount, _ := cmd.Flags().GetBool("no-unmount")

			code, err := operations.SwitchRoot(&operations.SwitchRootOpts{
				NewRoot:   args[0],
				Init:      args[1],
				InitArgs:  args[2:],
				NoUnmount: noUnmount,
			})
			if err != nil {
				return err
			}

			if code != 0 {
				os.Exit(code)
			}

			return nil
		},
	}

	cmd.Flags().
		Bool("no-unmount", false, "Keep the old root contents instead of deleting them")

	return cmd
}
