package cli

import (
	"github.com/nixpig/nsutil/internal/operations"
	"github.com/spf13/cobra"
)

func pivotRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "pivot_root NEW_ROOT PUT_OLD",
		Short:   "change the root filesystem of the current mount namespace",
		Example: "  nsutil pivot_root /mnt/newroot /mnt/newroot/oldroot",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return operations.PivotRoot(&operations.PivotRootOpts{
				NewRoot: args[0],
				PutOld:  args[1],
			})
		},
	}

	return cmd
}
