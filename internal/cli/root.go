// Package cli wires the namespace and root transition tools into one
// multi-call command tree. Each front-end parses its own flag surface
// and hands off to the matching operation.
package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/nixpig/nsutil/internal/logging"
	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nsutil",
		Short:   "Linux namespace and root transition tools",
		Long:    "Linux namespace and root transition tools: pivot_root, switch_root, unshare and nsenter behind one engine",
		Example: "",
		// TODO: Bake version in at build time.
		Version:      "0.0.1",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logFile, _ := cmd.Flags().GetString("log")
			debug, _ := cmd.Flags().GetBool("debug")
			logFormat, _ := cmd.Flags().GetString("log-format")

			w := io.Discard
			if logFile != "" {
				f, err := logging.OpenLogFile(logFile)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to open log file '%s': %s", logFile, err)
				} else {
					w = f
				}
			}

			slog.SetDefault(logging.NewLogger(w, debug, logFormat))

			return nil
		},
	}

	cmd.AddCommand(
		pivotRootCmd(),
		switchRootCmd(),
		unshareCmd(),
		nsenterCmd(),
		nsexecCmd(),
		mountpointCmd(),
		findmntCmd(),
	)

	cmd.PersistentFlags().StringP("log", "l", "", "destination to write logs")
	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().StringP("log-format", "", "text", "log format (json | text)")

	cmd.CompletionOptions.HiddenDefaultCmd = true

	return cmd
}
