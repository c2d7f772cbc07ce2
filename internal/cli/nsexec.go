package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nixpig/nsutil/internal/operations"
	"github.com/nixpig/nsutil/internal/platform"
	"github.com/spf13/cobra"
)

func nsexecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "nsexec [flags] -- PROGRAM [ARGS...]",
		Short:  "\n \033[31m ⚠ FOR INTERNAL USE ONLY - DO NOT RUN DIRECTLY ⚠ \033[0m",
		Args:   cobra.ArbitraryArgs,
		Hidden: true, // this command is only used internally
		RunE: func(cmd *cobra.Command, args []string) error {
			nsFDs, _ := cmd.Flags().GetStringArray("ns-fd")
			propagation, _ := cmd.Flags().GetString("propagation")
			mountProc, _ := cmd.Flags().GetString("mount-proc")
			root, _ := cmd.Flags().GetString("root")
			rootFD, _ := cmd.Flags().GetInt("root-fd")
			wd, _ := cmd.Flags().GetString("wd")
			wdFD, _ := cmd.Flags().GetInt("wd-fd")
			uid, _ := cmd.Flags().GetInt("uid")
			gid, _ := cmd.Flags().GetInt("gid")
			keepCaps, _ := cmd.Flags().GetBool("keep-caps")
			noNewPrivs, _ := cmd.Flags().GetBool("no-new-privs")
			cleanEnv, _ := cmd.Flags().GetBool("clean-env")
			keepEnv, _ := cmd.Flags().GetStringArray("keep-env")
			boundingSet, _ := cmd.Flags().GetStringArray("bounding-set")
			fork, _ := cmd.Flags().GetBool("fork")

			if len(boundingSet) == 0 {
				boundingSet = nil
			}

			namespaces := make([]operations.StageNamespace, 0, len(nsFDs))

			for _, nsFD := range nsFDs {
				name, fdValue, found := strings.Cut(nsFD, "=")

				kind, ok := platform.KindFromName(name)
				if !found || !ok {
					return fmt.Errorf("invalid namespace descriptor %q", nsFD)
				}

				fd, err := strconv.Atoi(fdValue)
				if err != nil {
					return fmt.Errorf("invalid namespace descriptor %q: %w", nsFD, err)
				}

				namespaces = append(namespaces, operations.StageNamespace{
					Kind: kind,
					FD:   fd,
				})
			}

			code, err := operations.ExecStage(&operations.ExecStageOpts{
				Namespaces:  namespaces,
				Propagation: propagation,
				MountProc:   mountProc,
				Root:        root,
				RootFD:      rootFD,
				Wd:          wd,
				WdFD:        wdFD,
				UID:         uid,
				GID:         gid,
				KeepCaps:    keepCaps,
				NoNewPrivs:  noNewPrivs,
				CleanEnv:    cleanEnv,
				KeepEnv:     keepEnv,
				BoundingSet: boundingSet,
				Fork:        fork,
				Argv:        args,
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

	cmd.Flags().StringArray("ns-fd", []string{}, "")
	cmd.Flags().String("propagation", "", "")
	cmd.Flags().String("mount-proc", "", "")
	cmd.Flags().String("root", "", "")
	cmd.Flags().Int("root-fd", -1, "")
	cmd.Flags().String("wd", "", "")
	cmd.Flags().Int("wd-fd", -1, "")
	cmd.Flags().Int("uid", -1, "")
	cmd.Flags().Int("gid", -1, "")
	cmd.Flags().Bool("keep-caps", false, "")
	cmd.Flags().Bool("no-new-privs", false, "")
	cmd.Flags().Bool("clean-env", false, "")
	cmd.Flags().StringArray("keep-env", []string{}, "")
	cmd.Flags().StringArray("bounding-set", []string{}, "")
	cmd.Flags().Bool("fork", false, "")

	return cmd
}
