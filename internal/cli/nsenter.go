package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/nixpig/nsutil/internal/operations"
	"github.com/nixpig/nsutil/internal/validation"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/spf13/cobra"
)

// fromTarget is the value an optional-argument flag takes when given
// bare, meaning derive the path from the target PID.
const fromTarget = "auto"

func nsenterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "nsenter [flags] [PROGRAM [ARGS...]]",
		Short:   "run a program in the namespaces of another process",
		Example: "  nsutil nsenter --target 1234 --mount --net --pid sh",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targetPID, _ := cmd.Flags().GetInt("target")
			all, _ := cmd.Flags().GetBool("all")
			root, _ := cmd.Flags().GetString("root")
			wd, _ := cmd.Flags().GetString("wd")
			uid, _ := cmd.Flags().GetInt("setuid")
			gid, _ := cmd.Flags().GetInt("setgid")
			preserveCredentials, _ := cmd.Flags().GetBool("preserve-credentials")
			noFork, _ := cmd.Flags().GetBool("no-fork")
			keepCaps, _ := cmd.Flags().GetBool("keep-caps")
			noNewPrivs, _ := cmd.Flags().GetBool("no-new-privs")
			cleanEnv, _ := cmd.Flags().GetBool("clean-env")
			keepEnv, _ := cmd.Flags().GetStringArray("keep-env")
			boundingSet, _ := cmd.Flags().GetStringArray("bounding-set")

			// A nil bounding set means leave it alone; an empty one
			// would drop every capability.
			if len(boundingSet) == 0 {
				boundingSet = nil
			}

			if cmd.Flags().Changed("setuid") {
				if err := validation.OwnerID("setuid", uid); err != nil {
					return err
				}
			}

			if cmd.Flags().Changed("setgid") {
				if err := validation.OwnerID("setgid", gid); err != nil {
					return err
				}
			}

			namespaces := make(map[specs.LinuxNamespaceType]string)

			for _, nf := range namespaceFlagKinds {
				if !cmd.Flags().Changed(nf.flag) {
					continue
				}

				path, _ := cmd.Flags().GetString(nf.flag)
				if path == fromTarget {
					path = ""
				}

				namespaces[nf.kind] = path
			}

			if root == fromTarget {
				if targetPID <= 0 {
					return errors.New(
						"--root without a directory requires --target",
					)
				}

				root = fmt.Sprintf("/proc/%d/root", targetPID)
			}

			if wd == fromTarget {
				if targetPID <= 0 {
					return errors.New(
						"--wd without a directory requires --target",
					)
				}

				wd = fmt.Sprintf("/proc/%d/cwd", targetPID)
			}

			code, err := operations.Nsenter(&operations.NsenterOpts{
				TargetPID:           targetPID,
				Namespaces:          namespaces,
				All:                 all,
				Root:                root,
				Wd:                  wd,
				UID:                 uid,
				GID:                 gid,
				PreserveCredentials: preserveCredentials,
				NoFork:              noFork,
				KeepCaps:            keepCaps,
				NoNewPrivs:          noNewPrivs,
				CleanEnv:            cleanEnv,
				KeepEnv:             keepEnv,
				BoundingSet:         boundingSet,
				Argv:                args,
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

	// Everything after the first positional belongs to the payload.
	cmd.Flags().SetInterspersed(false)

	for _, nf := range namespaceFlagKinds {
		cmd.Flags().StringP(nf.flag, nf.short, "", "Enter the "+nf.flag+" namespace, from the given file or the target")
		cmd.Flags().Lookup(nf.flag).NoOptDefVal = fromTarget
	}

	cmd.Flags().
		IntP("target", "t", 0, "PID of the process whose namespaces to enter")
	cmd.Flags().
		BoolP("all", "a", false, "Enter all namespaces of the target")
	cmd.Flags().
		StringP("root", "r", "", "Directory to chroot into, default the target's root")
	cmd.Flags().Lookup("root").NoOptDefVal = fromTarget
	cmd.Flags().
		StringP("wd", "w", "", "Working directory, default the target's")
	cmd.Flags().Lookup("wd").NoOptDefVal = fromTarget
	cmd.Flags().
		IntP("setuid", "S", -1, "UID to run the program as")
	cmd.Flags().
		IntP("setgid", "G", -1, "GID to run the program as")
	cmd.Flags().
		Bool("preserve-credentials", false, "Keep UID and GID when entering a user namespace")
	cmd.Flags().
		BoolP("no-fork", "F", false, "Exec the program directly instead of forking after entering a pid namespace")
	cmd.Flags().
		Bool("keep-caps", false, "Keep capabilities when entering a user namespace")
	cmd.Flags().
		Bool("no-new-privs", false, "Set no new privileges for the program")
	cmd.Flags().
		Bool("clean-env", false, "Reset the environment to a minimal allow-list")
	cmd.Flags().
		StringArray("keep-env", []string{}, "Variable to pass through with --clean-env")
	cmd.Flags().
		StringArray("bounding-set", []string{}, "Capability to retain in the bounding set, dropping the rest")

	return cmd
}
