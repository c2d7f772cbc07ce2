package cli

import (
	"errors"
	"os"
	"slices"

	"github.com/nixpig/nsutil/internal/operations"
	"github.com/nixpig/nsutil/internal/platform"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// namespaceFlagKinds pairs the per-kind flag names shared by unshare
// and nsenter with their namespace kinds.
var namespaceFlagKinds = []struct {
	flag  string
	short string
	kind  specs.LinuxNamespaceType
}{
	{"mount", "m", specs.MountNamespace},
	{"uts", "u", specs.UTSNamespace},
	{"ipc", "i", specs.IPCNamespace},
	{"net", "n", specs.NetworkNamespace},
	{"pid", "p", specs.PIDNamespace},
	{"user", "U", specs.UserNamespace},
	{"cgroup", "C", specs.CgroupNamespace},
	{"time", "T", specs.TimeNamespace},
}

func unshareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "unshare [flags] [PROGRAM [ARGS...]]",
		Short:   "run a program in new namespaces",
		Example: "  nsutil unshare --mount --pid --fork --mount-proc sh",
		Args:    cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fork, _ := cmd.Flags().GetBool("fork")
			killChild, _ := cmd.Flags().GetString("kill-child")
			mountProc, _ := cmd.Flags().GetString("mount-proc")
			mapRootUser, _ := cmd.Flags().GetBool("map-root-user")
			mapUser, _ := cmd.Flags().GetInt("map-user")
			mapGroup, _ := cmd.Flags().GetInt("map-group")
			propagation, _ := cmd.Flags().GetString("propagation")
			root, _ := cmd.Flags().GetString("root")
			wd, _ := cmd.Flags().GetString("wd")
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

			var kinds []specs.LinuxNamespaceType

			for _, nf := range namespaceFlagKinds {
				if on, _ := cmd.Flags().GetBool(nf.flag); on {
					kinds = append(kinds, nf.kind)
				}
			}

			if mapRootUser {
				if mapUser >= 0 || mapGroup >= 0 {
					return errors.New(
						"--map-root-user conflicts with --map-user and --map-group",
					)
				}

				mapUser, mapGroup = 0, 0
			}

			var killSig unix.Signal

			if killChild != "" {
				sig, err := platform.ParseSignal(killChild)
				if err != nil {
					return err
				}

				killSig = sig
			}

			var offsets map[string]specs.LinuxTimeOffset

			for _, clock := range []string{"monotonic", "boottime"} {
				if !cmd.Flags().Changed(clock) {
					continue
				}

				secs, _ := cmd.Flags().GetInt64(clock)

				if offsets == nil {
					offsets = make(map[string]specs.LinuxTimeOffset)
				}

				offsets[clock] = specs.LinuxTimeOffset{Secs: secs}
			}

			// A fresh mount namespace is made private unless told
			// otherwise, so payload mounts cannot leak back out.
			hasMount := mountProc != "" ||
				slices.Contains(kinds, specs.MountNamespace)

			switch {
			case propagation == "unchanged":
				propagation = ""
			case propagation == "" && hasMount:
				propagation = "private"
			}

			code, err := operations.Unshare(&operations.UnshareOpts{
				Namespaces:  kinds,
				Fork:        fork,
				KillChild:   killSig,
				MountProc:   mountProc,
				MapUser:     mapUser,
				MapGroup:    mapGroup,
				Propagation: propagation,
				Root:        root,
				Wd:          wd,
				TimeOffsets: offsets,
				KeepCaps:    keepCaps,
				NoNewPrivs:  noNewPrivs,
				CleanEnv:    cleanEnv,
				KeepEnv:     keepEnv,
				BoundingSet: boundingSet,
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

	// Everything after the first positional belongs to the payload.
	cmd.Flags().SetInterspersed(false)

	for _, nf := range namespaceFlagKinds {
		cmd.Flags().BoolP(nf.flag, nf.short, false, "Unshare the "+nf.flag+" namespace")
	}

	cmd.Flags().
		BoolP("fork", "f", false, "Fork the program as a child process")
	cmd.Flags().
		String("kill-child", "", "Signal to send to the child when unshare dies")
	cmd.Flags().Lookup("kill-child").NoOptDefVal = "SIGKILL"
	cmd.Flags().
		String("mount-proc", "", "Mount a fresh procfs (implies --mount and --fork)")
	cmd.Flags().Lookup("mount-proc").NoOptDefVal = "/proc"
	cmd.Flags().
		BoolP("map-root-user", "r", false, "Map the current user to root (implies --user)")
	cmd.Flags().
		Int("map-user", -1, "Map the current user to the given UID (implies --user)")
	cmd.Flags().
		Int("map-group", -1, "Map the current group to the given GID (implies --user)")
	cmd.Flags().
		String("propagation", "", "Mount propagation in the new namespace (shared | private | slave | unchanged)")
	cmd.Flags().
		String("root", "", "Directory to chroot into")
	cmd.Flags().
		String("wd", "", "Working directory for the program")
	cmd.Flags().
		Int64("monotonic", 0, "Offset for CLOCK_MONOTONIC in the new time namespace, in seconds")
	cmd.Flags().
		Int64("boottime", 0, "Offset for CLOCK_BOOTTIME in the new time namespace, in seconds")
	cmd.Flags().
		Bool("keep-caps", false, "Keep capabilities across the user namespace transition")
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
