package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wasmtoolchain/internal/lockfile"
)

const defaultLockFile = "wasmtoolchain.lock"

var (
	lockBundle    string
	lockPlatforms []string
	lockOutput    string
	lockCheck     bool
)

func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Pin every tool of a bundle to its registry digest",
		Long: `Lock writes the tool, version, platform and digest of every tool in the
bundle without downloading anything. With --check the existing lock is
compared instead and any drift is an error.`,
		Args: cobra.NoArgs,
		RunE: runLock,
	}

	cmd.Flags().StringVar(&lockBundle, "bundle", "", "Bundle to lock (default: configured default bundle)")
	cmd.Flags().StringSliceVar(&lockPlatforms, "platform", nil, "Platform to lock (repeat for several; default: host)")
	cmd.Flags().StringVarP(&lockOutput, "out", "o", defaultLockFile, "Lock file path")
	cmd.Flags().BoolVar(&lockCheck, "check", false, "Fail if the lock file is out of date instead of writing it")

	cmd.AddCommand(newLockDiffCmd())
	return cmd
}

func newLockDiffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "Show pins that differ between two lock files",
		Args:  cobra.ExactArgs(2),
		RunE:  runLockDiff,
	}
}

func runLock(cmd *cobra.Command, _ []string) error {
	env, err := openSession(cmd, sessionSetup{console: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer env.Close()

	next, err := env.session.Lock(lockBundle, lockPlatforms...)
	if err != nil {
		return err
	}

	if lockCheck {
		current, err := lockfile.Read(lockOutput)
		if err != nil {
			return err
		}
		changes := lockfile.Diff(current, next)
		if err := writeChanges(cmd, changes); err != nil {
			return err
		}
		if len(changes) > 0 {
			return fmt.Errorf("%s is out of date: %d change(s)", lockOutput, len(changes))
		}
		return nil
	}

	if err := lockfile.Write(lockOutput, next); err != nil {
		return err
	}
	digest, err := next.Digest()
	if err != nil {
		return err
	}
	if outputJSON {
		return writeJSON(cmd, struct {
			Path   string        `json:"path"`
			Digest string        `json:"digest"`
			Lock   lockfile.Lock `json:"lock"`
		}{lockOutput, digest, next})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d entries, %s)\n", lockOutput, len(next.Entries), digest)
	return nil
}

func runLockDiff(cmd *cobra.Command, args []string) error {
	old, err := lockfile.Read(args[0])
	if err != nil {
		return err
	}
	next, err := lockfile.Read(args[1])
	if err != nil {
		return err
	}
	return writeChanges(cmd, lockfile.Diff(old, next))
}

func writeChanges(cmd *cobra.Command, changes []lockfile.Change) error {
	if outputJSON {
		if changes == nil {
			changes = []lockfile.Change{}
		}
		return writeJSON(cmd, changes)
	}
	if len(changes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No changes.")
		return nil
	}
	for _, c := range changes {
		fmt.Fprintln(cmd.OutOrStdout(), c.String())
	}
	return nil
}
