package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackFlagList bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback [snapshot-id]",
	Short: "Restore the system to a snapshot",
	Long: `Restore the package state captured by a snapshot. Without an ID the
most recent snapshot is used. Restoring is idempotent: re-running the
same rollback does nothing once the state matches.`,
	Example: `  reap rollback --list
  reap rollback
  reap rollback 3f8a1c2e-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackFlagList, "list", false, "list available snapshots")

	RootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	if rollbackFlagList {
		metas, err := session.Store.ListSnapshots()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("No snapshots recorded")
			return nil
		}
		for _, meta := range metas {
			fmt.Printf("%s  %s  %3d pkgs  %s\n",
				meta.ID, meta.CreatedAt.Format("2006-01-02 15:04:05"), meta.PackageCount, meta.Reason)
		}
		return nil
	}

	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	return session.Rollback(ctx, id)
}
