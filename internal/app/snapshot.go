package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage package-state snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create [reason]",
	Short: "Capture the current package state",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, err := newSession()
		if err != nil {
			return err
		}
		defer session.Close()

		reason := "manual"
		if len(args) == 1 {
			reason = args[0]
		}
		meta, err := session.Snapshots.Checkpoint(ctx, reason, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshot %s created (%d packages)\n", meta.ID, meta.PackageCount)
		return nil
	},
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove snapshots beyond the retention policy",
	Long: `Delete snapshots past the configured keep count and age. Snapshots
referenced by an in-flight transaction are never removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, err := newSession()
		if err != nil {
			return err
		}
		defer session.Close()

		removed, err := session.Snapshots.Prune(ctx)
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Println("Nothing to prune")
			return nil
		}
		for _, id := range removed {
			fmt.Printf("Pruned snapshot %s\n", id)
		}
		return nil
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export <snapshot-id>",
	Short: "Upload a snapshot to the configured remote bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, err := newSession()
		if err != nil {
			return err
		}
		defer session.Close()

		return reap.ExportSnapshot(ctx, sessionConfig, session.Store, args[0])
	},
}

var snapshotImportCmd = &cobra.Command{
	Use:   "import <snapshot-id>",
	Short: "Download a snapshot from the configured remote bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		session, err := newSession()
		if err != nil {
			return err
		}
		defer session.Close()

		return reap.ImportSnapshot(ctx, sessionConfig, session.Store, session.Snapshots, args[0])
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)

	RootCmd.AddCommand(snapshotCmd)
}
