package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var tapFlagPriority int

var tapCmd = &cobra.Command{
	Use:   "tap",
	Short: "Manage user package taps",
	Long: `Taps are git repositories of build recipes. They outrank every other
backend by default, so a tapped package shadows its repo counterpart.`,
}

var tapAddCmd = &cobra.Command{
	Use:   "add <name> <git-url>",
	Short: "Clone and register a tap",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		if err := reap.EnsureStateDirs(); err != nil {
			return err
		}
		return reap.AddTap(ctx, args[0], args[1], tapFlagPriority)
	},
}

var tapRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a tap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reap.RemoveTap(args[0])
	},
}

var tapSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull all taps",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		return reap.SyncTaps(ctx)
	},
}

var tapListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured taps",
	RunE: func(cmd *cobra.Command, args []string) error {
		taps := reap.DiscoverTaps()
		if len(taps) == 0 {
			fmt.Println("No taps configured")
			return nil
		}
		for _, tap := range taps {
			state := "enabled"
			if !tap.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-20s priority %3d  %-8s  %s\n", tap.Name, tap.Priority, state, tap.URL)
		}
		return nil
	},
}

func init() {
	tapAddCmd.Flags().IntVar(&tapFlagPriority, "priority", 0, "tap priority, higher shadows lower")

	tapCmd.AddCommand(tapAddCmd)
	tapCmd.AddCommand(tapRemoveCmd)
	tapCmd.AddCommand(tapSyncCmd)
	tapCmd.AddCommand(tapListCmd)

	RootCmd.AddCommand(tapCmd)
}
