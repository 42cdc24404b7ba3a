package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var upgradeFlagCheck bool

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [package]...",
	Short: "Upgrade outdated packages in one transaction",
	Long: `Compare the installed set against the best available versions and
upgrade what is outdated. With no arguments the whole system is
upgraded; naming packages restricts the batch. The entire batch shares
one snapshot and one rollback point.`,
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().BoolVar(&upgradeFlagCheck, "check", false, "only list available upgrades")

	RootCmd.AddCommand(upgradeCmd)
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	if upgradeFlagCheck {
		updates, err := session.Outdated(ctx)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			fmt.Println("Everything is up to date")
			return nil
		}
		for _, u := range updates {
			fmt.Printf("%s/%s %s\n", u.Origin.Label(), u.Name, u.Version)
		}
		return nil
	}

	return session.Upgrade(ctx, args, reap.InstallOptions{})
}
