package app

import (
	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var (
	flagDebug   bool
	flagVerbose bool
	flagConfig  string
)

// RootCmd is the root command for reap.
var RootCmd = &cobra.Command{
	Use:   "reap",
	Short: "Unified package management for Arch Linux",
	Long: `reap installs, upgrades and rolls back packages across the official
repositories, the AUR, chaotic-aur, flatpak and user taps through one
interface.

Every install is a transaction: the package set is resolved into a
dependency plan, audited for trust, built in a sandbox when it comes
from source, and checkpointed so a failure restores the previous
state automatically.

Examples:
  # Search everywhere at once
  reap search ripgrep

  # Install, pinning one package to the AUR
  reap install ripgrep aur/yay

  # Upgrade everything with one rollback point
  reap upgrade

  # Back out of the last transaction
  reap rollback

  # Inspect sandboxed build logs
  reap trace`,
	Version:       reap.VersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	RootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug output")
	RootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "stream build output to the terminal")
	RootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: /etc/reap.conf)")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command.
func Execute() error {
	return RootCmd.Execute()
}

func setup() error {
	path := flagConfig
	if path == "" {
		path = reap.ConfigFile
	}
	cfg, err := reap.LoadConfig(path)
	if err != nil {
		return err
	}
	reap.InitConfig(cfg)
	if flagDebug {
		reap.Debug = true
	}
	if flagVerbose {
		reap.Verbose = true
	}
	sessionConfig = cfg
	return nil
}
