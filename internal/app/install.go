package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var (
	installFlagOverride bool
	installFlagDryRun   bool
)

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install packages transactionally",
	Long: `Resolve the requested packages and their dependencies across all
backends, audit them, and install them in one transaction. A snapshot
is taken first; any failure rolls the system back to it.

Prefix a name with a backend to pin it, e.g. aur/yay or tap/mytool.`,
	Example: `  reap install ripgrep
  reap install aur/yay flatpak/org.gimp.GIMP
  reap install --dry-run linux-zen`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func init() {
	installCmd.Flags().BoolVar(&installFlagOverride, "override-blocked", false, "install despite blocked audit verdicts (recorded, this transaction only)")
	installCmd.Flags().BoolVar(&installFlagDryRun, "dry-run", false, "resolve and audit without installing")

	RootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	err = session.Install(ctx, args, reap.InstallOptions{
		OverrideBlocked: installFlagOverride,
		DryRun:          installFlagDryRun,
	})

	var blocked *reap.AuditBlockedError
	if errors.As(err, &blocked) {
		return fmt.Errorf("%w\nre-run with --override-blocked to install anyway", err)
	}
	return err
}
