package app

import (
	"fmt"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"reap/internal/reap"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check backend and sandbox health",
	Long: `Probe every backend, sandbox mechanism and local state component
without changing anything, and report what works.`,
	RunE: runDoctor,
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List installed dependencies nothing requires",
	RunE:  runOrphans,
}

func init() {
	RootCmd.AddCommand(doctorCmd)
	RootCmd.AddCommand(orphansCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	backends := reap.DefaultBackends(sessionConfig, reap.UserExec)
	sandboxes := reap.DefaultSandboxBackends(sessionConfig, reap.RootExec)

	checks := reap.RunDoctor(ctx, sessionConfig, backends, sandboxes)
	failed := 0
	for _, check := range checks {
		if check.OK {
			color.Success.Print(" ok ")
		} else {
			color.Error.Print("FAIL")
			failed++
		}
		fmt.Printf("  %-20s %s\n", check.Name, check.Detail)
	}
	if failed > 0 {
		fmt.Printf("\n%d check(s) failed\n", failed)
	}
	return nil
}

func runOrphans(cmd *cobra.Command, args []string) error {
	session, err := newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	orphans, err := reap.Orphans(session.Store)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Println("No orphaned packages")
		return nil
	}
	for _, pkg := range orphans {
		fmt.Printf("%s/%s %s\n", pkg.Origin.Label(), pkg.Name, pkg.Version)
	}
	return nil
}
