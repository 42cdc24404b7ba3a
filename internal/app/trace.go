package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"reap/internal/reap"
)

var traceFlagSummary bool

var traceCmd = &cobra.Command{
	Use:   "trace [run-id]",
	Short: "Inspect sandboxed build runs",
	Long: `Browse the logs of sandboxed builds. With an argument the single run
is printed; without one an interactive viewer opens on a terminal, or
a summary is printed when stdout is not a TTY.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().BoolVar(&traceFlagSummary, "summary", false, "print a one-line-per-run summary")

	RootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		run, err := reap.LoadRun(args[0])
		if err != nil {
			return err
		}
		content, err := reap.ReadRunLog(run)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s via %s, exit %d\n\n", run.Package, run.Version, run.Backend, run.ExitCode)
		os.Stdout.Write(content)
		if len(run.FsAdded)+len(run.FsRemoved)+len(run.FsChanged) > 0 {
			fmt.Printf("\nFilesystem diff (+%d -%d ~%d):\n",
				len(run.FsAdded), len(run.FsRemoved), len(run.FsChanged))
			for _, p := range run.FsAdded {
				fmt.Printf("  + %s\n", p)
			}
			for _, p := range run.FsRemoved {
				fmt.Printf("  - %s\n", p)
			}
			for _, p := range run.FsChanged {
				fmt.Printf("  ~ %s\n", p)
			}
		}
		if len(run.NetLog) > 0 {
			fmt.Printf("\nNetwork access (%d endpoints):\n", len(run.NetLog))
			for _, ev := range run.NetLog {
				fmt.Printf("  %s  %s %s\n", ev.Time.Format("15:04:05"), ev.Proto, ev.Remote)
			}
		}
		return nil
	}

	runs, err := reap.ListRuns()
	if err != nil {
		return err
	}
	if traceFlagSummary || !term.IsTerminal(int(os.Stdout.Fd())) {
		reap.PrintRunSummary(runs)
		return nil
	}
	return reap.RunTraceTUI(runs)
}
