package reap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// RunTraceTUI opens an interactive viewer over recorded sandbox runs:
// run list on the left, decompressed build log on the right.
func RunTraceTUI(runs []*SandboxRun) error {
	if len(runs) == 0 {
		colNote.Println("No sandbox runs recorded yet")
		return nil
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.After(runs[j].Started)
	})

	app := tview.NewApplication()

	list := tview.NewList().ShowSecondaryText(true)
	list.SetBorder(true)
	list.SetTitle(" Sandbox Runs ")

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	logView.SetBorder(true)

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	footer.SetBorder(true)
	footer.SetText("[yellow]Tab[-] switch pane  [yellow]j/k[-] scroll  [yellow]q[-] quit")

	showRun := func(run *SandboxRun) {
		status := "[green]ok[-]"
		if run.TimedOut {
			status = "[red]timed out[-]"
		} else if run.ExitCode != 0 {
			status = fmt.Sprintf("[red]exit %d[-]", run.ExitCode)
		}
		logView.SetTitle(fmt.Sprintf(" %s %s via %s (%s) ", run.Package, run.Version, run.Backend, status))

		content, err := ReadRunLog(run)
		if err != nil {
			logView.SetText(fmt.Sprintf("[red]failed to read log: %v[-]", err))
			return
		}
		var b strings.Builder
		b.WriteString(tview.Escape(string(content)))
		if len(run.FsAdded)+len(run.FsRemoved)+len(run.FsChanged) > 0 {
			fmt.Fprintf(&b, "\n[yellow]Filesystem diff[-] (+%d -%d ~%d)\n",
				len(run.FsAdded), len(run.FsRemoved), len(run.FsChanged))
			for _, p := range run.FsAdded {
				fmt.Fprintf(&b, "[green]+ %s[-]\n", tview.Escape(p))
			}
			for _, p := range run.FsRemoved {
				fmt.Fprintf(&b, "[red]- %s[-]\n", tview.Escape(p))
			}
			for _, p := range run.FsChanged {
				fmt.Fprintf(&b, "[yellow]~ %s[-]\n", tview.Escape(p))
			}
		}
		if len(run.NetLog) > 0 {
			fmt.Fprintf(&b, "\n[yellow]Network access[-] (%d endpoints)\n", len(run.NetLog))
			for _, ev := range run.NetLog {
				fmt.Fprintf(&b, "%s  %s %s\n", ev.Time.Format("15:04:05"), ev.Proto, tview.Escape(ev.Remote))
			}
		}
		logView.SetText(b.String())
		logView.ScrollToEnd()
	}

	for _, run := range runs {
		run := run
		duration := run.Finished.Sub(run.Started).Round(1e9)
		secondary := fmt.Sprintf("%s  %s  exit %d  %s",
			run.Backend, run.Started.Format("2006-01-02 15:04:05"), run.ExitCode, duration)
		list.AddItem(run.Package+" "+run.Version, secondary, 0, func() {
			showRun(run)
		})
	}
	list.SetChangedFunc(func(index int, _ string, _ string, _ rune) {
		if index >= 0 && index < len(runs) {
			showRun(runs[index])
		}
	})
	showRun(runs[0])

	flex := tview.NewFlex().
		AddItem(list, 0, 1, true).
		AddItem(logView, 0, 2, false)
	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(flex, 0, 1, true).
		AddItem(footer, 3, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Rune() == 'q':
			app.Stop()
			return nil
		case event.Key() == tcell.KeyTab:
			if app.GetFocus() == list {
				app.SetFocus(logView)
			} else {
				app.SetFocus(list)
			}
			return nil
		}
		return event
	})

	return app.SetRoot(root, true).Run()
}

// PrintRunSummary writes a one-line-per-run overview for non-TTY use.
func PrintRunSummary(runs []*SandboxRun) {
	if len(runs) == 0 {
		colNote.Println("No sandbox runs recorded yet")
		return
	}
	var b strings.Builder
	for _, run := range runs {
		status := "ok"
		if run.TimedOut {
			status = "timeout"
		} else if run.ExitCode != 0 {
			status = fmt.Sprintf("exit %d", run.ExitCode)
		}
		fmt.Fprintf(&b, "%s  %-20s %-10s %-8s %s\n",
			run.ID[:8], run.Package+" "+run.Version, run.Backend, status,
			run.Started.Format("2006-01-02 15:04"))
	}
	fmt.Print(b.String())
}
