package reap

import (
	"context"
	"os/exec"
	"syscall"
)

// FirejailBackend isolates builds with firejail. Weaker isolation than
// bwrap but present on many desktop installs.
type FirejailBackend struct{}

func (b *FirejailBackend) Name() string { return "firejail" }

func (b *FirejailBackend) Available() bool {
	_, err := exec.LookPath("firejail")
	return err == nil
}

func (b *FirejailBackend) Command(ctx context.Context, run *SandboxRun, script string) *exec.Cmd {
	args := []string{
		"--quiet",
		"--noprofile",
		"--private=" + run.WorkDir,
		"--private-tmp",
		"--caps.drop=all",
		"--nonewprivs",
		"bash", "-e", "-c", script,
	}
	cmd := exec.CommandContext(ctx, "firejail", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (b *FirejailBackend) Teardown(run *SandboxRun) error {
	return nil
}
