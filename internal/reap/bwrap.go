package reap

import (
	"context"
	"os/exec"
	"syscall"
)

// BwrapBackend isolates builds with bubblewrap. Unprivileged, so it is
// the preferred default.
type BwrapBackend struct{}

func (b *BwrapBackend) Name() string { return "bwrap" }

func (b *BwrapBackend) Available() bool {
	_, err := exec.LookPath("bwrap")
	return err == nil
}

func (b *BwrapBackend) Command(ctx context.Context, run *SandboxRun, script string) *exec.Cmd {
	args := []string{
		"--unshare-pid",
		"--unshare-ipc",
		"--unshare-uts",
		"--die-with-parent",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/etc", "/etc",
		"--symlink", "usr/bin", "/bin",
		"--symlink", "usr/lib", "/lib",
		"--symlink", "usr/lib", "/lib64",
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
		"--bind", run.WorkDir, run.WorkDir,
		"--chdir", run.WorkDir,
		"--setenv", "HOME", run.WorkDir,
		"/bin/bash", "-e", "-c", script,
	}
	cmd := exec.CommandContext(ctx, "bwrap", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Teardown is a no-op: bwrap tears its namespaces down with the
// process. The run directory is kept for tracing.
func (b *BwrapBackend) Teardown(run *SandboxRun) error {
	return nil
}
