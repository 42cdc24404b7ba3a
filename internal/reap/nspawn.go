package reap

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
)

// NspawnBackend isolates builds with systemd-nspawn. Needs root, so it
// goes through the elevating executor for teardown.
type NspawnBackend struct {
	Exec *Executor
}

func (b *NspawnBackend) Name() string { return "nspawn" }

func (b *NspawnBackend) Available() bool {
	if _, err := exec.LookPath("systemd-nspawn"); err != nil {
		return false
	}
	_, err := exec.LookPath("systemctl")
	return err == nil
}

func (b *NspawnBackend) machineName(run *SandboxRun) string {
	return "reap-" + run.ID[:8]
}

func (b *NspawnBackend) Command(ctx context.Context, run *SandboxRun, script string) *exec.Cmd {
	args := []string{
		"--quiet",
		"--machine=" + b.machineName(run),
		"--directory=/",
		"--volatile=overlay",
		"--bind=" + run.WorkDir,
		"--chdir=" + run.WorkDir,
		"--private-network=no",
		"/bin/bash", "-e", "-c", script,
	}
	cmd := exec.CommandContext(ctx, "systemd-nspawn", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// Teardown kills the machine if nspawn left it registered, which
// happens when the build is cancelled mid-run.
func (b *NspawnBackend) Teardown(run *SandboxRun) error {
	machine := b.machineName(run)
	check := exec.Command("machinectl", "show", machine)
	if err := check.Run(); err != nil {
		// Machine already gone.
		return nil
	}
	kill := exec.Command("machinectl", "terminate", machine)
	if b.Exec != nil {
		if err := b.Exec.Run(kill); err != nil {
			return fmt.Errorf("failed to terminate machine %s: %w", machine, err)
		}
		return nil
	}
	if err := kill.Run(); err != nil {
		return fmt.Errorf("failed to terminate machine %s: %w", machine, err)
	}
	return nil
}
