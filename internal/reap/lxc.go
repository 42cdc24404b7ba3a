package reap

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
)

// LxcBackend runs builds in an ephemeral LXC container. Last in the
// default fallback chain: heaviest setup, needs a preconfigured
// container named by lxcTemplate.
type LxcBackend struct {
	Exec *Executor
}

const lxcTemplate = "reap-build"

func (b *LxcBackend) Name() string { return "lxc" }

func (b *LxcBackend) Available() bool {
	if _, err := exec.LookPath("lxc-copy"); err != nil {
		return false
	}
	info := exec.Command("lxc-info", "-n", lxcTemplate)
	return info.Run() == nil
}

func (b *LxcBackend) containerName(run *SandboxRun) string {
	return "reap-" + run.ID[:8]
}

func (b *LxcBackend) Command(ctx context.Context, run *SandboxRun, script string) *exec.Cmd {
	name := b.containerName(run)
	// lxc-execute on an ephemeral copy; the copy is created lazily by
	// lxc-copy -e and discarded on exit, teardown sweeps leftovers.
	shell := fmt.Sprintf(
		"lxc-copy -n %s -N %s -e -m bind=%s:%s:rw -- /bin/bash -e -c %q",
		lxcTemplate, name, run.WorkDir, run.WorkDir, script,
	)
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shell)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

func (b *LxcBackend) Teardown(run *SandboxRun) error {
	name := b.containerName(run)
	info := exec.Command("lxc-info", "-n", name)
	if err := info.Run(); err != nil {
		return nil
	}
	stop := exec.Command("lxc-stop", "-k", "-n", name)
	if b.Exec != nil {
		_ = b.Exec.Run(stop)
	} else {
		_ = stop.Run()
	}
	destroy := exec.Command("lxc-destroy", "-f", "-n", name)
	if b.Exec != nil {
		if err := b.Exec.Run(destroy); err != nil {
			return fmt.Errorf("failed to destroy container %s: %w", name, err)
		}
		return nil
	}
	if err := destroy.Run(); err != nil {
		return fmt.Errorf("failed to destroy container %s: %w", name, err)
	}
	return nil
}
