package reap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Hook events fired around the install lifecycle.
const (
	HookPreInstall  = "pre_install"
	HookPostBuild   = "post_build"
	HookPostInstall = "post_install"
	HookPreRemove   = "pre_remove"
)

// Hook is one user script bound to a lifecycle event. Scripts are
// opaque: reap runs them, it does not interpret them.
type Hook struct {
	Name    string `toml:"name"`
	Event   string `toml:"event"`
	Script  string `toml:"script"`
	Package string `toml:"package,omitempty"`
	// Blocking hooks abort the operation when they exit non-zero.
	Blocking bool `toml:"blocking"`
}

type hookFile struct {
	Hooks []Hook `toml:"hook"`
}

func hooksPath() string {
	return filepath.Join(StateDir, "hooks.toml")
}

// LoadHooks reads the hook definitions. No file means no hooks.
func LoadHooks() ([]Hook, error) {
	data, err := os.ReadFile(hooksPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hooks: %w", err)
	}
	var f hookFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse hooks: %w", err)
	}
	return f.Hooks, nil
}

// SaveHooks rewrites the hook definitions.
func SaveHooks(hooks []Hook) error {
	data, err := toml.Marshal(hookFile{Hooks: hooks})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(StateDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(hooksPath(), data, 0644)
}

// RunHooks fires every hook bound to event, in file order. The
// transaction id is passed through to the hook environment; it is
// empty for events fired outside a transaction. A failing blocking
// hook stops the operation; non-blocking failures only warn.
func RunHooks(ctx context.Context, event string, rec PackageRecord, txID string) error {
	hooks, err := LoadHooks()
	if err != nil {
		return err
	}
	for _, h := range hooks {
		if h.Event != event {
			continue
		}
		if h.Package != "" && h.Package != rec.Name {
			continue
		}
		debugf("running %s hook %s for %s\n", event, h.Name, rec.Name)
		cmd := exec.CommandContext(ctx, "/bin/bash", "-c", h.Script)
		cmd.Env = append(os.Environ(),
			"REAP_PACKAGE="+rec.Name,
			"REAP_VERSION="+rec.Version,
			"REAP_ORIGIN="+string(rec.Origin),
			"REAP_EVENT="+event,
			"REAP_TRANSACTION="+txID,
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			if h.Blocking {
				return fmt.Errorf("blocking hook %s failed for %s: %w", h.Name, rec.Name, err)
			}
			colWarn.Printf("Warning: hook %s failed for %s: %v\n", h.Name, rec.Name, err)
		}
	}
	return nil
}
