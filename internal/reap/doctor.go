package reap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DoctorCheck is one read-only health probe result.
type DoctorCheck struct {
	Name   string
	OK     bool
	Detail string
}

// RunDoctor probes backends, sandboxes and local state without
// mutating anything.
func RunDoctor(ctx context.Context, cfg *Config, backends []SourceBackend, sandboxes []SandboxBackend) []DoctorCheck {
	var checks []DoctorCheck
	add := func(name string, ok bool, detail string) {
		checks = append(checks, DoctorCheck{Name: name, OK: ok, Detail: detail})
	}

	for _, b := range backends {
		if b.Available() {
			add("backend/"+string(b.Origin()), true, "available")
		} else {
			add("backend/"+string(b.Origin()), false, "not available on this system")
		}
	}

	anySandbox := false
	for _, s := range sandboxes {
		if s.Available() {
			anySandbox = true
			add("sandbox/"+s.Name(), true, "available")
		} else {
			add("sandbox/"+s.Name(), false, "not installed")
		}
	}
	if !anySandbox {
		add("sandbox", false, "no isolation backend found, source builds will be refused")
	}

	if err := unix.Access(StateDir, unix.W_OK); err != nil {
		add("state/dir", false, fmt.Sprintf("%s not writable: %v", StateDir, err))
	} else {
		add("state/dir", true, StateDir)
	}

	dbPath := filepath.Join(StateDir, "state.db")
	if fileExists(dbPath) {
		if store, err := OpenStore(dbPath); err != nil {
			add("state/db", false, err.Error())
		} else {
			store.Close()
			add("state/db", true, dbPath)
		}
	} else {
		add("state/db", true, "not initialized yet")
	}

	// A held lock is not an error, but worth surfacing.
	if f, err := os.OpenFile(LockFile, os.O_RDWR, 0644); err == nil {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			add("state/lock", true, "transaction in progress")
		} else {
			unix.Flock(int(f.Fd()), unix.LOCK_UN)
			add("state/lock", true, "free")
		}
		f.Close()
	}

	if _, err := LoadKeyring(); err != nil {
		add("keyring", false, err.Error())
	} else {
		add("keyring", true, "ok")
	}

	taps := DiscoverTaps()
	add("taps", true, fmt.Sprintf("%d tap(s) configured", len(taps)))

	return checks
}

// Orphans returns installed dependencies nothing requires anymore.
// Explicit installs are never orphans.
func Orphans(store *Store) ([]*InstalledPackage, error) {
	pkgs, err := store.ListInstalled()
	if err != nil {
		return nil, err
	}
	var orphans []*InstalledPackage
	for _, pkg := range pkgs {
		if pkg.Explicit {
			continue
		}
		dependents, err := store.Dependents(pkg.Name)
		if err != nil {
			return nil, err
		}
		if len(dependents) == 0 {
			orphans = append(orphans, pkg)
		}
	}
	return orphans, nil
}
