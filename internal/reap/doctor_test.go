package reap

import (
	"context"
	"testing"
)

func TestOrphans(t *testing.T) {
	store := newTestStore(t)
	for _, p := range []*InstalledPackage{
		installedPkg("editor", "1.0", OriginPacman, true),
		installedPkg("libused", "1.0", OriginPacman, false),
		installedPkg("libstale", "1.0", OriginPacman, false),
	} {
		if err := store.SaveInstalled(p); err != nil {
			t.Fatalf("SaveInstalled: %v", err)
		}
	}
	if err := store.ReplaceDependencies("editor", []string{"libused"}); err != nil {
		t.Fatalf("ReplaceDependencies: %v", err)
	}

	orphans, err := Orphans(store)
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].Name != "libstale" {
		t.Errorf("orphans = %v", orphans)
	}
}

func TestOrphansNeverIncludeExplicit(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveInstalled(installedPkg("standalone", "1.0", OriginAUR, true)); err != nil {
		t.Fatalf("SaveInstalled: %v", err)
	}
	orphans, err := Orphans(store)
	if err != nil {
		t.Fatalf("Orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("explicit install reported as orphan: %v", orphans)
	}
}

func TestRunDoctorReportsMissingSandbox(t *testing.T) {
	cfg := newTestConfig(t)
	backends := []SourceBackend{
		&fakeBackend{origin: OriginPacman, available: true},
		&fakeBackend{origin: OriginFlatpak, available: false},
	}

	checks := RunDoctor(context.Background(), cfg, backends, nil)
	byName := make(map[string]DoctorCheck)
	for _, c := range checks {
		byName[c.Name] = c
	}

	if c := byName["backend/pacman"]; !c.OK {
		t.Errorf("pacman check = %+v", c)
	}
	if c := byName["backend/flatpak"]; c.OK {
		t.Errorf("flatpak check = %+v", c)
	}
	if c, ok := byName["sandbox"]; !ok || c.OK {
		t.Errorf("missing-sandbox check = %+v", c)
	}
	if c := byName["state/dir"]; !c.OK {
		t.Errorf("state dir check = %+v", c)
	}
	if c := byName["keyring"]; !c.OK {
		t.Errorf("keyring check = %+v", c)
	}
}
