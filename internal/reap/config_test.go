package reap

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reap.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := writeConfigFile(t, `
# resolution policy
REAP_BACKEND_ORDER=pacman aur
REAP_IGNORE = linux-custom nvidia-dkms
REAP_SNAPSHOT_KEEP="5"
REAP_ALLOW_UNSIGNED='yes'

not a key value line
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Values["REAP_BACKEND_ORDER"] != "pacman aur" {
		t.Errorf("REAP_BACKEND_ORDER = %q", cfg.Values["REAP_BACKEND_ORDER"])
	}
	if cfg.Values["REAP_IGNORE"] != "linux-custom nvidia-dkms" {
		t.Errorf("whitespace around = not trimmed: %q", cfg.Values["REAP_IGNORE"])
	}
	if cfg.Values["REAP_SNAPSHOT_KEEP"] != "5" {
		t.Errorf("quotes not stripped: %q", cfg.Values["REAP_SNAPSHOT_KEEP"])
	}
	if cfg.Values["REAP_ALLOW_UNSIGNED"] != "yes" {
		t.Errorf("single quotes not stripped: %q", cfg.Values["REAP_ALLOW_UNSIGNED"])
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Values["TMPDIR"] == "" {
		t.Error("TMPDIR default missing")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "REAP_JOBS=2\n")
	t.Setenv("REAP_JOBS", "8")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Values["REAP_JOBS"] != "8" {
		t.Errorf("REAP_JOBS = %q, want env override", cfg.Values["REAP_JOBS"])
	}
}

func TestInitConfigPolicies(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"REAP_ROOT":            base,
		"REAP_STATE_DIR":       filepath.Join(base, "state"),
		"REAP_CACHE_DIR":       filepath.Join(base, "cache"),
		"TMPDIR":               filepath.Join(base, "tmp"),
		"REAP_BACKEND_ORDER":   "aur pacman bogus",
		"REAP_IGNORE":          "linux-custom",
		"REAP_SANDBOX_ORDER":   "firejail bwrap",
		"REAP_SANDBOX_TIMEOUT": "120",
		"REAP_ALLOW_UNSIGNED":  "yes",
		"REAP_SNAPSHOT_KEEP":   "3",
	}}
	InitConfig(cfg)

	if want := []Origin{OriginAUR, OriginPacman}; !reflect.DeepEqual(cfg.BackendOrder, want) {
		t.Errorf("BackendOrder = %v, want %v (unknown entries dropped)", cfg.BackendOrder, want)
	}
	if !cfg.Ignored["linux-custom"] {
		t.Error("ignore list not parsed")
	}
	if want := []string{"firejail", "bwrap"}; !reflect.DeepEqual(cfg.SandboxOrder, want) {
		t.Errorf("SandboxOrder = %v", cfg.SandboxOrder)
	}
	if cfg.SandboxTimeout != 120*time.Second {
		t.Errorf("SandboxTimeout = %v", cfg.SandboxTimeout)
	}
	if !cfg.AllowUnsigned {
		t.Error("AllowUnsigned not parsed")
	}
	if cfg.SnapshotKeep != 3 {
		t.Errorf("SnapshotKeep = %d", cfg.SnapshotKeep)
	}
	if cfg.ActiveKeyID != "official" {
		t.Errorf("ActiveKeyID = %q, want embedded default", cfg.ActiveKeyID)
	}
}

func TestInitConfigDefaults(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"REAP_ROOT":      base,
		"REAP_STATE_DIR": filepath.Join(base, "state"),
		"REAP_CACHE_DIR": filepath.Join(base, "cache"),
		"TMPDIR":         filepath.Join(base, "tmp"),
	}}
	InitConfig(cfg)

	if cfg.BackendOrder[0] != OriginTap {
		t.Errorf("default order starts with %s, want tap first", cfg.BackendOrder[0])
	}
	if len(cfg.SandboxOrder) == 0 || cfg.SandboxOrder[0] != "bwrap" {
		t.Errorf("SandboxOrder = %v", cfg.SandboxOrder)
	}
	if cfg.MaxJobs != 4 {
		t.Errorf("MaxJobs = %d", cfg.MaxJobs)
	}
	if cfg.SnapshotKeep != 10 || cfg.SnapshotDays != 90 {
		t.Errorf("retention = keep %d days %d", cfg.SnapshotKeep, cfg.SnapshotDays)
	}
}

func TestSetConfigValue(t *testing.T) {
	base := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"REAP_ROOT":      base,
		"REAP_STATE_DIR": filepath.Join(base, "state"),
		"REAP_CACHE_DIR": filepath.Join(base, "cache"),
		"TMPDIR":         filepath.Join(base, "tmp"),
	}}
	InitConfig(cfg)

	if err := SetConfigValue(cfg, "REAP_JOBS", "6"); err != nil {
		t.Fatalf("SetConfigValue: %v", err)
	}
	if err := SetConfigValue(cfg, "REAP_JOBS", "12"); err != nil {
		t.Fatalf("SetConfigValue update: %v", err)
	}
	if err := SetConfigValue(cfg, "REAP_SNAPSHOT_KEEP", "7"); err != nil {
		t.Fatalf("SetConfigValue append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "etc", "reap.conf"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	content := string(data)
	if want := "REAP_JOBS=12\nREAP_SNAPSHOT_KEEP=7\n"; content != want {
		t.Errorf("config file = %q, want %q", content, want)
	}
	if cfg.Values["REAP_JOBS"] != "12" {
		t.Errorf("in-memory value = %q", cfg.Values["REAP_JOBS"])
	}
}
