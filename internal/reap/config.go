package reap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config struct
type Config struct {
	Values map[string]string

	// Resolution policy
	BackendOrder []Origin
	Ignored      map[string]bool

	// Sandbox policy
	SandboxOrder   []string
	SandboxTimeout time.Duration
	BackendTimeout time.Duration

	// Trust policy
	AllowUnsigned bool
	SkipSigCheck  bool
	SkipLint      bool

	// Snapshot retention
	SnapshotKeep int
	SnapshotDays int

	// Parallelism for audit/sandbox of independent packages
	MaxJobs int

	// ActiveKeyID selects the signing key for tap publishing.
	ActiveKeyID string
}

// LoadConfig reads /etc/reap.conf (key=value), merges REAP_* environment
// overrides and applies defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)

	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}

	return cfg, nil
}

// Merge REAP_* env overrides
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "REAP_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func (cfg *Config) boolValue(key string, def bool) bool {
	switch cfg.Values[key] {
	case "1", "yes", "true":
		return true
	case "0", "no", "false":
		return false
	}
	return def
}

func (cfg *Config) intValue(key string, def int) int {
	if v := cfg.Values[key]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// InitConfig resolves paths and policies from the raw values and sets the
// path globals. Must run before any component is used.
func InitConfig(cfg *Config) {
	rootDir = cfg.Values["REAP_ROOT"]
	if rootDir == "" {
		rootDir = "/"
	}

	StateDir = cfg.Values["REAP_STATE_DIR"]
	if StateDir == "" {
		StateDir = "/var/lib/reap"
	}

	CacheDir = cfg.Values["REAP_CACHE_DIR"]
	if CacheDir == "" {
		CacheDir = "/var/cache/reap"
	}

	tmpDir = cfg.Values["TMPDIR"]
	if tmpDir == "" {
		tmpDir = "/tmp"
	}

	Debug = cfg.Values["REAP_DEBUG"] == "1"

	SourcesDir = filepath.Join(CacheDir, "sources")
	ArtifactDir = filepath.Join(CacheDir, "artifacts")
	RunDir = filepath.Join(StateDir, "runs")
	SnapshotDir = filepath.Join(StateDir, "snapshots")
	TapDir = filepath.Join(StateDir, "taps")
	KeyDir = cfg.Values["REAP_KEY_DIR"]
	if KeyDir == "" {
		KeyDir = filepath.Join(StateDir, "keys")
	}
	LockFile = filepath.Join(StateDir, "lock")

	// Backend preference order, highest first. Taps outrank everything,
	// flatpak is the last resort.
	cfg.BackendOrder = parseBackendOrder(cfg.Values["REAP_BACKEND_ORDER"])

	cfg.Ignored = make(map[string]bool)
	for _, name := range strings.Fields(cfg.Values["REAP_IGNORE"]) {
		cfg.Ignored[name] = true
	}

	cfg.SandboxOrder = strings.Fields(cfg.Values["REAP_SANDBOX_ORDER"])
	if len(cfg.SandboxOrder) == 0 {
		cfg.SandboxOrder = []string{"bwrap", "nspawn", "firejail", "lxc"}
	}

	cfg.SandboxTimeout = time.Duration(cfg.intValue("REAP_SANDBOX_TIMEOUT", 3600)) * time.Second
	cfg.BackendTimeout = time.Duration(cfg.intValue("REAP_BACKEND_TIMEOUT", 15)) * time.Second

	cfg.AllowUnsigned = cfg.boolValue("REAP_ALLOW_UNSIGNED", false)
	cfg.SkipSigCheck = cfg.boolValue("REAP_SKIP_SIGCHECK", false)
	cfg.SkipLint = cfg.boolValue("REAP_SKIP_LINT", false)

	cfg.SnapshotKeep = cfg.intValue("REAP_SNAPSHOT_KEEP", 10)
	cfg.SnapshotDays = cfg.intValue("REAP_SNAPSHOT_DAYS", 90)

	cfg.MaxJobs = cfg.intValue("REAP_JOBS", 4)

	cfg.ActiveKeyID = cfg.Values["REAP_KEY_ID"]
	if cfg.ActiveKeyID == "" {
		cfg.ActiveKeyID = officialKeyID
	}
}

func parseBackendOrder(raw string) []Origin {
	def := []Origin{OriginTap, OriginPacman, OriginChaotic, OriginAUR, OriginFlatpak}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return def
	}
	var order []Origin
	for _, f := range fields {
		o, err := ParseOrigin(f)
		if err != nil {
			colWarn.Printf("ignoring unknown backend %q in REAP_BACKEND_ORDER\n", f)
			continue
		}
		order = append(order, o)
	}
	if len(order) == 0 {
		return def
	}
	return order
}

// SetConfigValue persists a key into the config file and updates the
// in-memory map.
func SetConfigValue(cfg *Config, key, value string) error {
	cfg.Values[key] = value

	path := ConfigFile
	if rootDir != "" && rootDir != "/" {
		path = filepath.Join(rootDir, "etc", "reap.conf")
	}

	var lines []string
	replaced := false
	if data, err := os.ReadFile(path); err == nil {
		content := strings.TrimRight(string(data), "\n")
		if content != "" {
			for _, line := range strings.Split(content, "\n") {
				trimmed := strings.TrimSpace(line)
				if strings.HasPrefix(trimmed, key+"=") || strings.HasPrefix(trimmed, key+" =") {
					lines = append(lines, fmt.Sprintf("%s=%s", key, value))
					replaced = true
					continue
				}
				lines = append(lines, line)
			}
		}
	}
	if !replaced {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}

	out := strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(out), 0o644)
}

// EnsureStateDirs creates the persistent state layout.
func EnsureStateDirs() error {
	for _, dir := range []string{StateDir, CacheDir, SourcesDir, ArtifactDir, RunDir, SnapshotDir, TapDir, KeyDir, tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
