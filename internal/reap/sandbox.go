package reap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/ulikunitz/xz"
)

// SandboxBackend wraps a build invocation in one isolation mechanism.
type SandboxBackend interface {
	Name() string
	Available() bool
	// Command builds the isolated invocation of script with run.WorkDir
	// as the build tree.
	Command(ctx context.Context, run *SandboxRun, script string) *exec.Cmd
	Teardown(run *SandboxRun) error
}

// SandboxRun records one isolated build execution. The metadata file
// under the run directory is what `reap trace` replays.
type SandboxRun struct {
	ID       string    `toml:"id"`
	Package  string    `toml:"package"`
	Version  string    `toml:"version"`
	Backend  string    `toml:"backend"`
	WorkDir  string    `toml:"workdir"`
	LogPath  string    `toml:"log"`
	ExitCode int       `toml:"exit_code"`
	Started  time.Time `toml:"started"`
	Finished time.Time `toml:"finished"`
	TimedOut bool      `toml:"timed_out"`

	// What the build touched: work tree paths relative to WorkDir,
	// and remote endpoints seen while it ran.
	FsAdded   []string   `toml:"fs_added,omitempty"`
	FsRemoved []string   `toml:"fs_removed,omitempty"`
	FsChanged []string   `toml:"fs_changed,omitempty"`
	NetLog    []NetEvent `toml:"net_log,omitempty"`

	tornDown bool
}

func (r *SandboxRun) Dir() string {
	return filepath.Join(RunDir, r.ID)
}

// Sandbox selects an isolation backend and executes build scripts in
// it, guaranteeing teardown whatever the build does.
type Sandbox struct {
	Config   *Config
	Backends []SandboxBackend
}

func NewSandbox(cfg *Config, exec *Executor) *Sandbox {
	return &Sandbox{Config: cfg, Backends: DefaultSandboxBackends(cfg, exec)}
}

// DefaultSandboxBackends returns the known backends ordered by the
// configured preference list.
func DefaultSandboxBackends(cfg *Config, exec *Executor) []SandboxBackend {
	all := map[string]SandboxBackend{
		"bwrap":    &BwrapBackend{},
		"nspawn":   &NspawnBackend{Exec: exec},
		"firejail": &FirejailBackend{},
		"lxc":      &LxcBackend{Exec: exec},
	}
	var ordered []SandboxBackend
	for _, name := range cfg.SandboxOrder {
		if b, ok := all[name]; ok {
			ordered = append(ordered, b)
		}
	}
	return ordered
}

// pick returns the first available backend, walking the fallback chain.
func (s *Sandbox) pick() (SandboxBackend, error) {
	for _, b := range s.Backends {
		if b.Available() {
			return b, nil
		}
		debugf("sandbox backend %s not available, trying next\n", b.Name())
	}
	return nil, ErrNoSandboxBackend
}

// Run executes a build script for rec inside the first available
// backend. A failing or timed-out build returns SandboxRunFailedError
// together with the run record; the caller decides whether that stops
// the transaction. Teardown always happens, exactly once.
func (s *Sandbox) Run(ctx context.Context, rec PackageRecord, workDir, script string) (*SandboxRun, error) {
	backend, err := s.pick()
	if err != nil {
		return nil, err
	}

	run := &SandboxRun{
		ID:      uuid.NewString(),
		Package: rec.Name,
		Version: rec.Version,
		Backend: backend.Name(),
		WorkDir: workDir,
		Started: time.Now(),
	}
	if err := os.MkdirAll(run.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	run.LogPath = filepath.Join(run.Dir(), "build.log")

	defer func() {
		if run.tornDown {
			return
		}
		run.tornDown = true
		if terr := backend.Teardown(run); terr != nil {
			colWarn.Printf("Warning: sandbox teardown for %s failed: %v\n", rec.Name, terr)
		}
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if s.Config.SandboxTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.Config.SandboxTimeout)
		defer cancel()
	}

	logFile, err := os.Create(run.LogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create build log: %w", err)
	}

	cmd := backend.Command(runCtx, run, script)
	var out io.Writer = logFile
	if Verbose {
		out = io.MultiWriter(logFile, os.Stdout)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	colArrow.Print("-> ")
	colSuccess.Printf("Building %s in %s sandbox (run %s)\n", rec.Name, run.Backend, run.ID)

	before, scanErr := BuildManifest(workDir)
	if scanErr != nil {
		colWarn.Printf("Warning: failed to scan build tree before run: %v\n", scanErr)
	}
	tracer := newNetTracer()
	tracer.Start()

	runErr := cmd.Run()
	run.Finished = time.Now()
	logFile.Close()

	run.NetLog = tracer.Stop()
	if scanErr == nil {
		after, err := BuildManifest(workDir)
		if err != nil {
			colWarn.Printf("Warning: failed to scan build tree after run: %v\n", err)
		} else {
			diff := DiffManifests(before, after)
			run.FsAdded = diff.Added
			run.FsRemoved = diff.Removed
			run.FsChanged = diff.Changed
		}
	}

	if runCtx.Err() == context.DeadlineExceeded {
		run.TimedOut = true
	}
	if runErr != nil {
		run.ExitCode = 1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			run.ExitCode = exitErr.ExitCode()
		}
	}

	if err := compressRunLog(run); err != nil {
		colWarn.Printf("Warning: failed to compress build log: %v\n", err)
	}
	if err := saveRunMeta(run); err != nil {
		colWarn.Printf("Warning: failed to save run metadata: %v\n", err)
	}

	if run.TimedOut {
		return run, &SandboxRunFailedError{Name: rec.Name, Backend: run.Backend, ExitCode: run.ExitCode, TimedOut: true}
	}
	if runErr != nil {
		return run, &SandboxRunFailedError{Name: rec.Name, Backend: run.Backend, ExitCode: run.ExitCode}
	}
	return run, nil
}

// compressRunLog replaces build.log with build.log.xz.
func compressRunLog(run *SandboxRun) error {
	src, err := os.Open(run.LogPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath := run.LogPath + ".xz"
	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	xzWriter, err := xz.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(xzWriter, src); err != nil {
		xzWriter.Close()
		dst.Close()
		return err
	}
	if err := xzWriter.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	src.Close()
	if err := os.Remove(run.LogPath); err != nil {
		return err
	}
	run.LogPath = dstPath
	return nil
}

func saveRunMeta(run *SandboxRun) error {
	data, err := toml.Marshal(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(run.Dir(), "meta.toml"), data, 0644)
}

// LoadRun reads a run record back from the run directory.
func LoadRun(id string) (*SandboxRun, error) {
	data, err := os.ReadFile(filepath.Join(RunDir, id, "meta.toml"))
	if err != nil {
		return nil, fmt.Errorf("run %s not found: %w", id, err)
	}
	var run SandboxRun
	if err := toml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run metadata: %w", err)
	}
	return &run, nil
}

// ListRuns returns all recorded runs, newest first.
func ListRuns() ([]*SandboxRun, error) {
	entries, err := os.ReadDir(RunDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var runs []*SandboxRun
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, err := LoadRun(e.Name())
		if err != nil {
			debugf("skipping unreadable run %s: %v\n", e.Name(), err)
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Started.After(runs[j].Started)
	})
	return runs, nil
}

// ReadRunLog decompresses and returns the build log of a run.
func ReadRunLog(run *SandboxRun) ([]byte, error) {
	f, err := os.Open(run.LogPath)
	if err != nil {
		return nil, fmt.Errorf("build log missing: %w", err)
	}
	defer f.Close()
	if filepath.Ext(run.LogPath) != ".xz" {
		return io.ReadAll(f)
	}
	xr, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open compressed log: %w", err)
	}
	return io.ReadAll(xr)
}
