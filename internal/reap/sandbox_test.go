package reap

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// fakeSandboxBackend runs the script with plain sh and counts
// teardowns.
type fakeSandboxBackend struct {
	name      string
	available bool
	teardowns int
}

func (f *fakeSandboxBackend) Name() string    { return f.name }
func (f *fakeSandboxBackend) Available() bool { return f.available }

func (f *fakeSandboxBackend) Command(ctx context.Context, run *SandboxRun, script string) *exec.Cmd {
	return exec.CommandContext(ctx, "/bin/sh", "-c", script)
}

func (f *fakeSandboxBackend) Teardown(run *SandboxRun) error {
	f.teardowns++
	return nil
}

func newTestSandbox(t *testing.T, backends ...SandboxBackend) *Sandbox {
	t.Helper()
	cfg := newTestConfig(t)
	return &Sandbox{Config: cfg, Backends: backends}
}

func TestSandboxRunSuccess(t *testing.T) {
	backend := &fakeSandboxBackend{name: "fake", available: true}
	s := newTestSandbox(t, backend)

	run, err := s.Run(context.Background(), rec("hello", "1.0", OriginAUR), t.TempDir(), "echo built")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.ExitCode != 0 {
		t.Errorf("exit code = %d", run.ExitCode)
	}
	if backend.teardowns != 1 {
		t.Errorf("teardowns = %d, want exactly 1", backend.teardowns)
	}

	content, err := ReadRunLog(run)
	if err != nil {
		t.Fatalf("ReadRunLog: %v", err)
	}
	if string(content) != "built\n" {
		t.Errorf("log = %q", content)
	}
}

func TestSandboxRunFailureStillTearsDownOnce(t *testing.T) {
	backend := &fakeSandboxBackend{name: "fake", available: true}
	s := newTestSandbox(t, backend)

	run, err := s.Run(context.Background(), rec("broken", "1.0", OriginAUR), t.TempDir(), "exit 7")
	var failed *SandboxRunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want SandboxRunFailedError", err)
	}
	if failed.ExitCode != 7 {
		t.Errorf("exit code = %d, want 7", failed.ExitCode)
	}
	if run == nil {
		t.Fatal("failed run should still return its record")
	}
	if backend.teardowns != 1 {
		t.Errorf("teardowns = %d, want exactly 1", backend.teardowns)
	}
}

func TestSandboxTimeout(t *testing.T) {
	backend := &fakeSandboxBackend{name: "fake", available: true}
	s := newTestSandbox(t, backend)
	s.Config.SandboxTimeout = 100 * time.Millisecond

	_, err := s.Run(context.Background(), rec("slow", "1.0", OriginAUR), t.TempDir(), "sleep 5")
	var failed *SandboxRunFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want SandboxRunFailedError", err)
	}
	if !failed.TimedOut {
		t.Error("timeout not reported")
	}
	if backend.teardowns != 1 {
		t.Errorf("teardowns = %d, want exactly 1", backend.teardowns)
	}
}

func TestSandboxRunRecordsFsDiff(t *testing.T) {
	backend := &fakeSandboxBackend{name: "fake", available: true}
	s := newTestSandbox(t, backend)

	workDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(workDir, "seed.txt"), []byte("seed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(workDir, "keep.txt"), []byte("v1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	script := "echo out > " + workDir + "/out.txt && rm " + workDir + "/seed.txt && echo v2 > " + workDir + "/keep.txt"
	run, err := s.Run(context.Background(), rec("hello", "1.0", OriginAUR), workDir, script)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(run.FsAdded, []string{"out.txt"}) {
		t.Errorf("FsAdded = %v, want [out.txt]", run.FsAdded)
	}
	if !reflect.DeepEqual(run.FsRemoved, []string{"seed.txt"}) {
		t.Errorf("FsRemoved = %v, want [seed.txt]", run.FsRemoved)
	}
	if !reflect.DeepEqual(run.FsChanged, []string{"keep.txt"}) {
		t.Errorf("FsChanged = %v, want [keep.txt]", run.FsChanged)
	}

	reloaded, err := LoadRun(run.ID)
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if !reflect.DeepEqual(reloaded.FsAdded, run.FsAdded) || !reflect.DeepEqual(reloaded.FsChanged, run.FsChanged) {
		t.Errorf("fs diff not persisted: %+v", reloaded)
	}
}

func TestSandboxFallbackChain(t *testing.T) {
	unavailable := &fakeSandboxBackend{name: "first", available: false}
	usable := &fakeSandboxBackend{name: "second", available: true}
	s := newTestSandbox(t, unavailable, usable)

	run, err := s.Run(context.Background(), rec("hello", "1.0", OriginAUR), t.TempDir(), "true")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Backend != "second" {
		t.Errorf("backend = %s, want second", run.Backend)
	}
	if unavailable.teardowns != 0 {
		t.Errorf("unavailable backend was torn down")
	}
}

func TestSandboxNoBackend(t *testing.T) {
	s := newTestSandbox(t, &fakeSandboxBackend{name: "off", available: false})

	_, err := s.Run(context.Background(), rec("hello", "1.0", OriginAUR), t.TempDir(), "true")
	if !errors.Is(err, ErrNoSandboxBackend) {
		t.Errorf("err = %v, want ErrNoSandboxBackend", err)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	newTestConfig(t)

	// Directory names sort the opposite way from recency here, so a
	// listing ordered by name would come back oldest first.
	older := &SandboxRun{ID: "zzz-older", Package: "one", Started: time.Now().Add(-time.Hour)}
	newer := &SandboxRun{ID: "aaa-newer", Package: "two", Started: time.Now()}
	for _, run := range []*SandboxRun{older, newer} {
		if err := os.MkdirAll(run.Dir(), 0755); err != nil {
			t.Fatal(err)
		}
		if err := saveRunMeta(run); err != nil {
			t.Fatalf("saveRunMeta: %v", err)
		}
	}

	runs, err := ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d", len(runs))
	}
	if runs[0].ID != "aaa-newer" || runs[1].ID != "zzz-older" {
		t.Errorf("order = [%s %s], want newest first", runs[0].ID, runs[1].ID)
	}
}

func TestListRunsRoundTrip(t *testing.T) {
	backend := &fakeSandboxBackend{name: "fake", available: true}
	s := newTestSandbox(t, backend)

	first, err := s.Run(context.Background(), rec("one", "1.0", OriginAUR), t.TempDir(), "true")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	runs, err := ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d", len(runs))
	}
	if runs[0].ID != first.ID || runs[0].Package != "one" {
		t.Errorf("round trip mismatch: %+v", runs[0])
	}
}
