package reap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// TxState is the lifecycle state of an install transaction.
type TxState string

const (
	TxPending    TxState = "pending"
	TxCommitting TxState = "committing"
	TxCommitted  TxState = "committed"
	TxFailed     TxState = "failed"
	TxRolledBack TxState = "rolled-back"
)

// Stage names used in abort reports.
const (
	StageFetch       = "fetch"
	StageBuild       = "build"
	StageTestInstall = "test-install"
	StageInstall     = "install"
)

// FailureReport describes where a transaction died and whether the
// pre-transaction state came back.
type FailureReport struct {
	Package    string
	Stage      string
	Err        error
	SnapshotID string
	Restored   bool
	RestoreErr error
}

func (r *FailureReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transaction failed at %s of %s: %v", r.Stage, r.Package, r.Err)
	if r.Restored {
		fmt.Fprintf(&b, "; system restored from snapshot %s", r.SnapshotID)
	} else if r.RestoreErr != nil {
		fmt.Fprintf(&b, "; RESTORE FAILED: %v (snapshot %s kept for manual recovery)", r.RestoreErr, r.SnapshotID)
	}
	return b.String()
}

// Transaction is one atomic install of a plan.
type Transaction struct {
	ID         string
	Plan       *InstallPlan
	Audits     map[string]*AuditResult
	State      TxState
	SnapshotID string
	Report     *FailureReport
	Explicit   map[string]bool

	lockFile *os.File
}

// txSlot serializes transactions within the process; the flock on the
// lock file serializes them across processes. Begin waits on both, so
// concurrent requests queue up instead of failing.
var txSlot = make(chan struct{}, 1)

// TxManager runs install transactions. The stage funcs are injectable
// so tests can drive the state machine without pacman or a sandbox.
type TxManager struct {
	Config    *Config
	Store     *Store
	Snapshots *SnapshotManager

	// Fetch materializes a package's artifact or recipe, returning the
	// local path.
	Fetch func(ctx context.Context, rec PackageRecord) (string, error)
	// Build turns a fetched recipe into an installable artifact. For
	// binary origins it is the identity.
	Build func(ctx context.Context, rec PackageRecord, fetched string) (string, error)
	// TestInstall exercises the artifact in an ephemeral root inside
	// the sandbox before the system is touched.
	TestInstall func(ctx context.Context, rec PackageRecord, artifact string) error
	// Install applies one artifact to the system.
	Install func(ctx context.Context, rec PackageRecord, artifact string) error
	// ExpectedPaths lists the host paths an install of rec is expected
	// to touch, for pre-image capture at checkpoint time.
	ExpectedPaths func(ctx context.Context, rec PackageRecord) []string
}

// NewTxManager wires the default stage implementations: backend fetch,
// sandboxed makepkg build, pacman/flatpak install.
func NewTxManager(cfg *Config, store *Store, snapshots *SnapshotManager, backends []SourceBackend, sandbox *Sandbox, rootExec *Executor) *TxManager {
	byOrigin := make(map[Origin]SourceBackend, len(backends))
	for _, b := range backends {
		byOrigin[b.Origin()] = b
	}
	m := &TxManager{Config: cfg, Store: store, Snapshots: snapshots}

	m.Fetch = func(ctx context.Context, rec PackageRecord) (string, error) {
		backend, ok := byOrigin[rec.Origin]
		if !ok {
			return "", fmt.Errorf("no backend for origin %s", rec.Origin)
		}
		destDir := filepath.Join(SourcesDir, rec.Name)
		if err := os.MkdirAll(destDir, 0755); err != nil {
			return "", err
		}
		return backend.Fetch(ctx, rec, destDir)
	}

	m.Build = func(ctx context.Context, rec PackageRecord, fetched string) (string, error) {
		switch rec.Origin {
		case OriginAUR, OriginTap:
		default:
			// Binary artifact, nothing to build.
			return fetched, nil
		}
		workDir := fetched
		if !dirExists(workDir) {
			workDir = filepath.Dir(fetched)
		}
		script := "makepkg -f --noconfirm --skippgpcheck"
		run, err := sandbox.Run(ctx, rec, workDir, script)
		if err != nil {
			return "", err
		}
		debugf("sandbox run %s finished with exit %d\n", run.ID, run.ExitCode)
		matches, _ := filepath.Glob(filepath.Join(workDir, "*.pkg.tar.zst"))
		if len(matches) == 0 {
			matches, _ = filepath.Glob(filepath.Join(workDir, "*.pkg.tar.xz"))
		}
		if len(matches) == 0 {
			return "", fmt.Errorf("build of %s produced no package artifact", rec.Name)
		}
		return matches[0], nil
	}

	m.TestInstall = func(ctx context.Context, rec PackageRecord, artifact string) error {
		if rec.Origin == OriginFlatpak {
			// flatpak stages into its own store at install time.
			return nil
		}
		if artifact == "" || !fileExists(artifact) {
			return nil
		}
		workDir, err := os.MkdirTemp(tmpDir, "testinstall-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)
		staged := filepath.Join(workDir, filepath.Base(artifact))
		if err := copyFile(artifact, staged); err != nil {
			return err
		}
		script := fmt.Sprintf("mkdir -p root && bsdtar -xpf %q -C root", filepath.Base(staged))
		run, err := sandbox.Run(ctx, rec, workDir, script)
		if err != nil {
			return err
		}
		debugf("test install of %s landed %d paths in run %s\n", rec.Name, len(run.FsAdded), run.ID)
		return nil
	}

	m.ExpectedPaths = func(ctx context.Context, rec PackageRecord) []string {
		// Upgrades overwrite the files of the installed version; those
		// are the pre-images worth keeping.
		out, err := exec.CommandContext(ctx, "pacman", "-Qlq", rec.Name).Output()
		if err != nil {
			return nil
		}
		var paths []string
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line == "" || strings.HasSuffix(line, "/") {
				continue
			}
			paths = append(paths, line)
		}
		return paths
	}

	m.Install = func(ctx context.Context, rec PackageRecord, artifact string) error {
		switch rec.Origin {
		case OriginFlatpak:
			return rootExec.Run(exec.CommandContext(ctx, "flatpak", "install", "-y", "--noninteractive", rec.Source))
		case OriginPacman, OriginChaotic:
			if artifact != "" && fileExists(artifact) {
				return rootExec.Run(exec.CommandContext(ctx, "pacman", "--noconfirm", "-U", artifact))
			}
			return rootExec.Run(exec.CommandContext(ctx, "pacman", "--noconfirm", "-S", rec.Name))
		default:
			return rootExec.Run(exec.CommandContext(ctx, "pacman", "--noconfirm", "-U", artifact))
		}
	}
	return m
}

// Begin validates the audit gate, takes the global writer lock and
// journals a pending transaction. Exactly one transaction can exist
// between Begin and the end of Commit; further Begin calls wait for
// the lock until their context expires.
func (m *TxManager) Begin(ctx context.Context, plan *InstallPlan, audits map[string]*AuditResult, explicit map[string]bool) (*Transaction, error) {
	for _, node := range plan.Nodes {
		res, ok := audits[node.Record.Name]
		if !ok {
			return nil, fmt.Errorf("package %s has no audit result", node.Record.Name)
		}
		if !res.Installable() {
			return nil, &AuditBlockedError{
				Name:    node.Record.Name,
				Backend: node.Record.Origin,
				Reasons: res.Reasons,
			}
		}
	}

	select {
	case txSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrTransactionBusy, ctx.Err())
	}

	if err := os.MkdirAll(filepath.Dir(LockFile), 0755); err != nil {
		<-txSlot
		return nil, err
	}
	lockFile, err := os.OpenFile(LockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		<-txSlot
		return nil, fmt.Errorf("failed to open transaction lock: %w", err)
	}
	for {
		err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK && err != unix.EAGAIN {
			lockFile.Close()
			<-txSlot
			return nil, fmt.Errorf("failed to lock transaction file: %w", err)
		}
		select {
		case <-ctx.Done():
			lockFile.Close()
			<-txSlot
			return nil, fmt.Errorf("%w: %v", ErrTransactionBusy, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}

	tx := &Transaction{
		ID:       uuid.NewString(),
		Plan:     plan,
		Audits:   audits,
		State:    TxPending,
		Explicit: explicit,
		lockFile: lockFile,
	}
	if err := m.Store.InsertTransaction(tx.ID, TxPending, "", strings.Join(plan.Names(), " ")); err != nil {
		tx.release()
		return nil, err
	}
	return tx, nil
}

func (tx *Transaction) release() {
	if tx.lockFile != nil {
		unix.Flock(int(tx.lockFile.Fd()), unix.LOCK_UN)
		tx.lockFile.Close()
		tx.lockFile = nil
		<-txSlot
	}
}

func (m *TxManager) setState(tx *Transaction, state TxState, failure string) {
	tx.State = state
	if err := m.Store.UpdateTransaction(tx.ID, state, failure); err != nil {
		colWarn.Printf("Warning: failed to journal transaction state %s: %v\n", state, err)
	}
}

// Commit executes the plan: checkpoint, then fetch/build/install each
// node in order. Any failure, including cancellation, rolls the system
// back to the checkpoint. The lock is released when Commit returns.
func (m *TxManager) Commit(ctx context.Context, tx *Transaction) error {
	defer tx.release()

	if tx.State != TxPending {
		return fmt.Errorf("transaction %s is %s, not pending", tx.ID, tx.State)
	}

	var expected []string
	if m.ExpectedPaths != nil {
		for _, node := range tx.Plan.Nodes {
			expected = append(expected, m.ExpectedPaths(ctx, node.Record)...)
		}
	}
	meta, err := m.Snapshots.Checkpoint(ctx, "pre-transaction "+tx.ID, expected)
	if err != nil {
		m.setState(tx, TxFailed, fmt.Sprintf("checkpoint failed: %v", err))
		return fmt.Errorf("failed to checkpoint before install: %w", err)
	}
	tx.SnapshotID = meta.ID
	// Link the snapshot before entering committing so a crash between
	// the two still protects it from pruning.
	if err := m.Store.SetTransactionSnapshot(tx.ID, meta.ID); err != nil {
		m.setState(tx, TxFailed, err.Error())
		return err
	}

	m.setState(tx, TxCommitting, "")

	for _, node := range tx.Plan.Nodes {
		rec := node.Record
		if err := ctx.Err(); err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageInstall, Err: err})
		}

		fetched, err := m.Fetch(ctx, rec)
		if err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageFetch, Err: err})
		}
		artifact, err := m.Build(ctx, rec, fetched)
		if err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageBuild, Err: err})
		}
		if err := RunHooks(ctx, HookPostBuild, rec, tx.ID); err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageBuild, Err: err})
		}
		if m.TestInstall != nil {
			if err := m.TestInstall(ctx, rec, artifact); err != nil {
				return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageTestInstall, Err: err})
			}
		}
		if err := ctx.Err(); err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageInstall, Err: err})
		}
		if err := m.Install(ctx, rec, artifact); err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageInstall, Err: err})
		}

		if err := m.Store.SaveInstalled(&InstalledPackage{
			Name:        rec.Name,
			Origin:      rec.Origin,
			Version:     rec.Version,
			Description: rec.Description,
			Tap:         rec.Tap,
			Explicit:    tx.Explicit[rec.Name],
			InstalledAt: time.Now(),
		}); err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageInstall, Err: err})
		}
		depNames := make([]string, 0, len(rec.Depends))
		for _, dep := range parseDepends(rec.Depends) {
			depNames = append(depNames, dep.Name)
		}
		if err := m.Store.ReplaceDependencies(rec.Name, depNames); err != nil {
			return m.abort(tx, &InstallAbortedError{Name: rec.Name, Stage: StageInstall, Err: err})
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Installed %s %s (%s)\n", rec.Name, rec.Version, rec.Origin.Label())
	}

	m.setState(tx, TxCommitted, "")
	return nil
}

// abort marks the transaction failed and restores the checkpoint.
func (m *TxManager) abort(tx *Transaction, cause *InstallAbortedError) error {
	m.setState(tx, TxFailed, cause.Error())

	report := &FailureReport{
		Package:    cause.Name,
		Stage:      cause.Stage,
		Err:        cause.Err,
		SnapshotID: tx.SnapshotID,
	}
	tx.Report = report

	colError.Printf("Install of %s failed during %s, rolling back\n", cause.Name, cause.Stage)

	// Rollback runs under its own context: the user cancelling the
	// install must not also cancel the restore.
	restoreCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if err := m.Snapshots.Restore(restoreCtx, tx.SnapshotID); err != nil {
		report.RestoreErr = err
		var restoreFailed *RestoreFailedError
		if !errors.As(err, &restoreFailed) {
			report.RestoreErr = &RestoreFailedError{SnapshotID: tx.SnapshotID, Err: err}
		}
		colError.Printf("Rollback failed: %v\n", report.RestoreErr)
		return cause
	}

	report.Restored = true
	m.setState(tx, TxRolledBack, cause.Error())
	colSuccess.Printf("System restored from snapshot %s\n", tx.SnapshotID)
	return cause
}
