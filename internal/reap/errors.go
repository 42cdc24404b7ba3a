package reap

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for conditions that carry no extra payload.
var (
	// ErrNotFound is returned when no configured backend knows the package.
	ErrNotFound = errors.New("package not found in any backend")

	// ErrNoSandboxBackend is returned when no sandbox backend is usable on
	// this host. It is fatal: builds are never run unsandboxed.
	ErrNoSandboxBackend = errors.New("no sandbox backend available")

	// ErrTransactionBusy is returned when another transaction already holds
	// the system-wide commit lock.
	ErrTransactionBusy = errors.New("another transaction is committing")

	// ErrSnapshotInUse is returned when pruning a snapshot that an in-flight
	// transaction still references.
	ErrSnapshotInUse = errors.New("snapshot referenced by in-flight transaction")
)

// BackendUnavailableError reports a backend that could not be reached.
// Resolution continues with the remaining backends; callers inspect the
// per-backend status for partial results.
type BackendUnavailableError struct {
	Backend Origin
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error { return e.Err }

// CycleDetectedError names the dependency cycle that prevented planning.
type CycleDetectedError struct {
	Cycle []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// VersionConflictError names both requirers of incompatible versions of the
// same package. There is no implicit version coercion.
type VersionConflictError struct {
	Name        string
	RequirerA   string
	ConstraintA string
	RequirerB   string
	ConstraintB string
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: %s requires %s, %s requires %s",
		e.Name, e.RequirerA, e.ConstraintA, e.RequirerB, e.ConstraintB)
}

// AuditBlockedError is raised when the audit pipeline blocks a package and
// no operator override was supplied. Overrides are always recorded in the
// transaction audit trail.
type AuditBlockedError struct {
	Name    string
	Backend Origin
	Reasons []string
}

func (e *AuditBlockedError) Error() string {
	return fmt.Sprintf("audit blocked %s (%s): %s", e.Name, e.Backend, strings.Join(e.Reasons, "; "))
}

// SandboxRunFailedError signals a non-zero exit from a sandboxed build or
// install step. It is not fatal for the orchestrator; callers decide
// whether to abort the install.
type SandboxRunFailedError struct {
	Name     string
	Backend  string
	ExitCode int
	TimedOut bool
}

func (e *SandboxRunFailedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("sandboxed run for %s timed out on %s", e.Name, e.Backend)
	}
	return fmt.Sprintf("sandboxed run for %s failed on %s (exit %d)", e.Name, e.Backend, e.ExitCode)
}

// InstallAbortedError reports a node-level failure while a transaction was
// committing. The transaction rolls back automatically.
type InstallAbortedError struct {
	Name  string
	Stage string
	Err   error
}

func (e *InstallAbortedError) Error() string {
	return fmt.Sprintf("install aborted at %s (%s): %v", e.Name, e.Stage, e.Err)
}

func (e *InstallAbortedError) Unwrap() error { return e.Err }

// RestoreFailedError is the most severe failure class the system produces:
// a rollback could not return the system to its checkpoint. It is never
// retried and always escalated to the user.
type RestoreFailedError struct {
	SnapshotID string
	Err        error
}

func (e *RestoreFailedError) Error() string {
	return fmt.Sprintf("RESTORE FAILED for snapshot %s, manual intervention required: %v", e.SnapshotID, e.Err)
}

func (e *RestoreFailedError) Unwrap() error { return e.Err }
