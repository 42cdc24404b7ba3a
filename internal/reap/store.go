package reap

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const storeSchema = `
CREATE TABLE IF NOT EXISTS installed (
    name TEXT NOT NULL,
    origin TEXT NOT NULL,
    version TEXT NOT NULL,
    description TEXT,
    tap TEXT,
    explicit BOOLEAN NOT NULL DEFAULT 0,
    installed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, origin)
);

CREATE TABLE IF NOT EXISTS dependencies (
    package TEXT NOT NULL,
    depends_on TEXT NOT NULL,
    PRIMARY KEY (package, depends_on)
);

CREATE TABLE IF NOT EXISTS audits (
    name TEXT NOT NULL,
    origin TEXT NOT NULL,
    version TEXT NOT NULL,
    recipe_hash TEXT NOT NULL,
    recipe BLOB,
    verdict TEXT NOT NULL,
    audited_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, origin)
);

CREATE TABLE IF NOT EXISTS snapshots (
    id TEXT PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    reason TEXT,
    archive_path TEXT NOT NULL,
    package_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS snapshot_packages (
    snapshot_id TEXT NOT NULL,
    name TEXT NOT NULL,
    origin TEXT NOT NULL,
    version TEXT NOT NULL,
    explicit BOOLEAN NOT NULL DEFAULT 0,
    FOREIGN KEY (snapshot_id) REFERENCES snapshots(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    snapshot_id TEXT,
    packages TEXT,
    failure TEXT
);

CREATE INDEX IF NOT EXISTS idx_snapshot_packages ON snapshot_packages(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_transactions_state ON transactions(state);
CREATE INDEX IF NOT EXISTS idx_deps_depends ON dependencies(depends_on);
`

// Store is the SQLite-backed state database: installed set, audit
// history, snapshot index and the transaction journal.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) the state database. Use ":memory:"
// for tests.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(storeSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenStateStore opens the store at its configured location.
func OpenStateStore() (*Store, error) {
	return OpenStore(filepath.Join(StateDir, "state.db"))
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InstalledPackage is one row of the installed set.
type InstalledPackage struct {
	Name        string
	Origin      Origin
	Version     string
	Description string
	Tap         string
	Explicit    bool
	InstalledAt time.Time
}

func (s *Store) SaveInstalled(pkg *InstalledPackage) error {
	_, err := s.db.Exec(`
		INSERT INTO installed (name, origin, version, description, tap, explicit, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, origin) DO UPDATE SET
			version = excluded.version,
			description = excluded.description,
			tap = excluded.tap,
			explicit = installed.explicit OR excluded.explicit,
			installed_at = excluded.installed_at
	`, pkg.Name, string(pkg.Origin), pkg.Version, pkg.Description, pkg.Tap, pkg.Explicit, pkg.InstalledAt)
	if err != nil {
		return fmt.Errorf("failed to record installed package %s: %w", pkg.Name, err)
	}
	return nil
}

func (s *Store) RemoveInstalled(name string, origin Origin) error {
	_, err := s.db.Exec(`DELETE FROM installed WHERE name = ? AND origin = ?`, name, string(origin))
	if err != nil {
		return fmt.Errorf("failed to remove installed package %s: %w", name, err)
	}
	return nil
}

func (s *Store) GetInstalled(name string) (*InstalledPackage, error) {
	row := s.db.QueryRow(`
		SELECT name, origin, version, description, tap, explicit, installed_at
		FROM installed WHERE name = ?
	`, name)
	var pkg InstalledPackage
	var origin string
	err := row.Scan(&pkg.Name, &origin, &pkg.Version, &pkg.Description, &pkg.Tap, &pkg.Explicit, &pkg.InstalledAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query installed package %s: %w", name, err)
	}
	pkg.Origin = Origin(origin)
	return &pkg, nil
}

func (s *Store) ListInstalled() ([]*InstalledPackage, error) {
	rows, err := s.db.Query(`
		SELECT name, origin, version, description, tap, explicit, installed_at
		FROM installed ORDER BY name, origin
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list installed packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*InstalledPackage
	for rows.Next() {
		var pkg InstalledPackage
		var origin string
		if err := rows.Scan(&pkg.Name, &origin, &pkg.Version, &pkg.Description, &pkg.Tap, &pkg.Explicit, &pkg.InstalledAt); err != nil {
			return nil, fmt.Errorf("failed to scan installed package: %w", err)
		}
		pkg.Origin = Origin(origin)
		pkgs = append(pkgs, &pkg)
	}
	return pkgs, rows.Err()
}

// ReplaceDependencies rewrites the outgoing dependency edges of a
// package.
func (s *Store) ReplaceDependencies(name string, deps []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin dependency update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM dependencies WHERE package = ?`, name); err != nil {
		return fmt.Errorf("failed to clear dependencies of %s: %w", name, err)
	}
	for _, dep := range deps {
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO dependencies (package, depends_on) VALUES (?, ?)
		`, name, dep); err != nil {
			return fmt.Errorf("failed to record dependency %s -> %s: %w", name, dep, err)
		}
	}
	return tx.Commit()
}

// Dependents returns installed packages that depend on name.
func (s *Store) Dependents(name string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT d.package FROM dependencies d
		JOIN installed i ON i.name = d.package
		WHERE d.depends_on = ? ORDER BY d.package
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependents of %s: %w", name, err)
	}
	defer rows.Close()

	var deps []string
	for rows.Next() {
		var dep string
		if err := rows.Scan(&dep); err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, rows.Err()
}

// LastAuditedRecipe returns the recipe hash and content from the last
// recorded audit, or empty values when never audited.
func (s *Store) LastAuditedRecipe(name string, origin Origin) (string, []byte, error) {
	row := s.db.QueryRow(`
		SELECT recipe_hash, recipe FROM audits WHERE name = ? AND origin = ?
	`, name, string(origin))
	var hash string
	var content []byte
	err := row.Scan(&hash, &content)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to query audit history for %s: %w", name, err)
	}
	return hash, content, nil
}

func (s *Store) RecordAudit(name string, origin Origin, version, hash string, content []byte, verdict Verdict) error {
	_, err := s.db.Exec(`
		INSERT INTO audits (name, origin, version, recipe_hash, recipe, verdict, audited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, origin) DO UPDATE SET
			version = excluded.version,
			recipe_hash = excluded.recipe_hash,
			recipe = excluded.recipe,
			verdict = excluded.verdict,
			audited_at = excluded.audited_at
	`, name, string(origin), version, hash, content, string(verdict), time.Now())
	if err != nil {
		return fmt.Errorf("failed to record audit for %s: %w", name, err)
	}
	return nil
}

// SnapshotMeta indexes one on-disk snapshot archive.
type SnapshotMeta struct {
	ID           string
	CreatedAt    time.Time
	Reason       string
	ArchivePath  string
	PackageCount int
}

func (s *Store) InsertSnapshot(meta *SnapshotMeta, pkgs []*InstalledPackage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin snapshot insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO snapshots (id, created_at, reason, archive_path, package_count)
		VALUES (?, ?, ?, ?, ?)
	`, meta.ID, meta.CreatedAt, meta.Reason, meta.ArchivePath, len(pkgs))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	for _, pkg := range pkgs {
		_, err = tx.Exec(`
			INSERT INTO snapshot_packages (snapshot_id, name, origin, version, explicit)
			VALUES (?, ?, ?, ?, ?)
		`, meta.ID, pkg.Name, string(pkg.Origin), pkg.Version, pkg.Explicit)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot package %s: %w", pkg.Name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetSnapshot(id string) (*SnapshotMeta, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, reason, archive_path, package_count
		FROM snapshots WHERE id = ?
	`, id)
	var meta SnapshotMeta
	err := row.Scan(&meta.ID, &meta.CreatedAt, &meta.Reason, &meta.ArchivePath, &meta.PackageCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot %s: %w", id, err)
	}
	return &meta, nil
}

func (s *Store) ListSnapshots() ([]*SnapshotMeta, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, reason, archive_path, package_count
		FROM snapshots ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var metas []*SnapshotMeta
	for rows.Next() {
		var meta SnapshotMeta
		if err := rows.Scan(&meta.ID, &meta.CreatedAt, &meta.Reason, &meta.ArchivePath, &meta.PackageCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		metas = append(metas, &meta)
	}
	return metas, rows.Err()
}

func (s *Store) SnapshotPackages(id string) ([]*InstalledPackage, error) {
	rows, err := s.db.Query(`
		SELECT name, origin, version, explicit
		FROM snapshot_packages WHERE snapshot_id = ? ORDER BY name
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*InstalledPackage
	for rows.Next() {
		var pkg InstalledPackage
		var origin string
		if err := rows.Scan(&pkg.Name, &origin, &pkg.Version, &pkg.Explicit); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot package: %w", err)
		}
		pkg.Origin = Origin(origin)
		pkgs = append(pkgs, &pkg)
	}
	return pkgs, rows.Err()
}

// SnapshotReferenced reports whether any live transaction still points
// at the snapshot. Referenced snapshots must not be pruned.
func (s *Store) SnapshotReferenced(id string) (bool, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*) FROM transactions
		WHERE snapshot_id = ? AND state IN ('pending', 'committing')
	`, id)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check snapshot references: %w", err)
	}
	return count > 0, nil
}

func (s *Store) DeleteSnapshot(id string) error {
	referenced, err := s.SnapshotReferenced(id)
	if err != nil {
		return err
	}
	if referenced {
		return fmt.Errorf("snapshot %s: %w", id, ErrSnapshotInUse)
	}
	_, err = s.db.Exec(`DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	return nil
}

// TransactionRecord is one journal row.
type TransactionRecord struct {
	ID         string
	State      TxState
	StartedAt  time.Time
	FinishedAt sql.NullTime
	SnapshotID string
	Packages   string
	Failure    string
}

func (s *Store) InsertTransaction(id string, state TxState, snapshotID, packages string) error {
	_, err := s.db.Exec(`
		INSERT INTO transactions (id, state, started_at, snapshot_id, packages)
		VALUES (?, ?, ?, ?, ?)
	`, id, string(state), time.Now(), snapshotID, packages)
	if err != nil {
		return fmt.Errorf("failed to journal transaction %s: %w", id, err)
	}
	return nil
}

// SetTransactionSnapshot links a transaction to its checkpoint.
func (s *Store) SetTransactionSnapshot(id, snapshotID string) error {
	_, err := s.db.Exec(`UPDATE transactions SET snapshot_id = ? WHERE id = ?`, snapshotID, id)
	if err != nil {
		return fmt.Errorf("failed to link snapshot to transaction %s: %w", id, err)
	}
	return nil
}

func (s *Store) UpdateTransaction(id string, state TxState, failure string) error {
	var finished interface{}
	switch state {
	case TxCommitted, TxFailed, TxRolledBack:
		finished = time.Now()
	}
	_, err := s.db.Exec(`
		UPDATE transactions SET state = ?, failure = ?, finished_at = ? WHERE id = ?
	`, string(state), failure, finished, id)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetTransaction(id string) (*TransactionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, state, started_at, finished_at, snapshot_id, packages, COALESCE(failure, '')
		FROM transactions WHERE id = ?
	`, id)
	var rec TransactionRecord
	var state string
	var snapshotID, packages sql.NullString
	err := row.Scan(&rec.ID, &state, &rec.StartedAt, &rec.FinishedAt, &snapshotID, &packages, &rec.Failure)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", id, err)
	}
	rec.State = TxState(state)
	rec.SnapshotID = snapshotID.String
	rec.Packages = packages.String
	return &rec, nil
}

// LiveTransaction returns the pending or committing transaction, if
// one exists. At most one can be live at a time.
func (s *Store) LiveTransaction() (*TransactionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id FROM transactions
		WHERE state IN ('pending', 'committing')
		ORDER BY started_at DESC LIMIT 1
	`)
	var id string
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query live transactions: %w", err)
	}
	return s.GetTransaction(id)
}

func (s *Store) ListTransactions(limit int) ([]*TransactionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id FROM transactions ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var recs []*TransactionRecord
	for _, id := range ids {
		rec, err := s.GetTransaction(id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
