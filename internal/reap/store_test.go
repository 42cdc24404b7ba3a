package reap

import (
	"errors"
	"testing"
	"time"
)

func TestSaveInstalledUpsertKeepsExplicit(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveInstalled(installedPkg("htop", "3.3", OriginPacman, true)); err != nil {
		t.Fatalf("SaveInstalled: %v", err)
	}
	// Reinstall as a dependency must not demote the explicit flag.
	if err := store.SaveInstalled(installedPkg("htop", "3.4", OriginPacman, false)); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	pkg, err := store.GetInstalled("htop")
	if err != nil {
		t.Fatalf("GetInstalled: %v", err)
	}
	if pkg.Version != "3.4" {
		t.Errorf("version = %s, want 3.4", pkg.Version)
	}
	if !pkg.Explicit {
		t.Error("explicit flag lost on upsert")
	}
}

func TestGetInstalledNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetInstalled("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSameNameDifferentOrigins(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveInstalled(installedPkg("spotify", "1.2", OriginAUR, true)); err != nil {
		t.Fatalf("SaveInstalled: %v", err)
	}
	if err := store.SaveInstalled(installedPkg("spotify", "1.3", OriginFlatpak, true)); err != nil {
		t.Fatalf("SaveInstalled: %v", err)
	}
	pkgs, err := store.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(pkgs) != 2 {
		t.Errorf("%d rows, want one per origin", len(pkgs))
	}
}

func TestDependentsTracksEdges(t *testing.T) {
	store := newTestStore(t)
	for _, name := range []string{"libfoo", "app", "tool"} {
		if err := store.SaveInstalled(installedPkg(name, "1.0", OriginPacman, name != "libfoo")); err != nil {
			t.Fatalf("SaveInstalled: %v", err)
		}
	}
	if err := store.ReplaceDependencies("app", []string{"libfoo"}); err != nil {
		t.Fatalf("ReplaceDependencies: %v", err)
	}
	if err := store.ReplaceDependencies("tool", []string{"libfoo"}); err != nil {
		t.Fatalf("ReplaceDependencies: %v", err)
	}

	deps, err := store.Dependents("libfoo")
	if err != nil {
		t.Fatalf("Dependents: %v", err)
	}
	if len(deps) != 2 || deps[0] != "app" || deps[1] != "tool" {
		t.Errorf("Dependents = %v", deps)
	}

	// Rewriting the edge set drops stale edges.
	if err := store.ReplaceDependencies("app", nil); err != nil {
		t.Fatalf("ReplaceDependencies: %v", err)
	}
	deps, err = store.Dependents("libfoo")
	if err != nil {
		t.Fatalf("Dependents: %v", err)
	}
	if len(deps) != 1 || deps[0] != "tool" {
		t.Errorf("Dependents after rewrite = %v", deps)
	}
}

func TestAuditHistoryRoundtrip(t *testing.T) {
	store := newTestStore(t)

	hash, content, err := store.LastAuditedRecipe("new", OriginAUR)
	if err != nil {
		t.Fatalf("LastAuditedRecipe: %v", err)
	}
	if hash != "" || content != nil {
		t.Errorf("unaudited package returned %q %q", hash, content)
	}

	if err := store.RecordAudit("new", OriginAUR, "1.0", "abc123", []byte("pkgname=new"), VerdictWarn); err != nil {
		t.Fatalf("RecordAudit: %v", err)
	}
	hash, content, err = store.LastAuditedRecipe("new", OriginAUR)
	if err != nil {
		t.Fatalf("LastAuditedRecipe: %v", err)
	}
	if hash != "abc123" || string(content) != "pkgname=new" {
		t.Errorf("got %q %q", hash, content)
	}

	// A later audit replaces the record.
	if err := store.RecordAudit("new", OriginAUR, "1.1", "def456", []byte("pkgname=new #v2"), VerdictTrusted); err != nil {
		t.Fatalf("RecordAudit update: %v", err)
	}
	hash, _, err = store.LastAuditedRecipe("new", OriginAUR)
	if err != nil {
		t.Fatalf("LastAuditedRecipe: %v", err)
	}
	if hash != "def456" {
		t.Errorf("hash = %q after update", hash)
	}
}

func TestDeleteSnapshotRefusedWhileReferenced(t *testing.T) {
	store := newTestStore(t)
	meta := &SnapshotMeta{
		ID:          "snap-1",
		CreatedAt:   time.Now(),
		Reason:      "test",
		ArchivePath: "/nonexistent/snap-1.tar.zst",
	}
	if err := store.InsertSnapshot(meta, nil); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	if err := store.InsertTransaction("tx-1", TxCommitting, "snap-1", "pkg"); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}

	if err := store.DeleteSnapshot("snap-1"); !errors.Is(err, ErrSnapshotInUse) {
		t.Errorf("err = %v, want ErrSnapshotInUse", err)
	}

	// Once the transaction finishes the snapshot becomes fair game.
	if err := store.UpdateTransaction("tx-1", TxCommitted, ""); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if err := store.DeleteSnapshot("snap-1"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	if _, err := store.GetSnapshot("snap-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("snapshot still present: %v", err)
	}
}

func TestSnapshotPackagesCascadeDelete(t *testing.T) {
	store := newTestStore(t)
	meta := &SnapshotMeta{ID: "snap-2", CreatedAt: time.Now(), ArchivePath: "/tmp/x"}
	pkgs := []*InstalledPackage{
		installedPkg("a", "1.0", OriginPacman, true),
		installedPkg("b", "2.0", OriginAUR, false),
	}
	if err := store.InsertSnapshot(meta, pkgs); err != nil {
		t.Fatalf("InsertSnapshot: %v", err)
	}
	got, err := store.SnapshotPackages("snap-2")
	if err != nil {
		t.Fatalf("SnapshotPackages: %v", err)
	}
	if len(got) != 2 || got[0].Name != "a" {
		t.Errorf("SnapshotPackages = %v", got)
	}

	if err := store.DeleteSnapshot("snap-2"); err != nil {
		t.Fatalf("DeleteSnapshot: %v", err)
	}
	got, err = store.SnapshotPackages("snap-2")
	if err != nil {
		t.Fatalf("SnapshotPackages after delete: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("%d orphaned package rows", len(got))
	}
}

func TestTransactionJournal(t *testing.T) {
	store := newTestStore(t)
	if err := store.InsertTransaction("tx-a", TxPending, "", "vim htop"); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}

	live, err := store.LiveTransaction()
	if err != nil {
		t.Fatalf("LiveTransaction: %v", err)
	}
	if live == nil || live.ID != "tx-a" {
		t.Fatalf("live = %+v", live)
	}
	if live.FinishedAt.Valid {
		t.Error("pending transaction has finished_at")
	}

	if err := store.UpdateTransaction("tx-a", TxCommitted, ""); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	live, err = store.LiveTransaction()
	if err != nil {
		t.Fatalf("LiveTransaction: %v", err)
	}
	if live != nil {
		t.Errorf("committed transaction still live: %+v", live)
	}

	rec, err := store.GetTransaction("tx-a")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if rec.State != TxCommitted || !rec.FinishedAt.Valid {
		t.Errorf("rec = %+v", rec)
	}
	if rec.Packages != "vim htop" {
		t.Errorf("Packages = %q", rec.Packages)
	}

	recs, err := store.ListTransactions(10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "tx-a" {
		t.Errorf("ListTransactions = %v", recs)
	}
}
