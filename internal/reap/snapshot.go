package reap

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// SnapshotState is the captured package state inside an archive.
type SnapshotState struct {
	ID        string              `json:"id"`
	CreatedAt time.Time           `json:"created_at"`
	Reason    string              `json:"reason"`
	Packages  []*InstalledPackage `json:"packages"`
	// Files are pre-images of the host paths the transaction expects
	// to touch; restore rewrites any of them that diverged.
	Files []FileImage `json:"files,omitempty"`
	// Native holds raw backend listings (pacman -Qq etc) for doctor
	// style inspection; restore works off Packages.
	Native map[string]string `json:"native,omitempty"`
}

// FileImage is one captured host path. Content is stored in the
// archive under preimages/<hash>; a path that did not exist at
// checkpoint time is recorded with Existed false so restore can
// delete whatever an install created there.
type FileImage struct {
	Path    string      `json:"path"`
	Existed bool        `json:"existed"`
	Hash    string      `json:"hash,omitempty"`
	Mode    fs.FileMode `json:"mode,omitempty"`
}

// RestoreAction is one step needed to bring the system back to a
// snapshot's package state.
type RestoreAction struct {
	Op      string // "install", "downgrade", "remove"
	Package InstalledPackage
}

// SnapshotManager creates and restores package-state snapshots.
// Capture and Apply are injectable so tests never touch pacman.
type SnapshotManager struct {
	Config *Config
	Store  *Store

	// Capture collects native backend listings at checkpoint time.
	Capture func(ctx context.Context) map[string]string
	// Apply executes one restore action against the system.
	Apply func(ctx context.Context, action RestoreAction) error
}

func NewSnapshotManager(cfg *Config, store *Store, exec *Executor) *SnapshotManager {
	return &SnapshotManager{
		Config:  cfg,
		Store:   store,
		Capture: func(ctx context.Context) map[string]string { return captureNativeState(ctx) },
		Apply: func(ctx context.Context, action RestoreAction) error {
			return applyRestoreAction(ctx, exec, action)
		},
	}
}

// Checkpoint captures the installed set, plus pre-images of the given
// host paths, into a new snapshot archive and indexes it.
// Checkpointing never mutates package or file state.
func (m *SnapshotManager) Checkpoint(ctx context.Context, reason string, paths []string) (*SnapshotMeta, error) {
	pkgs, err := m.Store.ListInstalled()
	if err != nil {
		return nil, fmt.Errorf("failed to read installed set: %w", err)
	}

	state := &SnapshotState{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Reason:    reason,
		Packages:  pkgs,
	}
	if m.Capture != nil {
		state.Native = m.Capture(ctx)
	}

	stageDir, err := os.MkdirTemp(tmpDir, "snapshot-")
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot staging dir: %w", err)
	}
	defer os.RemoveAll(stageDir)

	state.Files, err = captureFileImages(paths, stageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to capture file pre-images: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(stageDir, "snapshot.json"), data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot state: %w", err)
	}
	for name, listing := range state.Native {
		if err := os.WriteFile(filepath.Join(stageDir, name+".list"), []byte(listing), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s listing: %w", name, err)
		}
	}

	if err := os.MkdirAll(SnapshotDir, 0755); err != nil {
		return nil, err
	}
	archivePath := filepath.Join(SnapshotDir, state.ID+".tar.zst")
	if err := CreateArchive(stageDir, archivePath); err != nil {
		return nil, fmt.Errorf("failed to archive snapshot: %w", err)
	}

	meta := &SnapshotMeta{
		ID:          state.ID,
		CreatedAt:   state.CreatedAt,
		Reason:      reason,
		ArchivePath: archivePath,
	}
	if err := m.Store.InsertSnapshot(meta, pkgs); err != nil {
		os.Remove(archivePath)
		return nil, err
	}
	meta.PackageCount = len(pkgs)
	return meta, nil
}

// captureFileImages records the current content of every path an
// install is expected to touch. Duplicates are captured once; content
// is stored under preimages/<hash> so identical files share a blob.
func captureFileImages(paths []string, stageDir string) ([]FileImage, error) {
	var images []FileImage
	seen := make(map[string]bool)
	preDir := filepath.Join(stageDir, "preimages")
	for _, p := range paths {
		p = filepath.Clean(p)
		if p == "" || p == "." || seen[p] {
			continue
		}
		seen[p] = true
		info, err := os.Lstat(p)
		switch {
		case os.IsNotExist(err):
			images = append(images, FileImage{Path: p})
			continue
		case err != nil:
			return nil, err
		case !info.Mode().IsRegular():
			// Directories and symlinks are the package manager's to
			// recreate, only file content is captured here.
			continue
		}
		hash, err := hashFile(p)
		if err != nil {
			return nil, err
		}
		dst := filepath.Join(preDir, hash)
		if !fileExists(dst) {
			if err := copyFile(p, dst); err != nil {
				return nil, err
			}
		}
		images = append(images, FileImage{Path: p, Existed: true, Hash: hash, Mode: info.Mode()})
	}
	return images, nil
}

// Load extracts a snapshot archive and returns its captured state.
func (m *SnapshotManager) Load(id string) (*SnapshotState, error) {
	meta, err := m.Store.GetSnapshot(id)
	if err != nil {
		return nil, err
	}
	return m.loadFromArchive(meta.ArchivePath)
}

func (m *SnapshotManager) loadFromArchive(archivePath string) (*SnapshotState, error) {
	extractDir, err := os.MkdirTemp(tmpDir, "snapshot-restore-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(extractDir)

	if err := ExtractArchive(archivePath, extractDir); err != nil {
		return nil, fmt.Errorf("failed to extract snapshot %s: %w", archivePath, err)
	}
	return readSnapshotState(extractDir)
}

func readSnapshotState(dir string) (*SnapshotState, error) {
	data, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if err != nil {
		return nil, fmt.Errorf("snapshot has no state file: %w", err)
	}
	var state SnapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot state: %w", err)
	}
	return &state, nil
}

// Plan computes the actions needed to reach the snapshot's state from
// the current installed set. An empty plan means already there.
func (m *SnapshotManager) Plan(state *SnapshotState) ([]RestoreAction, error) {
	current, err := m.Store.ListInstalled()
	if err != nil {
		return nil, err
	}

	key := func(p *InstalledPackage) string { return p.Name + "\x00" + string(p.Origin) }
	want := make(map[string]*InstalledPackage, len(state.Packages))
	for _, p := range state.Packages {
		want[key(p)] = p
	}
	have := make(map[string]*InstalledPackage, len(current))
	for _, p := range current {
		have[key(p)] = p
	}

	var actions []RestoreAction
	for k, p := range want {
		cur, ok := have[k]
		switch {
		case !ok:
			actions = append(actions, RestoreAction{Op: "install", Package: *p})
		case cur.Version != p.Version:
			actions = append(actions, RestoreAction{Op: "downgrade", Package: *p})
		}
	}
	for k, p := range have {
		if _, ok := want[k]; !ok {
			actions = append(actions, RestoreAction{Op: "remove", Package: *p})
		}
	}
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].Op != actions[j].Op {
			return actions[i].Op < actions[j].Op
		}
		return actions[i].Package.Name < actions[j].Package.Name
	})
	return actions, nil
}

// Restore brings the package state and the captured file pre-images
// back to the snapshot. Safe to call repeatedly: a second restore of
// the same snapshot finds nothing divergent and changes nothing. Any
// failure is fatal for the restore and reported as such; partial
// restores are never retried implicitly.
func (m *SnapshotManager) Restore(ctx context.Context, id string) error {
	meta, err := m.Store.GetSnapshot(id)
	if err != nil {
		return &RestoreFailedError{SnapshotID: id, Err: err}
	}
	extractDir, err := os.MkdirTemp(tmpDir, "snapshot-restore-")
	if err != nil {
		return &RestoreFailedError{SnapshotID: id, Err: err}
	}
	defer os.RemoveAll(extractDir)
	if err := ExtractArchive(meta.ArchivePath, extractDir); err != nil {
		return &RestoreFailedError{SnapshotID: id, Err: fmt.Errorf("failed to extract snapshot: %w", err)}
	}
	state, err := readSnapshotState(extractDir)
	if err != nil {
		return &RestoreFailedError{SnapshotID: id, Err: err}
	}

	actions, err := m.Plan(state)
	if err != nil {
		return &RestoreFailedError{SnapshotID: id, Err: err}
	}
	if len(actions) == 0 {
		debugf("snapshot %s package state already current\n", id)
	}

	for _, action := range actions {
		if err := ctx.Err(); err != nil {
			return &RestoreFailedError{SnapshotID: id, Err: err}
		}
		if err := m.Apply(ctx, action); err != nil {
			return &RestoreFailedError{SnapshotID: id, Err: fmt.Errorf("%s %s: %w", action.Op, action.Package.Name, err)}
		}
		switch action.Op {
		case "remove":
			if err := m.Store.RemoveInstalled(action.Package.Name, action.Package.Origin); err != nil {
				return &RestoreFailedError{SnapshotID: id, Err: err}
			}
		default:
			pkg := action.Package
			if err := m.Store.SaveInstalled(&pkg); err != nil {
				return &RestoreFailedError{SnapshotID: id, Err: err}
			}
		}
	}

	// Package actions restore the database; the pre-images bring the
	// actual file content back to what the checkpoint saw.
	if err := restoreFileImages(state.Files, extractDir); err != nil {
		return &RestoreFailedError{SnapshotID: id, Err: err}
	}
	return nil
}

// restoreFileImages rewrites every captured path whose content diverged
// from its pre-image and deletes paths that did not exist at checkpoint
// time.
func restoreFileImages(images []FileImage, extractDir string) error {
	for _, img := range images {
		if !img.Existed {
			if err := os.Remove(img.Path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", img.Path, err)
			}
			continue
		}
		if cur, err := hashFile(img.Path); err == nil && cur == img.Hash {
			continue
		}
		data, err := os.ReadFile(filepath.Join(extractDir, "preimages", img.Hash))
		if err != nil {
			return fmt.Errorf("pre-image of %s missing from snapshot: %w", img.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(img.Path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(img.Path, data, img.Mode.Perm()); err != nil {
			return fmt.Errorf("failed to rewrite %s: %w", img.Path, err)
		}
	}
	return nil
}

// Prune removes snapshots beyond the retention policy. Snapshots still
// referenced by a live transaction are skipped, never deleted.
func (m *SnapshotManager) Prune(ctx context.Context) (removed []string, err error) {
	metas, err := m.Store.ListSnapshots()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().AddDate(0, 0, -m.Config.SnapshotDays)
	for i, meta := range metas {
		// metas come newest first. The keep window always survives;
		// beyond it, anything older than the cutoff goes.
		if i < m.Config.SnapshotKeep {
			continue
		}
		if m.Config.SnapshotDays > 0 && !meta.CreatedAt.Before(cutoff) {
			continue
		}
		referenced, err := m.Store.SnapshotReferenced(meta.ID)
		if err != nil {
			return removed, err
		}
		if referenced {
			colWarn.Printf("Warning: snapshot %s is in use by a transaction, keeping it\n", meta.ID)
			continue
		}
		if err := m.Store.DeleteSnapshot(meta.ID); err != nil {
			return removed, err
		}
		if err := os.Remove(meta.ArchivePath); err != nil && !os.IsNotExist(err) {
			colWarn.Printf("Warning: failed to remove snapshot archive %s: %v\n", meta.ArchivePath, err)
		}
		removed = append(removed, meta.ID)
	}
	return removed, nil
}

// captureNativeState shells out for the raw backend listings. Best
// effort: a missing backend just yields no listing.
func captureNativeState(ctx context.Context) map[string]string {
	native := make(map[string]string)
	if out, err := exec.CommandContext(ctx, "pacman", "-Q").Output(); err == nil {
		native["pacman"] = string(out)
	}
	if out, err := exec.CommandContext(ctx, "pacman", "-Qqe").Output(); err == nil {
		native["pacman-explicit"] = string(out)
	}
	if out, err := exec.CommandContext(ctx, "flatpak", "list", "--app", "--columns=application,version").Output(); err == nil {
		native["flatpak"] = string(out)
	}
	return native
}

func applyRestoreAction(ctx context.Context, rootExec *Executor, action RestoreAction) error {
	pkg := action.Package
	switch pkg.Origin {
	case OriginFlatpak:
		var cmd *exec.Cmd
		if action.Op == "remove" {
			cmd = exec.CommandContext(ctx, "flatpak", "uninstall", "-y", pkg.Name)
		} else {
			cmd = exec.CommandContext(ctx, "flatpak", "install", "-y", pkg.Name)
		}
		return rootExec.Run(cmd)
	default:
		var cmd *exec.Cmd
		switch action.Op {
		case "remove":
			cmd = exec.CommandContext(ctx, "pacman", "--noconfirm", "-R", pkg.Name)
		case "downgrade":
			// pacman downgrades from the cache when the exact version is
			// still there.
			cached := filepath.Join(ArtifactDir, fmt.Sprintf("%s-%s-*.pkg.tar.zst", pkg.Name, pkg.Version))
			matches, _ := filepath.Glob(cached)
			if len(matches) > 0 {
				cmd = exec.CommandContext(ctx, "pacman", "--noconfirm", "-U", matches[0])
			} else {
				cmd = exec.CommandContext(ctx, "pacman", "--noconfirm", "-S", pkg.Name)
			}
		default:
			cmd = exec.CommandContext(ctx, "pacman", "--noconfirm", "-S", pkg.Name)
		}
		return rootExec.Run(cmd)
	}
}
