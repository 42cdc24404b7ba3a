package reap

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Tap is a user-added git repository of package recipes.
type Tap struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Priority int    `toml:"priority"`
	Enabled  bool   `toml:"enabled"`
	// Publisher metadata, signed recipes are verified against KeyID.
	Publisher string `toml:"publisher"`
	KeyID     string `toml:"key_id"`
}

// tapMetaFile is the per-tap metadata file at the tap checkout root.
const tapMetaFile = "tap.toml"

// tapPath returns the local checkout directory for a tap.
func tapPath(name string) string {
	return filepath.Join(TapDir, name)
}

// LoadTap reads the tap.toml of a local tap checkout.
func LoadTap(name string) (*Tap, error) {
	data, err := os.ReadFile(filepath.Join(tapPath(name), tapMetaFile))
	if err != nil {
		return nil, fmt.Errorf("tap %s has no %s: %w", name, tapMetaFile, err)
	}
	var t Tap
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("tap %s: invalid %s: %w", name, tapMetaFile, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	return &t, nil
}

// SaveTap writes the tap metadata back to its checkout.
func SaveTap(t *Tap) error {
	data, err := toml.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(tapPath(t.Name), tapMetaFile), data, 0o644)
}

// DiscoverTaps lists enabled taps sorted by priority (highest first),
// then name for determinism.
func DiscoverTaps() []*Tap {
	entries, err := os.ReadDir(TapDir)
	if err != nil {
		return nil
	}
	var taps []*Tap
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		t, err := LoadTap(e.Name())
		if err != nil {
			debugf("skipping tap %s: %v\n", e.Name(), err)
			continue
		}
		if t.Enabled {
			taps = append(taps, t)
		}
	}
	sort.Slice(taps, func(i, j int) bool {
		if taps[i].Priority != taps[j].Priority {
			return taps[i].Priority > taps[j].Priority
		}
		return taps[i].Name < taps[j].Name
	})
	return taps
}

// AddTap clones a tap repository and writes its metadata.
func AddTap(ctx context.Context, name, url string, priority int) error {
	dest := tapPath(name)
	if dirExists(dest) {
		return fmt.Errorf("tap %s already exists", name)
	}
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth=1", url, dest)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to clone tap %s: %w", name, err)
	}

	t, err := LoadTap(name)
	if err != nil {
		// A bare recipe repo without tap.toml is still usable.
		t = &Tap{Name: name}
	}
	t.URL = url
	t.Priority = priority
	t.Enabled = true
	return SaveTap(t)
}

// RemoveTap deletes the local checkout.
func RemoveTap(name string) error {
	dest := tapPath(name)
	if !dirExists(dest) {
		return fmt.Errorf("tap %s not found", name)
	}
	return os.RemoveAll(dest)
}

// SyncTaps pulls every enabled tap.
func SyncTaps(ctx context.Context) error {
	var failed []string
	for _, t := range DiscoverTaps() {
		colArrow.Print("-> ")
		colSuccess.Printf("Syncing tap %s\n", t.Name)
		cmd := exec.CommandContext(ctx, "git", "-C", tapPath(t.Name), "pull", "--ff-only")
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			failed = append(failed, t.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to sync taps: %s", strings.Join(failed, ", "))
	}
	return nil
}

// TapBackend resolves packages from local tap checkouts. Each package is
// a directory containing a PKGBUILD and a .SRCINFO.
type TapBackend struct {
	Exec *Executor
}

func (b *TapBackend) Origin() Origin { return OriginTap }

func (b *TapBackend) Available() bool {
	return len(DiscoverTaps()) > 0
}

func (b *TapBackend) Search(ctx context.Context, name string) ([]PackageRecord, error) {
	var recs []PackageRecord
	for _, t := range DiscoverTaps() {
		pkgDir := filepath.Join(tapPath(t.Name), name)
		srcinfo := filepath.Join(pkgDir, ".SRCINFO")
		if !fileExists(srcinfo) {
			continue
		}
		pkgName, version, depends, err := ParseSrcinfo(srcinfo)
		if err != nil {
			debugf("tap %s: bad srcinfo for %s: %v\n", t.Name, name, err)
			continue
		}
		rec := PackageRecord{
			Name:       pkgName,
			Version:    version,
			Origin:     OriginTap,
			Tap:        t.Name,
			Source:     pkgDir,
			Depends:    depends,
			RecipePath: filepath.Join(pkgDir, "PKGBUILD"),
		}
		if fileExists(filepath.Join(pkgDir, "PKGBUILD.sig")) {
			rec.SigRef = filepath.Join(pkgDir, "PKGBUILD.sig")
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Fetch copies the recipe directory into destDir so sandbox builds never
// touch the tap checkout.
func (b *TapBackend) Fetch(ctx context.Context, rec PackageRecord, destDir string) (string, error) {
	recipeDir := filepath.Join(destDir, rec.Name)
	if err := os.MkdirAll(recipeDir, 0o755); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(rec.Source)
	if err != nil {
		return "", fmt.Errorf("tap recipe dir for %s unreadable: %w", rec.Name, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		src := filepath.Join(rec.Source, e.Name())
		if err := copyFile(src, filepath.Join(recipeDir, e.Name())); err != nil {
			return "", err
		}
	}
	return recipeDir, nil
}
