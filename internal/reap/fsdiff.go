package reap

import (
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"lukechampine.com/blake3"
)

// ManifestEntry describes one file in a tree manifest.
type ManifestEntry struct {
	Path string
	Mode fs.FileMode
	Size int64
	Hash string
	Link string
}

// BuildManifest walks root and hashes every regular file. Symlinks are
// recorded by target, directories by mode only.
func BuildManifest(root string) (map[string]ManifestEntry, error) {
	manifest := make(map[string]ManifestEntry)
	err := filepath.Walk(root, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		entry := ManifestEntry{Path: rel, Mode: info.Mode(), Size: info.Size()}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("failed to read symlink %s: %w", path, err)
			}
			entry.Link = target
		case info.Mode().IsRegular():
			hash, err := hashFile(path)
			if err != nil {
				return err
			}
			entry.Hash = hash
		}
		manifest[rel] = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest of %s: %w", root, err)
	}
	return manifest, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ManifestDiff lists paths that differ between two manifests.
type ManifestDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d ManifestDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffManifests compares two manifests. Entries differ when hash,
// symlink target or mode changed.
func DiffManifests(before, after map[string]ManifestEntry) ManifestDiff {
	var diff ManifestDiff
	for path, b := range before {
		a, ok := after[path]
		if !ok {
			diff.Removed = append(diff.Removed, path)
			continue
		}
		if a.Hash != b.Hash || a.Link != b.Link || a.Mode != b.Mode {
			diff.Changed = append(diff.Changed, path)
		}
	}
	for path := range after {
		if _, ok := before[path]; !ok {
			diff.Added = append(diff.Added, path)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}
