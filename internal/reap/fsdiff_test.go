package reap

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDiffManifestsDetectsChanges(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep.txt":   "same",
		"change.txt": "v1",
		"drop.txt":   "bye",
	})
	before, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "change.txt"), []byte("v2"), 0644); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if err := os.Remove(filepath.Join(root, "drop.txt")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	writeTree(t, root, map[string]string{"new.txt": "hi"})

	after, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	diff := DiffManifests(before, after)
	if !reflect.DeepEqual(diff.Added, []string{"new.txt"}) {
		t.Errorf("Added = %v", diff.Added)
	}
	if !reflect.DeepEqual(diff.Removed, []string{"drop.txt"}) {
		t.Errorf("Removed = %v", diff.Removed)
	}
	if !reflect.DeepEqual(diff.Changed, []string{"change.txt"}) {
		t.Errorf("Changed = %v", diff.Changed)
	}
}

func TestDiffManifestsIdenticalTreesEmpty(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "sub/b.txt": "y"})

	before, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	after, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}
	if diff := DiffManifests(before, after); !diff.Empty() {
		t.Errorf("diff of identical trees = %+v", diff)
	}
}

func TestDiffManifestsSymlinkRetarget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "x", "b.txt": "y"})
	link := filepath.Join(root, "current")
	if err := os.Symlink("a.txt", link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	before, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	if err := os.Remove(link); err != nil {
		t.Fatalf("remove link: %v", err)
	}
	if err := os.Symlink("b.txt", link); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	after, err := BuildManifest(root)
	if err != nil {
		t.Fatalf("BuildManifest: %v", err)
	}

	diff := DiffManifests(before, after)
	if !reflect.DeepEqual(diff.Changed, []string{"current"}) {
		t.Errorf("Changed = %v", diff.Changed)
	}
}
