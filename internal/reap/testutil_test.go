package reap

import (
	"context"
	"testing"
)

// newTestConfig relocates all state under a temp dir and returns an
// initialized config.
func newTestConfig(t *testing.T) *Config {
	t.Helper()
	root := t.TempDir()
	cfg := &Config{Values: map[string]string{
		"REAP_ROOT":      root,
		"REAP_STATE_DIR": root + "/state",
		"REAP_CACHE_DIR": root + "/cache",
		"TMPDIR":         root + "/tmp",
	}}
	InitConfig(cfg)
	if err := EnsureStateDirs(); err != nil {
		t.Fatalf("EnsureStateDirs: %v", err)
	}
	return cfg
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeLookup serves a fixed package universe to the graph builder.
type fakeLookup struct {
	records map[string][]PackageRecord
}

func (f *fakeLookup) Resolve(ctx context.Context, name string) (*Resolution, error) {
	recs, ok := f.records[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &Resolution{Name: name, Records: recs}, nil
}

func rec(name, version string, origin Origin, depends ...string) PackageRecord {
	return PackageRecord{
		Name:    name,
		Version: version,
		Origin:  origin,
		Depends: depends,
	}
}
