package reap

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

type fakeBackend struct {
	origin    Origin
	available bool
	records   []PackageRecord
	err       error
}

func (b *fakeBackend) Origin() Origin  { return b.origin }
func (b *fakeBackend) Available() bool { return b.available }

func (b *fakeBackend) Search(ctx context.Context, name string) ([]PackageRecord, error) {
	if b.err != nil {
		return nil, b.err
	}
	var out []PackageRecord
	for _, r := range b.records {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

func (b *fakeBackend) Fetch(ctx context.Context, r PackageRecord, destDir string) (string, error) {
	return destDir, nil
}

func newTestResolver(t *testing.T, backends ...SourceBackend) *Resolver {
	t.Helper()
	cfg := newTestConfig(t)
	return NewResolver(cfg, backends)
}

func TestResolvePrefersBackendOrder(t *testing.T) {
	pacman := &fakeBackend{origin: OriginPacman, available: true,
		records: []PackageRecord{rec("vim", "9.1", OriginPacman)}}
	aur := &fakeBackend{origin: OriginAUR, available: true,
		records: []PackageRecord{rec("vim", "9.2", OriginAUR)}}
	r := newTestResolver(t, pacman, aur)

	res, err := r.Resolve(context.Background(), "vim")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(res.Records))
	}

	best := res.Best(r.Config.BackendOrder, "")
	if best == nil || best.Origin != OriginPacman {
		t.Errorf("best = %+v, want pacman record", best)
	}

	pinned := res.Best(r.Config.BackendOrder, OriginAUR)
	if pinned == nil || pinned.Origin != OriginAUR || pinned.Version != "9.2" {
		t.Errorf("pinned best = %+v", pinned)
	}
}

func TestResolveToleratesFailedBackend(t *testing.T) {
	pacman := &fakeBackend{origin: OriginPacman, available: true,
		err: fmt.Errorf("repo sync failed")}
	aur := &fakeBackend{origin: OriginAUR, available: true,
		records: []PackageRecord{rec("yay", "12.0", OriginAUR)}}
	r := newTestResolver(t, pacman, aur)

	res, err := r.Resolve(context.Background(), "yay")
	if err != nil {
		t.Fatalf("partial failure must still resolve: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].Origin != OriginAUR {
		t.Errorf("records = %v", res.Records)
	}

	var failures int
	for _, st := range res.Statuses {
		if st.Err != nil {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("statuses record %d failures, want 1", failures)
	}
}

func TestResolveAllBackendsFailed(t *testing.T) {
	pacman := &fakeBackend{origin: OriginPacman, available: true,
		err: fmt.Errorf("repo sync failed")}
	aur := &fakeBackend{origin: OriginAUR, available: true,
		err: fmt.Errorf("aur rpc down")}
	r := newTestResolver(t, pacman, aur)

	_, err := r.Resolve(context.Background(), "anything")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want the backend failure, not NotFound", err)
	}
}

func TestResolveNotFound(t *testing.T) {
	pacman := &fakeBackend{origin: OriginPacman, available: true}
	r := newTestResolver(t, pacman)

	_, err := r.Resolve(context.Background(), "no-such-package")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveUnavailableBackendSkipped(t *testing.T) {
	flatpak := &fakeBackend{origin: OriginFlatpak, available: false}
	pacman := &fakeBackend{origin: OriginPacman, available: true,
		records: []PackageRecord{rec("git", "2.46", OriginPacman)}}
	r := newTestResolver(t, flatpak, pacman)

	res, err := r.Resolve(context.Background(), "git")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var unavailable *BackendUnavailableError
	found := false
	for _, st := range res.Statuses {
		if st.Backend == OriginFlatpak && errors.As(st.Err, &unavailable) {
			found = true
		}
	}
	if !found {
		t.Error("unavailable backend not reported in statuses")
	}
}

func TestResolveIgnoredPackage(t *testing.T) {
	pacman := &fakeBackend{origin: OriginPacman, available: true,
		records: []PackageRecord{rec("linux-custom", "6.8", OriginPacman)}}
	r := newTestResolver(t, pacman)
	r.Config.Ignored = map[string]bool{"linux-custom": true}

	if _, err := r.Resolve(context.Background(), "linux-custom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ignored package resolved: %v", err)
	}
}

func TestUnifiedSearchDeduplicatesByPreference(t *testing.T) {
	pacman := &fakeBackend{origin: OriginPacman, available: true,
		records: []PackageRecord{rec("firefox", "128.0", OriginPacman)}}
	aur := &fakeBackend{origin: OriginAUR, available: true,
		records: []PackageRecord{rec("firefox", "129.0b1", OriginAUR)}}
	r := newTestResolver(t, pacman, aur)

	out, _ := r.UnifiedSearch(context.Background(), "firefox")
	if len(out) != 1 {
		t.Fatalf("results = %d, want deduplicated single entry", len(out))
	}
	if out[0].Origin != OriginPacman {
		t.Errorf("dedup kept %s, want the preferred backend", out[0].Origin)
	}
}

func TestDedupRecordsOrdersVersionsDescending(t *testing.T) {
	recs := dedupRecords([]PackageRecord{
		rec("pkg", "1.9", OriginAUR),
		rec("pkg", "1.10", OriginAUR),
		rec("pkg", "1.10", OriginAUR),
	})
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].Version != "1.10" {
		t.Errorf("first version = %s, want 1.10", recs[0].Version)
	}
}
