package reap

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// BackendStatus records the outcome of querying one backend during a
// resolution. Partial results are valid: an unreachable backend degrades
// to BackendUnavailable without aborting its siblings.
type BackendStatus struct {
	Backend Origin
	Err     error
}

// Resolution is the result of resolving one requested name.
type Resolution struct {
	Name     string
	Records  []PackageRecord
	Statuses []BackendStatus
}

// Best returns the highest-preference record, or nil when unresolved.
// Preference follows the backend order the resolver was built with; a
// pinned origin restricts the choice to that backend.
func (r *Resolution) Best(order []Origin, pinned Origin) *PackageRecord {
	for _, origin := range order {
		if pinned != "" && origin != pinned {
			continue
		}
		for i := range r.Records {
			if r.Records[i].Origin == origin {
				return &r.Records[i]
			}
		}
	}
	return nil
}

// Resolver queries the configured backends and normalizes their results.
type Resolver struct {
	Backends []SourceBackend
	Config   *Config
}

func NewResolver(cfg *Config, backends []SourceBackend) *Resolver {
	return &Resolver{Backends: backends, Config: cfg}
}

// Resolve queries all usable backends for name concurrently. Each backend
// query runs under its own timeout so a slow backend degrades to
// BackendUnavailable rather than blocking the whole resolution. Returns
// ErrNotFound only when no backend produced a match.
func (r *Resolver) Resolve(ctx context.Context, name string) (*Resolution, error) {
	if r.Config.Ignored[name] {
		return nil, ErrNotFound
	}

	res := &Resolution{Name: name}

	type backendResult struct {
		origin Origin
		recs   []PackageRecord
		err    error
	}

	results := make(chan backendResult, len(r.Backends))
	var wg sync.WaitGroup
	for _, b := range r.Backends {
		if !b.Available() {
			res.Statuses = append(res.Statuses, BackendStatus{
				Backend: b.Origin(),
				Err:     &BackendUnavailableError{Backend: b.Origin(), Err: errors.New("not usable on this host")},
			})
			continue
		}
		wg.Add(1)
		go func(b SourceBackend) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, r.Config.BackendTimeout)
			defer cancel()
			recs, err := b.Search(qctx, name)
			if qctx.Err() != nil && err != nil {
				err = &BackendUnavailableError{Backend: b.Origin(), Err: qctx.Err()}
			}
			results <- backendResult{origin: b.Origin(), recs: recs, err: err}
		}(b)
	}

	wg.Wait()
	close(results)

	byBackend := make(map[Origin][]PackageRecord)
	for br := range results {
		res.Statuses = append(res.Statuses, BackendStatus{Backend: br.origin, Err: br.err})
		if br.err != nil {
			continue
		}
		byBackend[br.origin] = dedupRecords(br.recs)
	}

	// Deterministic record order: configured backend preference, then
	// name, then version.
	for _, origin := range r.Config.BackendOrder {
		res.Records = append(res.Records, byBackend[origin]...)
	}
	sort.SliceStable(res.Statuses, func(i, j int) bool {
		return res.Statuses[i].Backend < res.Statuses[j].Backend
	})

	if len(res.Records) == 0 {
		if !r.anyBackendSucceeded(res) {
			// Every backend failed; report the first failure rather than
			// a misleading NotFound.
			for _, st := range res.Statuses {
				if st.Err != nil {
					return res, st.Err
				}
			}
		}
		return res, ErrNotFound
	}
	return res, nil
}

func (r *Resolver) anyBackendSucceeded(res *Resolution) bool {
	for _, st := range res.Statuses {
		if st.Err == nil {
			return true
		}
	}
	return false
}

// UnifiedSearch resolves a free-form query across all backends and
// deduplicates by name, favoring the configured backend order.
func (r *Resolver) UnifiedSearch(ctx context.Context, query string) ([]PackageRecord, []BackendStatus) {
	res, err := r.Resolve(ctx, query)
	if err != nil && res == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []PackageRecord
	for _, rec := range res.Records {
		if seen[rec.Name] {
			continue
		}
		seen[rec.Name] = true
		out = append(out, rec)
	}
	return out, res.Statuses
}

// dedupRecords drops duplicate (name, version) pairs within one backend.
func dedupRecords(recs []PackageRecord) []PackageRecord {
	seen := make(map[string]bool)
	var out []PackageRecord
	for _, rec := range recs {
		key := rec.Name + "\x00" + rec.Version
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return compareVersions(out[i].Version, out[j].Version) > 0
	})
	return out
}
