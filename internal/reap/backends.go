package reap

import (
	"context"
)

// SourceBackend is the capability one package ecosystem exposes to the
// core. The core is agnostic to transport and metadata format per backend.
type SourceBackend interface {
	// Origin identifies the ecosystem.
	Origin() Origin
	// Available reports whether the backend can be used on this host at
	// all (binary present, repo configured). Cheap; no network.
	Available() bool
	// Search returns candidate records matching name. Exact-name lookups
	// pass the bare name; the backend decides match semantics.
	Search(ctx context.Context, name string) ([]PackageRecord, error)
	// Fetch materializes the build recipe or binary artifact for a record
	// under destDir and returns the local path.
	Fetch(ctx context.Context, rec PackageRecord, destDir string) (string, error)
}

// DefaultBackends instantiates the real backends in configured preference
// order, skipping any the host cannot use.
func DefaultBackends(cfg *Config, exec *Executor) []SourceBackend {
	all := map[Origin]SourceBackend{
		OriginPacman:  &PacmanBackend{Exec: exec},
		OriginAUR:     NewAURBackend(),
		OriginChaotic: &ChaoticBackend{Exec: exec},
		OriginFlatpak: &FlatpakBackend{Exec: exec},
		OriginTap:     &TapBackend{Exec: exec},
	}
	var out []SourceBackend
	for _, origin := range cfg.BackendOrder {
		if b, ok := all[origin]; ok {
			out = append(out, b)
		}
	}
	return out
}
