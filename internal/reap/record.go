package reap

import (
	"fmt"
	"strings"
)

// Origin identifies the package ecosystem a record came from.
type Origin string

const (
	OriginPacman  Origin = "pacman"
	OriginAUR     Origin = "aur"
	OriginChaotic Origin = "chaotic"
	OriginFlatpak Origin = "flatpak"
	OriginTap     Origin = "tap"
)

// Label returns the bracketed tag used in search output.
func (o Origin) Label() string {
	switch o {
	case OriginPacman:
		return "[pacman]"
	case OriginAUR:
		return "[aur]"
	case OriginChaotic:
		return "[chaotic-aur]"
	case OriginFlatpak:
		return "[flatpak]"
	case OriginTap:
		return "[tap]"
	}
	return "[unknown]"
}

// ParseOrigin parses a user-supplied backend name.
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pacman", "repo":
		return OriginPacman, nil
	case "aur":
		return OriginAUR, nil
	case "chaotic", "chaotic-aur":
		return OriginChaotic, nil
	case "flatpak":
		return OriginFlatpak, nil
	case "tap", "custom":
		return OriginTap, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// PackageRecord is the normalized view of a package across all backends.
// Immutable once resolved; identity is (Name, Origin, Version).
type PackageRecord struct {
	Name        string
	Version     string
	Description string
	Origin      Origin
	// Tap holds the tap name when Origin is OriginTap.
	Tap string
	// Source is the URI or local path the artifact is fetched from.
	Source string
	// Depends holds the declared runtime dependencies, unparsed
	// ("name", "name>=1.2").
	Depends []string
	// SigRef points at the detached signature for the recipe, empty when
	// the backend publishes unsigned recipes.
	SigRef string
	// RecipePath is the local path of the build recipe once fetched.
	RecipePath string
}

// ID returns the record identity used for dedup and audit keys.
func (r PackageRecord) ID() string {
	return fmt.Sprintf("%s/%s/%s", r.Origin, r.Name, r.Version)
}

// PlanNode is a PackageRecord placed in an InstallPlan, annotated with the
// backend-selection decision for audit traceability.
type PlanNode struct {
	Record PackageRecord
	// Requirers lists the plan nodes that pulled this node in; empty for
	// user-requested roots.
	Requirers []string
	// ChosenBy records why this backend won: "pinned" when the user forced
	// it, otherwise "preference".
	ChosenBy string
}

// InstallPlan is an ordered, conflict-free sequence of plan nodes,
// topologically sorted by dependency edges.
type InstallPlan struct {
	Nodes []PlanNode
}

// Names returns the install order as a plain name list.
func (p *InstallPlan) Names() []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.Record.Name
	}
	return out
}

// Find returns the node for name, or nil.
func (p *InstallPlan) Find(name string) *PlanNode {
	for i := range p.Nodes {
		if p.Nodes[i].Record.Name == name {
			return &p.Nodes[i]
		}
	}
	return nil
}
