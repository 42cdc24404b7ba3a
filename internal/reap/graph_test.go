package reap

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func testGraphBuilder(t *testing.T, universe map[string][]PackageRecord) *GraphBuilder {
	t.Helper()
	cfg := newTestConfig(t)
	return NewGraphBuilder(cfg, &fakeLookup{records: universe})
}

func TestBuildOrdersDependenciesFirst(t *testing.T) {
	g := testGraphBuilder(t, map[string][]PackageRecord{
		"app": {rec("app", "1.0", OriginAUR, "libfoo", "libbar")},
		"libfoo": {rec("libfoo", "2.0", OriginPacman, "libbar")},
		"libbar": {rec("libbar", "3.0", OriginPacman)},
	})

	plan, err := g.Build(context.Background(), []Request{{Name: "app"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"libbar", "libfoo", "app"}
	if !reflect.DeepEqual(plan.Names(), want) {
		t.Errorf("plan order = %v, want %v", plan.Names(), want)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	universe := map[string][]PackageRecord{
		"app":  {rec("app", "1.0", OriginAUR, "zeta", "alpha", "mid")},
		"zeta": {rec("zeta", "1.0", OriginPacman)},
		"alpha": {rec("alpha", "1.0", OriginPacman)},
		"mid":  {rec("mid", "1.0", OriginPacman)},
	}

	var first []string
	for i := 0; i < 10; i++ {
		g := testGraphBuilder(t, universe)
		plan, err := g.Build(context.Background(), []Request{{Name: "app"}})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if first == nil {
			first = plan.Names()
			continue
		}
		if !reflect.DeepEqual(plan.Names(), first) {
			t.Fatalf("run %d produced %v, first run produced %v", i, plan.Names(), first)
		}
	}
	// Independent roots with equal depth come out alphabetically.
	want := []string{"alpha", "mid", "zeta", "app"}
	if !reflect.DeepEqual(first, want) {
		t.Errorf("plan order = %v, want %v", first, want)
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	g := testGraphBuilder(t, map[string][]PackageRecord{
		"a": {rec("a", "1.0", OriginAUR, "b")},
		"b": {rec("b", "1.0", OriginAUR, "c")},
		"c": {rec("c", "1.0", OriginAUR, "a")},
	})

	_, err := g.Build(context.Background(), []Request{{Name: "a"}})
	var cycleErr *CycleDetectedError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("err = %v, want CycleDetectedError", err)
	}
	if len(cycleErr.Cycle) < 3 {
		t.Errorf("cycle path %v too short", cycleErr.Cycle)
	}
}

func TestBuildVersionConflictNamesBothRequirers(t *testing.T) {
	g := testGraphBuilder(t, map[string][]PackageRecord{
		"app1":   {rec("app1", "1.0", OriginAUR, "shared>=2.0")},
		"app2":   {rec("app2", "1.0", OriginAUR, "shared<2.0")},
		"shared": {rec("shared", "2.5", OriginPacman)},
	})

	_, err := g.Build(context.Background(), []Request{{Name: "app1"}, {Name: "app2"}})
	var conflict *VersionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want VersionConflictError", err)
	}
	if conflict.Name != "shared" {
		t.Errorf("conflict.Name = %q, want shared", conflict.Name)
	}
	if conflict.RequirerA == "" || conflict.RequirerB == "" {
		t.Errorf("conflict must name both requirers, got %q and %q", conflict.RequirerA, conflict.RequirerB)
	}
}

func TestBuildPinnedBackend(t *testing.T) {
	g := testGraphBuilder(t, map[string][]PackageRecord{
		"tool": {
			rec("tool", "1.0", OriginPacman),
			rec("tool", "1.2", OriginAUR),
		},
	})

	plan, err := g.Build(context.Background(), []Request{{Name: "tool", Pinned: OriginAUR}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	node := plan.Nodes[0]
	if node.Record.Origin != OriginAUR {
		t.Errorf("origin = %s, want aur", node.Record.Origin)
	}
	if node.ChosenBy != "pinned" {
		t.Errorf("ChosenBy = %q, want pinned", node.ChosenBy)
	}
}

func TestBuildPreferenceOrder(t *testing.T) {
	g := testGraphBuilder(t, map[string][]PackageRecord{
		"tool": {
			rec("tool", "1.2", OriginAUR),
			rec("tool", "1.0", OriginPacman),
		},
	})

	plan, err := g.Build(context.Background(), []Request{{Name: "tool"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// Default order prefers pacman over aur regardless of version.
	if got := plan.Nodes[0].Record.Origin; got != OriginPacman {
		t.Errorf("origin = %s, want pacman", got)
	}
	if plan.Nodes[0].ChosenBy != "preference" {
		t.Errorf("ChosenBy = %q, want preference", plan.Nodes[0].ChosenBy)
	}
}

func TestBuildIgnoredDependencySkipped(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Ignored["skipme"] = true
	g := NewGraphBuilder(cfg, &fakeLookup{records: map[string][]PackageRecord{
		"app": {rec("app", "1.0", OriginAUR, "skipme")},
	}})

	plan, err := g.Build(context.Background(), []Request{{Name: "app"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Nodes) != 1 {
		t.Errorf("plan = %v, ignored dependency must not be expanded", plan.Names())
	}
}

func TestBuildUnknownPackage(t *testing.T) {
	g := testGraphBuilder(t, map[string][]PackageRecord{})
	_, err := g.Build(context.Background(), []Request{{Name: "ghost"}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
