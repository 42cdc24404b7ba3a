package reap

import (
	"context"
	"fmt"
	"sort"
)

// Lookup is the resolver capability the graph builder depends on;
// narrowed to an interface so tests can inject a fixed package universe.
type Lookup interface {
	Resolve(ctx context.Context, name string) (*Resolution, error)
}

// Request is one root the user asked for, optionally pinned to a backend
// ("aur/foo" on the command line).
type Request struct {
	Name   string
	Pinned Origin
}

// GraphBuilder expands a requested package set into an ordered,
// conflict-free install plan across backends.
type GraphBuilder struct {
	Lookup Lookup
	Config *Config
}

func NewGraphBuilder(cfg *Config, lookup Lookup) *GraphBuilder {
	return &GraphBuilder{Lookup: lookup, Config: cfg}
}

type graphNode struct {
	record    PackageRecord
	requirers []string
	chosenBy  string
	deps      []string
	// firstConstraint remembers who imposed the first version constraint,
	// for VersionConflict reporting.
	firstConstraint  DepSpec
	firstConstrainer string
}

// Build expands the roots transitively, detects cycles, selects backends
// and returns a deterministically ordered InstallPlan.
func (g *GraphBuilder) Build(ctx context.Context, roots []Request) (*InstallPlan, error) {
	nodes := make(map[string]*graphNode)
	inProgress := make(map[string]bool)
	var stack []string

	var visit func(name string, pinned Origin, requirer string, constraint DepSpec) error
	visit = func(name string, pinned Origin, requirer string, constraint DepSpec) error {
		if inProgress[name] {
			// Close the cycle for the error message.
			cycle := append(cycleSuffix(stack, name), name)
			return &CycleDetectedError{Cycle: cycle}
		}

		if node, ok := nodes[name]; ok {
			if requirer != "" {
				node.requirers = append(node.requirers, requirer)
			}
			return g.checkConstraint(node, requirer, constraint)
		}

		res, err := g.Lookup.Resolve(ctx, name)
		if err != nil {
			if requirer != "" {
				return fmt.Errorf("dependency %s of %s: %w", name, requirer, err)
			}
			return fmt.Errorf("%s: %w", name, err)
		}

		rec := res.Best(g.Config.BackendOrder, pinned)
		if rec == nil {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}

		node := &graphNode{record: *rec}
		if pinned != "" {
			node.chosenBy = "pinned"
		} else {
			node.chosenBy = "preference"
		}
		if requirer != "" {
			node.requirers = append(node.requirers, requirer)
		}
		nodes[name] = node

		if err := g.checkConstraint(node, requirer, constraint); err != nil {
			return err
		}

		inProgress[name] = true
		stack = append(stack, name)
		defer func() {
			delete(inProgress, name)
			stack = stack[:len(stack)-1]
		}()

		for _, dep := range parseDepends(rec.Depends) {
			if dep.Name == name {
				continue
			}
			if g.Config.Ignored[dep.Name] {
				continue
			}
			node.deps = append(node.deps, dep.Name)
			if err := visit(dep.Name, "", name, dep); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if err := visit(root.Name, root.Pinned, "", DepSpec{}); err != nil {
			return nil, err
		}
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	plan := &InstallPlan{}
	for _, name := range order {
		n := nodes[name]
		sort.Strings(n.requirers)
		plan.Nodes = append(plan.Nodes, PlanNode{
			Record:    n.record,
			Requirers: n.requirers,
			ChosenBy:  n.chosenBy,
		})
	}
	return plan, nil
}

// checkConstraint verifies a requirer's version constraint against the
// node's resolved version. No implicit version coercion: the first
// unsatisfiable constraint pair fails the whole build.
func (g *GraphBuilder) checkConstraint(node *graphNode, requirer string, c DepSpec) error {
	if c.Op == "" {
		return nil
	}
	if requirer == "" {
		requirer = "(requested)"
	}
	if !versionSatisfies(node.record.Version, c.Op, c.Version) {
		other := node.firstConstrainer
		otherSpec := node.firstConstraint.String()
		if other == "" {
			other = "(resolved)"
			otherSpec = node.record.Name + "==" + node.record.Version
		}
		return &VersionConflictError{
			Name:        node.record.Name,
			RequirerA:   other,
			ConstraintA: otherSpec,
			RequirerB:   requirer,
			ConstraintB: c.String(),
		}
	}
	if node.firstConstrainer == "" {
		node.firstConstrainer = requirer
		node.firstConstraint = c
	}
	return nil
}

// cycleSuffix trims the DFS stack down to the segment forming the cycle.
func cycleSuffix(stack []string, name string) []string {
	for i, s := range stack {
		if s == name {
			out := make([]string, len(stack)-i)
			copy(out, stack[i:])
			return out
		}
	}
	return append([]string{}, stack...)
}

// topoSort flattens the graph with Kahn's algorithm, breaking ties
// alphabetically so identical inputs always yield identical plans.
func topoSort(nodes map[string]*graphNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for name := range nodes {
		indegree[name] = 0
	}
	for _, n := range nodes {
		for _, dep := range n.deps {
			if _, ok := nodes[dep]; ok {
				indegree[n.record.Name]++
			}
		}
	}

	// dependents[d] = packages that require d.
	dependents := make(map[string][]string)
	for name, n := range nodes {
		for _, dep := range n.deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		changed := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				changed = true
			}
		}
		if changed {
			sort.Strings(ready)
		}
	}

	if len(order) != len(nodes) {
		// The DFS already reports cycles with their path; this is a
		// safety net.
		var stuck []string
		for name, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CycleDetectedError{Cycle: stuck}
	}
	return order, nil
}
