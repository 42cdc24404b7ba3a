package reap

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Session wires the full install pipeline. App commands construct one
// and drive it; tests swap individual stages.
type Session struct {
	Config    *Config
	Store     *Store
	Backends  []SourceBackend
	Resolver  *Resolver
	Graph     *GraphBuilder
	Auditor   *Auditor
	Sandbox   *Sandbox
	Snapshots *SnapshotManager
	Tx        *TxManager
}

// NewSession builds a session over the configured backends and the
// state store.
func NewSession(cfg *Config) (*Session, error) {
	store, err := OpenStateStore()
	if err != nil {
		return nil, err
	}
	backends := DefaultBackends(cfg, UserExec)
	resolver := NewResolver(cfg, backends)
	sandbox := NewSandbox(cfg, RootExec)
	snapshots := NewSnapshotManager(cfg, store, RootExec)
	return &Session{
		Config:    cfg,
		Store:     store,
		Backends:  backends,
		Resolver:  resolver,
		Graph:     NewGraphBuilder(cfg, resolver),
		Auditor:   NewAuditor(cfg, store),
		Sandbox:   sandbox,
		Snapshots: snapshots,
		Tx:        NewTxManager(cfg, store, snapshots, backends, sandbox, RootExec),
	}, nil
}

func (s *Session) Close() error {
	return s.Store.Close()
}

// ParseRequests turns command line arguments into root requests.
// "aur/yay" pins the backend, a bare name uses the preference order.
func ParseRequests(args []string) ([]Request, error) {
	var roots []Request
	for _, arg := range args {
		if i := strings.IndexByte(arg, '/'); i > 0 {
			origin, err := ParseOrigin(arg[:i])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", arg, err)
			}
			roots = append(roots, Request{Name: arg[i+1:], Pinned: origin})
			continue
		}
		roots = append(roots, Request{Name: arg})
	}
	return roots, nil
}

// InstallOptions tunes one install invocation.
type InstallOptions struct {
	// OverrideBlocked waives blocked audit verdicts for this
	// transaction only. The waiver is recorded on each result.
	OverrideBlocked bool
	OverrideBy      string
	// DryRun stops after printing the plan and audit summary.
	DryRun bool
}

// Install resolves, audits and transactionally installs the requested
// packages with their dependencies.
func (s *Session) Install(ctx context.Context, args []string, opts InstallOptions) error {
	roots, err := ParseRequests(args)
	if err != nil {
		return err
	}

	plan, err := s.Graph.Build(ctx, roots)
	if err != nil {
		return err
	}
	if len(plan.Nodes) == 0 {
		colNote.Println("Nothing to install")
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Install plan: %s\n", strings.Join(plan.Names(), " "))

	// Fetch recipes before auditing, the auditor reads them from disk.
	for i := range plan.Nodes {
		rec := &plan.Nodes[i].Record
		if rec.Origin != OriginAUR && rec.Origin != OriginTap {
			continue
		}
		fetched, err := s.Tx.Fetch(ctx, *rec)
		if err != nil {
			return &InstallAbortedError{Name: rec.Name, Stage: StageFetch, Err: err}
		}
		if rec.RecipePath == "" {
			if dirExists(fetched) {
				rec.RecipePath = filepath.Join(fetched, "PKGBUILD")
			} else {
				rec.RecipePath = fetched
			}
		}
	}

	pool := NewAuditPool(s.Auditor, s.Config.MaxJobs)
	audits, err := pool.Run(ctx, plan)
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	blocked := printAuditSummary(plan, audits)
	if len(blocked) > 0 {
		if !opts.OverrideBlocked {
			first := audits[blocked[0]]
			return &AuditBlockedError{
				Name:    first.Name,
				Backend: first.Origin,
				Reasons: first.Reasons,
			}
		}
		by := opts.OverrideBy
		if by == "" {
			by = "user"
		}
		for _, name := range blocked {
			audits[name].Override(by)
			colWarn.Printf("Blocked verdict for %s overridden by %s for this transaction\n", name, by)
		}
	}

	if opts.DryRun {
		return nil
	}

	explicit := make(map[string]bool, len(roots))
	for _, root := range roots {
		explicit[root.Name] = true
	}

	tx, err := s.Tx.Begin(ctx, plan, audits, explicit)
	if err != nil {
		return err
	}

	for _, node := range plan.Nodes {
		if err := RunHooks(ctx, HookPreInstall, node.Record, tx.ID); err != nil {
			tx.release()
			s.Tx.setState(tx, TxFailed, err.Error())
			return err
		}
	}

	if err := s.Tx.Commit(ctx, tx); err != nil {
		if tx.Report != nil {
			colError.Println(tx.Report.String())
		}
		return err
	}

	for _, node := range plan.Nodes {
		if err := RunHooks(ctx, HookPostInstall, node.Record, tx.ID); err != nil {
			colWarn.Printf("Warning: post-install hook failed: %v\n", err)
		}
	}
	return nil
}

// printAuditSummary reports verdicts and returns the blocked names in
// plan order.
func printAuditSummary(plan *InstallPlan, audits map[string]*AuditResult) []string {
	var blocked []string
	for _, node := range plan.Nodes {
		res, ok := audits[node.Record.Name]
		if !ok {
			continue
		}
		switch res.Verdict {
		case VerdictTrusted:
			debugf("%s: trusted\n", res.Name)
		case VerdictWarn:
			colWarn.Printf("%s: warnings\n", res.Name)
			for _, reason := range res.Reasons {
				colWarn.Printf("    %s\n", reason)
			}
		case VerdictBlocked:
			colError.Printf("%s: BLOCKED\n", res.Name)
			for _, reason := range res.Reasons {
				colError.Printf("    %s\n", reason)
			}
			blocked = append(blocked, res.Name)
		}
	}
	return blocked
}

// Outdated compares the installed set against the best resolvable
// versions and returns the packages with an upgrade available.
func (s *Session) Outdated(ctx context.Context) ([]PackageRecord, error) {
	installed, err := s.Store.ListInstalled()
	if err != nil {
		return nil, err
	}
	var updates []PackageRecord
	for _, pkg := range installed {
		res, err := s.Resolver.Resolve(ctx, pkg.Name)
		if err != nil {
			debugf("skipping %s during upgrade check: %v\n", pkg.Name, err)
			continue
		}
		best := res.Best(s.Config.BackendOrder, pkg.Origin)
		if best == nil {
			continue
		}
		if compareVersions(best.Version, pkg.Version) > 0 {
			updates = append(updates, *best)
		}
	}
	return updates, nil
}

// Upgrade installs newer versions for the named packages, or for
// everything outdated when no names are given. One transaction covers
// the whole batch.
func (s *Session) Upgrade(ctx context.Context, names []string, opts InstallOptions) error {
	updates, err := s.Outdated(ctx)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		want := make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
		var filtered []PackageRecord
		for _, u := range updates {
			if want[u.Name] {
				filtered = append(filtered, u)
			}
		}
		updates = filtered
	}
	if len(updates) == 0 {
		colSuccess.Println("Everything is up to date")
		return nil
	}

	args := make([]string, 0, len(updates))
	for _, u := range updates {
		args = append(args, string(u.Origin)+"/"+u.Name)
	}
	return s.Install(ctx, args, opts)
}

// Rollback restores the given snapshot, or the most recent one when id
// is empty.
func (s *Session) Rollback(ctx context.Context, id string) error {
	if id == "" {
		metas, err := s.Store.ListSnapshots()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			return fmt.Errorf("no snapshots to roll back to: %w", ErrNotFound)
		}
		id = metas[0].ID
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Rolling back to snapshot %s\n", id)
	if err := s.Snapshots.Restore(ctx, id); err != nil {
		return err
	}
	colSuccess.Println("Rollback complete")
	return nil
}
