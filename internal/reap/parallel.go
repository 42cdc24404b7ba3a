package reap

import (
	"context"
	"sort"
	"sync"
	"time"
)

// AuditPool runs audits for a whole plan on a bounded worker pool.
// Auditing is read-only so parallelism is safe; install execution
// stays strictly ordered elsewhere.
type AuditPool struct {
	MaxJobs int
	Auditor *Auditor

	mu      sync.Mutex
	results map[string]*AuditResult
	failed  map[string]error
}

func NewAuditPool(auditor *Auditor, maxJobs int) *AuditPool {
	if maxJobs < 1 {
		maxJobs = 1
	}
	return &AuditPool{
		MaxJobs: maxJobs,
		Auditor: auditor,
		results: make(map[string]*AuditResult),
		failed:  make(map[string]error),
	}
}

// Run audits every node of the plan. The first auditor failure cancels
// the remaining work; untrustworthy verdicts are results, not failures.
func (p *AuditPool) Run(ctx context.Context, plan *InstallPlan) (map[string]*AuditResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan PackageRecord)
	var wg sync.WaitGroup

	for i := 0; i < p.MaxJobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				res, err := p.Auditor.Audit(ctx, rec)
				p.mu.Lock()
				if err != nil {
					p.failed[rec.Name] = err
					p.mu.Unlock()
					cancel()
					continue
				}
				p.results[rec.Name] = res
				p.mu.Unlock()
			}
		}()
	}

	start := time.Now()
	for _, node := range plan.Nodes {
		select {
		case jobs <- node.Record:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	debugf("audited %d packages in %s\n", len(p.results), time.Since(start).Round(time.Millisecond))

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failed) > 0 {
		// Deterministic error choice: lowest name wins.
		names := make([]string, 0, len(p.failed))
		for name := range p.failed {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, p.failed[names[0]]
	}
	out := make(map[string]*AuditResult, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out, nil
}
