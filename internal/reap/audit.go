package reap

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Verdict classifies a package after audit. Severity is ordered:
// blocked wins over warn wins over trusted.
type Verdict string

const (
	VerdictTrusted Verdict = "trusted"
	VerdictWarn    Verdict = "warn"
	VerdictBlocked Verdict = "blocked"
)

func verdictRank(v Verdict) int {
	switch v {
	case VerdictBlocked:
		return 2
	case VerdictWarn:
		return 1
	default:
		return 0
	}
}

func maxVerdict(a, b Verdict) Verdict {
	if verdictRank(b) > verdictRank(a) {
		return b
	}
	return a
}

// AuditResult is the combined outcome of the trust checks for one
// package in a plan.
type AuditResult struct {
	Name       string
	Origin     Origin
	Version    string
	Verdict    Verdict
	Reasons    []string
	Findings   []LintFinding
	RecipeDiff string
	RecipeHash string
	// Overridden is set when a blocked verdict was explicitly waived for
	// the current transaction.
	Overridden bool
	OverrideBy string
}

func (r *AuditResult) addReason(v Verdict, reason string) {
	r.Verdict = maxVerdict(r.Verdict, v)
	r.Reasons = append(r.Reasons, reason)
}

// Installable reports whether this result permits installation.
func (r *AuditResult) Installable() bool {
	return r.Verdict != VerdictBlocked || r.Overridden
}

// AuditCache persists recipe hashes across runs so the auditor can
// flag changes since the last accepted audit.
type AuditCache interface {
	LastAuditedRecipe(name string, origin Origin) (hash string, content []byte, err error)
	RecordAudit(name string, origin Origin, version, hash string, content []byte, verdict Verdict) error
}

// Auditor runs the trust pipeline: provenance, signature, lint, and
// recipe drift, in that order.
type Auditor struct {
	Config *Config
	Cache  AuditCache
}

func NewAuditor(cfg *Config, cache AuditCache) *Auditor {
	return &Auditor{Config: cfg, Cache: cache}
}

// Audit evaluates one resolved package. It never returns an error for
// an untrustworthy package; distrust is expressed in the verdict.
// Errors are reserved for the auditor's own failures.
func (a *Auditor) Audit(ctx context.Context, rec PackageRecord) (*AuditResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &AuditResult{
		Name:    rec.Name,
		Origin:  rec.Origin,
		Version: rec.Version,
		Verdict: VerdictTrusted,
	}

	// Binary backends carry their own signing chains; the recipe
	// pipeline only applies to sources we build ourselves.
	switch rec.Origin {
	case OriginPacman, OriginChaotic, OriginFlatpak:
		res.Reasons = append(res.Reasons, "verified by "+rec.Origin.Label()+" backend")
		return res, nil
	}

	if rec.RecipePath == "" {
		res.addReason(VerdictBlocked, "no recipe available to audit")
		return res, nil
	}
	recipe, err := os.ReadFile(rec.RecipePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe for %s: %w", rec.Name, err)
	}

	sum := blake3.Sum256(recipe)
	res.RecipeHash = hex.EncodeToString(sum[:])

	a.checkSignature(rec, res)

	if !a.Config.SkipLint {
		findings, err := LintScript(rec.Name+"/PKGBUILD", strings.NewReader(string(recipe)))
		if err != nil {
			return nil, fmt.Errorf("lint failed for %s: %w", rec.Name, err)
		}
		res.Findings = findings
		for _, f := range findings {
			res.addReason(f.Severity, f.String())
		}
	}

	if err := a.checkDrift(rec, recipe, res); err != nil {
		return nil, err
	}

	if a.Cache != nil {
		if err := a.Cache.RecordAudit(rec.Name, rec.Origin, rec.Version, res.RecipeHash, recipe, res.Verdict); err != nil {
			return nil, fmt.Errorf("failed to record audit for %s: %w", rec.Name, err)
		}
	}
	return res, nil
}

func (a *Auditor) checkSignature(rec PackageRecord, res *AuditResult) {
	if a.Config.SkipSigCheck {
		res.addReason(VerdictWarn, "signature check skipped by configuration")
		return
	}

	if rec.SigRef == "" {
		if a.Config.AllowUnsigned {
			res.addReason(VerdictWarn, "recipe is unsigned")
		} else if rec.Origin == OriginTap {
			res.addReason(VerdictBlocked, "tap recipe is unsigned and unsigned recipes are not allowed")
		} else {
			// AUR recipes are never signed; community review is the
			// only provenance they have.
			res.addReason(VerdictWarn, "aur recipe has no signature, relying on lint and drift checks")
		}
		return
	}

	keyID := officialKeyID
	if rec.Tap != "" {
		if tap, err := LoadTap(rec.Tap); err == nil && tap.KeyID != "" {
			keyID = tap.KeyID
		}
	}
	if err := VerifyFile(rec.RecipePath, keyID); err != nil {
		res.addReason(VerdictBlocked, fmt.Sprintf("signature verification failed: %v", err))
		return
	}
	res.Reasons = append(res.Reasons, "recipe signature verified against key "+keyID)
}

func (a *Auditor) checkDrift(rec PackageRecord, recipe []byte, res *AuditResult) error {
	if a.Cache == nil {
		return nil
	}
	prevHash, prevContent, err := a.Cache.LastAuditedRecipe(rec.Name, rec.Origin)
	if err != nil {
		return fmt.Errorf("failed to read audit history for %s: %w", rec.Name, err)
	}
	switch {
	case prevHash == "":
		res.addReason(VerdictWarn, "recipe has never been audited before")
	case prevHash != res.RecipeHash:
		res.RecipeDiff = diffLines(string(prevContent), string(recipe))
		changed := strings.Count(res.RecipeDiff, "\n")
		res.addReason(VerdictWarn, fmt.Sprintf("recipe changed since last audit (%d lines differ)", changed))
	}
	return nil
}

// Override waives a blocked verdict for the current transaction. The
// waiver is recorded on the result; it never persists past the
// transaction that carries it.
func (r *AuditResult) Override(by string) {
	r.Overridden = true
	r.OverrideBy = by
}
