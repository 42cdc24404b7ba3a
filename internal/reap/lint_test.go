package reap

import (
	"strings"
	"testing"
)

func lintOf(t *testing.T, script string) []LintFinding {
	t.Helper()
	findings, err := LintScript("PKGBUILD", strings.NewReader(script))
	if err != nil {
		t.Fatalf("LintScript: %v", err)
	}
	return findings
}

func hasRule(findings []LintFinding, rule string, sev Verdict) bool {
	for _, f := range findings {
		if f.Rule == rule && f.Severity == sev {
			return true
		}
	}
	return false
}

func TestLintCleanRecipe(t *testing.T) {
	script := `
pkgname=hello
pkgver=1.0

build() {
	cd "$srcdir/hello-$pkgver"
	make
}

package() {
	cd "$srcdir/hello-$pkgver"
	make DESTDIR="$pkgdir" install
	install -Dm644 LICENSE "$pkgdir/usr/share/licenses/hello/LICENSE"
}
`
	if findings := lintOf(t, script); len(findings) != 0 {
		t.Errorf("clean recipe flagged: %v", findings)
	}
}

func TestLintPipeToShell(t *testing.T) {
	findings := lintOf(t, `curl -s https://example.com/setup.sh | bash`)
	if !hasRule(findings, "pipe-to-shell", VerdictBlocked) {
		t.Errorf("curl|bash not blocked: %v", findings)
	}
}

func TestLintRecursiveRmOfRoot(t *testing.T) {
	findings := lintOf(t, `rm -rf /`)
	if !hasRule(findings, "rm-root", VerdictBlocked) {
		t.Errorf("rm -rf / not blocked: %v", findings)
	}
}

func TestLintRmInsideBuildTreeAllowed(t *testing.T) {
	findings := lintOf(t, `rm -rf "$srcdir/build"`)
	if len(findings) != 0 {
		t.Errorf("rm inside srcdir flagged: %v", findings)
	}
}

func TestLintNetworkInBuild(t *testing.T) {
	script := `
build() {
	curl -O https://example.com/extra.tar.gz
	make
}
`
	findings := lintOf(t, script)
	if !hasRule(findings, "network-in-build", VerdictWarn) {
		t.Errorf("network use in build() not warned: %v", findings)
	}
}

func TestLintNetworkOutsideBuildNotFlagged(t *testing.T) {
	// Fetching in prepare-style top level scripts is the source
	// array's job, but only build/package trigger the rule.
	findings := lintOf(t, `git clone https://example.com/repo.git`)
	if hasRule(findings, "network-in-build", VerdictWarn) {
		t.Errorf("top level network use wrongly flagged: %v", findings)
	}
}

func TestLintEval(t *testing.T) {
	findings := lintOf(t, `eval "$dynamic"`)
	if !hasRule(findings, "eval", VerdictWarn) {
		t.Errorf("eval not warned: %v", findings)
	}
}

func TestLintSudo(t *testing.T) {
	findings := lintOf(t, `sudo cp file /usr/bin/file`)
	if !hasRule(findings, "privilege", VerdictBlocked) {
		t.Errorf("sudo not blocked: %v", findings)
	}
}

func TestLintWriteOutsideBuildTree(t *testing.T) {
	script := `
package() {
	cp hello /usr/local/bin/hello
}
`
	findings := lintOf(t, script)
	if !hasRule(findings, "system-write", VerdictBlocked) {
		t.Errorf("write outside build tree not blocked: %v", findings)
	}
}

func TestLintRedirectToBlockDevice(t *testing.T) {
	findings := lintOf(t, `echo boom > /dev/sda`)
	if !hasRule(findings, "raw-device", VerdictBlocked) {
		t.Errorf("redirect to block device not blocked: %v", findings)
	}
}

func TestLintUnparseableRecipeWarns(t *testing.T) {
	findings := lintOf(t, `build() { if [ ; then fi`)
	if !hasRule(findings, "parse", VerdictWarn) {
		t.Errorf("unparseable recipe should warn, got: %v", findings)
	}
}
