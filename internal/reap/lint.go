package reap

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// LintFinding is one flagged construct in a build recipe.
type LintFinding struct {
	Rule     string
	Detail   string
	Severity Verdict
	Line     uint
}

func (f LintFinding) String() string {
	return fmt.Sprintf("%s:%d %s (%s)", f.Rule, f.Line, f.Detail, f.Severity)
}

// LintRecipe parses a PKGBUILD (or any bash recipe) and reports
// dangerous constructs. A parse failure is itself a warn finding, not
// an error: unparseable recipes still go through the audit pipeline.
func LintRecipe(path string) ([]LintFinding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recipe: %w", err)
	}
	defer f.Close()
	return LintScript(filepath.Base(path), f)
}

// LintScript runs the recipe linter over an arbitrary script body.
func LintScript(name string, r io.Reader) ([]LintFinding, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(r, name)
	if err != nil {
		return []LintFinding{{
			Rule:     "parse",
			Detail:   fmt.Sprintf("recipe does not parse as bash: %v", err),
			Severity: VerdictWarn,
		}}, nil
	}

	l := &recipeLinter{}
	syntax.Walk(file, l.visit)
	return l.findings, nil
}

type recipeLinter struct {
	findings []LintFinding
	// scope tracks the enclosing function (build, package, prepare...)
	// so network use can be judged by phase.
	scope []string
}

func (l *recipeLinter) add(rule, detail string, sev Verdict, pos syntax.Pos) {
	l.findings = append(l.findings, LintFinding{
		Rule:     rule,
		Detail:   detail,
		Severity: sev,
		Line:     pos.Line(),
	})
}

func (l *recipeLinter) inFunc(name string) bool {
	for _, s := range l.scope {
		if s == name {
			return true
		}
	}
	return false
}

func (l *recipeLinter) visit(node syntax.Node) bool {
	switch n := node.(type) {
	case *syntax.FuncDecl:
		l.scope = append(l.scope, n.Name.Value)
		syntax.Walk(n.Body, l.visit)
		l.scope = l.scope[:len(l.scope)-1]
		return false
	case *syntax.BinaryCmd:
		if n.Op == syntax.Pipe || n.Op == syntax.PipeAll {
			l.checkPipe(n)
		}
	case *syntax.CallExpr:
		l.checkCall(n)
	case *syntax.Redirect:
		l.checkRedirect(n)
	}
	return true
}

var networkCommands = map[string]bool{
	"curl": true, "wget": true, "git": true, "svn": true,
	"rsync": true, "scp": true, "ftp": true, "nc": true, "ncat": true,
}

var shellInterpreters = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "dash": true,
}

func (l *recipeLinter) checkPipe(n *syntax.BinaryCmd) {
	left := callName(n.X)
	right := callName(n.Y)
	if networkCommands[left] && shellInterpreters[right] {
		l.add("pipe-to-shell",
			fmt.Sprintf("%s output piped into %s", left, right),
			VerdictBlocked, n.Pos())
	}
}

func (l *recipeLinter) checkCall(n *syntax.CallExpr) {
	if len(n.Args) == 0 {
		return
	}
	name := wordText(n.Args[0])
	args := make([]string, 0, len(n.Args)-1)
	for _, w := range n.Args[1:] {
		args = append(args, wordText(w))
	}

	switch name {
	case "eval":
		l.add("eval", "eval with dynamic arguments", VerdictWarn, n.Pos())
	case "sudo", "doas":
		l.add("privilege", name+" inside recipe", VerdictBlocked, n.Pos())
	case "rm":
		l.checkRm(n, args)
	case "dd":
		for _, a := range args {
			if strings.HasPrefix(a, "of=/dev/") {
				l.add("raw-device", "dd writing to "+strings.TrimPrefix(a, "of="), VerdictBlocked, n.Pos())
			}
		}
	case "chown", "chmod":
		for _, a := range args {
			if strings.HasPrefix(a, "/") && !buildTreePath(a) {
				l.add("system-write", fmt.Sprintf("%s on system path %s", name, a), VerdictWarn, n.Pos())
			}
		}
	case "cp", "mv", "install", "ln", "mkdir", "touch", "tee":
		for _, a := range args {
			if strings.HasPrefix(a, "/") && !buildTreePath(a) && !tmpPath(a) {
				l.add("system-write", fmt.Sprintf("%s targets %s outside the build tree", name, a), VerdictBlocked, n.Pos())
				break
			}
		}
	case "systemctl", "mkinitcpio", "grub-mkconfig":
		l.add("host-mutation", name+" invoked from recipe", VerdictBlocked, n.Pos())
	}

	// Fetching inside build()/package() bypasses checksummed sources.
	if networkCommands[name] && (l.inFunc("build") || l.inFunc("package")) {
		l.add("network-in-build",
			fmt.Sprintf("%s used during build; sources should be fetched via the source array", name),
			VerdictWarn, n.Pos())
	}
}

func (l *recipeLinter) checkRm(n *syntax.CallExpr, args []string) {
	recursive := false
	for _, a := range args {
		if strings.HasPrefix(a, "-") && strings.ContainsAny(a, "rR") {
			recursive = true
		}
	}
	if !recursive {
		return
	}
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if a == "/" || a == "/*" {
			l.add("rm-root", "recursive rm of /", VerdictBlocked, n.Pos())
			return
		}
		if strings.HasPrefix(a, "/") && !buildTreePath(a) && !tmpPath(a) {
			l.add("rm-system", "recursive rm of system path "+a, VerdictBlocked, n.Pos())
			return
		}
	}
}

func (l *recipeLinter) checkRedirect(n *syntax.Redirect) {
	switch n.Op {
	case syntax.RdrOut, syntax.AppOut, syntax.RdrAll, syntax.AppAll:
	default:
		return
	}
	target := wordText(n.Word)
	if strings.HasPrefix(target, "/dev/sd") || strings.HasPrefix(target, "/dev/nvme") {
		l.add("raw-device", "redirect to block device "+target, VerdictBlocked, n.Pos())
		return
	}
	if strings.HasPrefix(target, "/") && !buildTreePath(target) && !tmpPath(target) && !strings.HasPrefix(target, "/dev/null") {
		l.add("system-write", "redirect targets "+target+" outside the build tree", VerdictBlocked, n.Pos())
	}
}

// buildTreePath reports whether an expanded path clearly stays inside
// the recipe's own staging area.
func buildTreePath(p string) bool {
	for _, v := range []string{"$pkgdir", "${pkgdir}", "$srcdir", "${srcdir}", "$startdir", "${startdir}"} {
		if strings.HasPrefix(p, v) {
			return true
		}
	}
	return false
}

func tmpPath(p string) bool {
	return strings.HasPrefix(p, "/tmp/") || strings.HasPrefix(p, "/var/tmp/")
}

// callName extracts the command name of a statement if it is a plain
// call, else "".
func callName(stmt *syntax.Stmt) string {
	if stmt == nil {
		return ""
	}
	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) == 0 {
		return ""
	}
	return wordText(call.Args[0])
}

// wordText renders a word back to source text. Literal words come back
// verbatim; expansions keep their $var spelling, which is what the
// path checks want.
func wordText(w *syntax.Word) string {
	if w == nil {
		return ""
	}
	if lit := w.Lit(); lit != "" {
		return lit
	}
	var buf bytes.Buffer
	printer := syntax.NewPrinter()
	if err := printer.Print(&buf, w); err != nil {
		return ""
	}
	return strings.Trim(buf.String(), `"'`)
}
