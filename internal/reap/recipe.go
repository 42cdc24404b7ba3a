package reap

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DepSpec is one parsed dependency declaration.
type DepSpec struct {
	Name    string
	Op      string // one of: "<=", ">=", "==", "=", "<", ">", or empty
	Version string
}

// String renders the spec back to its declared form.
func (d DepSpec) String() string {
	if d.Op == "" {
		return d.Name
	}
	return d.Name + d.Op + d.Version
}

// parseDepToken parses tokens like "pkg", "pkg>=1.2.3" into name, op and
// version.
func parseDepToken(token string) DepSpec {
	token = strings.TrimSpace(token)
	ops := []string{"<=", ">=", "==", "<", ">", "="}
	for _, op := range ops {
		if idx := strings.Index(token, op); idx != -1 {
			return DepSpec{
				Name:    strings.TrimSpace(token[:idx]),
				Op:      op,
				Version: strings.TrimSpace(token[idx+len(op):]),
			}
		}
	}
	return DepSpec{Name: token}
}

// parseDepends parses a list of raw dependency strings as found in
// PackageRecord.Depends.
func parseDepends(raw []string) []DepSpec {
	var out []DepSpec
	for _, tok := range raw {
		tok = strings.TrimSpace(tok)
		if tok == "" || strings.HasPrefix(tok, "#") {
			continue
		}
		out = append(out, parseDepToken(tok))
	}
	return out
}

// ParseSrcinfo reads a .SRCINFO-style file (key = value lines) and returns
// the fields relevant to planning: pkgname, pkgver, and depends entries.
// AUR snapshots and taps both ship this metadata next to the PKGBUILD.
func ParseSrcinfo(path string) (name, version string, depends []string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("cannot read srcinfo: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var pkgrel string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "pkgname":
			if name == "" {
				name = val
			}
		case "pkgver":
			version = val
		case "pkgrel":
			pkgrel = val
		case "depends":
			depends = append(depends, val)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", nil, err
	}
	if version != "" && pkgrel != "" {
		version = version + "-" + pkgrel
	}
	if name == "" {
		return "", "", nil, fmt.Errorf("srcinfo %s has no pkgname", path)
	}
	return name, version, depends, nil
}
