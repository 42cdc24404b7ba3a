package reap

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// versionSatisfies checks an installed/candidate version against a
// constraint operator. Semver-parseable versions go through the semver
// comparator; Arch-style versions (epochs, pkgrel suffixes) fall back to
// segment-wise comparison.
func versionSatisfies(have, op, want string) bool {
	if op == "" || want == "" {
		return true
	}

	if hv, err := semver.NewVersion(have); err == nil {
		if c, err := semver.NewConstraint(op + want); err == nil {
			return c.Check(hv)
		}
	}

	cmp := compareVersions(have, want)
	switch op {
	case "==", "=":
		return cmp == 0
	case "<=":
		return cmp <= 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case ">":
		return cmp > 0
	default:
		return true
	}
}

// compareVersions compares two version strings split by dots and dashes.
// Numeric segments are compared numerically; non-numeric fall back to
// lexicographic. Returns -1 if a<b, 0 if equal, 1 if a>b.
func compareVersions(a, b string) int {
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool {
			return r == '.' || r == '-' || r == '_' || r == ':'
		})
	}
	as := split(a)
	bs := split(b)
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av, bv := "0", "0"
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}

		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			if ai > bi {
				return 1
			}
			continue
		}
		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}
