package reap

import "strings"

// diffLines produces a minimal line diff between two texts, "-" for
// removed lines and "+" for added ones. Good enough for eyeballing
// recipe changes; not a patch format.
func diffLines(oldText, newText string) string {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	// LCS table over lines.
	m, n := len(oldLines), len(newLines)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var b strings.Builder
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case oldLines[i] == newLines[j]:
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			b.WriteString("- " + oldLines[i] + "\n")
			i++
		default:
			b.WriteString("+ " + newLines[j] + "\n")
			j++
		}
	}
	for ; i < m; i++ {
		b.WriteString("- " + oldLines[i] + "\n")
	}
	for ; j < n; j++ {
		b.WriteString("+ " + newLines[j] + "\n")
	}
	return b.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
