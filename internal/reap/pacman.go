package reap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// PacmanBackend queries the system repositories through the pacman CLI.
type PacmanBackend struct {
	Exec *Executor
}

func (b *PacmanBackend) Origin() Origin { return OriginPacman }

func (b *PacmanBackend) Available() bool {
	_, err := exec.LookPath("pacman")
	return err == nil
}

// Search runs `pacman -Si` for an exact match and falls back to -Ss for
// substring results.
func (b *PacmanBackend) Search(ctx context.Context, name string) ([]PackageRecord, error) {
	out, err := exec.CommandContext(ctx, "pacman", "-Si", name).Output()
	if err == nil {
		rec, perr := parsePacmanInfo(out)
		if perr == nil {
			return []PackageRecord{rec}, nil
		}
	}

	ssOut, ssErr := exec.CommandContext(ctx, "pacman", "-Ss", "^"+name+"$").Output()
	if ssErr != nil {
		// pacman exits 1 on no match; treat empty output as no results,
		// anything else as the backend being broken.
		if len(bytes.TrimSpace(ssOut)) == 0 {
			return nil, nil
		}
		return nil, &BackendUnavailableError{Backend: OriginPacman, Err: ssErr}
	}
	return parsePacmanSearch(ssOut), nil
}

// Fetch downloads the package into the pacman cache and returns the
// artifact path. DownloadOnly keeps resolution side-effect free on the
// installed system.
func (b *PacmanBackend) Fetch(ctx context.Context, rec PackageRecord, destDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "pacman", "-Sw", "--noconfirm", "--cachedir", destDir, rec.Name)
	if err := b.Exec.Run(cmd); err != nil {
		return "", fmt.Errorf("pacman fetch of %s failed: %w", rec.Name, err)
	}
	matches, err := filepath.Glob(filepath.Join(destDir, rec.Name+"-*.pkg.tar.*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("pacman fetch of %s produced no artifact", rec.Name)
	}
	return matches[0], nil
}

// InstalledVersion returns the locally installed version of name, or "".
func (b *PacmanBackend) InstalledVersion(ctx context.Context, name string) string {
	out, err := exec.CommandContext(ctx, "pacman", "-Q", name).Output()
	if err != nil {
		return ""
	}
	fields := strings.Fields(string(out))
	if len(fields) == 2 {
		return fields[1]
	}
	return ""
}

func parsePacmanInfo(out []byte) (PackageRecord, error) {
	rec := PackageRecord{Origin: OriginPacman}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch key {
		case "Name":
			rec.Name = val
		case "Version":
			rec.Version = val
		case "Description":
			rec.Description = val
		case "Depends On":
			if val != "None" {
				rec.Depends = strings.Fields(val)
			}
		}
	}
	if rec.Name == "" {
		return rec, fmt.Errorf("no package in pacman -Si output")
	}
	return rec, nil
}

func parsePacmanSearch(out []byte) []PackageRecord {
	var recs []PackageRecord
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		// "extra/foo 1.2-1" header lines; indented lines are descriptions.
		if strings.HasPrefix(line, " ") {
			if len(recs) > 0 {
				recs[len(recs)-1].Description = strings.TrimSpace(line)
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		slash := strings.Index(fields[0], "/")
		if slash == -1 {
			continue
		}
		recs = append(recs, PackageRecord{
			Name:    fields[0][slash+1:],
			Version: fields[1],
			Origin:  OriginPacman,
		})
	}
	return recs
}
