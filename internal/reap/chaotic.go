package reap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const chaoticRepoName = "chaotic-aur"

// ChaoticBackend serves prebuilt AUR packages from the chaotic-aur binary
// repository, when the host has it enabled in pacman.conf.
type ChaoticBackend struct {
	Exec *Executor
	// PacmanConf overrides /etc/pacman.conf for tests.
	PacmanConf string
}

func (b *ChaoticBackend) Origin() Origin { return OriginChaotic }

func (b *ChaoticBackend) pacmanConf() string {
	if b.PacmanConf != "" {
		return b.PacmanConf
	}
	return "/etc/pacman.conf"
}

// Available reports whether [chaotic-aur] is an enabled pacman repo.
func (b *ChaoticBackend) Available() bool {
	if _, err := exec.LookPath("pacman"); err != nil {
		return false
	}
	data, err := os.ReadFile(b.pacmanConf())
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "["+chaoticRepoName+"]" {
			return true
		}
	}
	return false
}

// Search lists the repo and filters for the exact name. `pacman -Sl
// chaotic-aur` output: "chaotic-aur name version [installed]".
func (b *ChaoticBackend) Search(ctx context.Context, name string) ([]PackageRecord, error) {
	out, err := exec.CommandContext(ctx, "pacman", "-Sl", chaoticRepoName).Output()
	if err != nil {
		return nil, &BackendUnavailableError{Backend: OriginChaotic, Err: err}
	}

	var recs []PackageRecord
	for _, line := range strings.Split(string(bytes.TrimSpace(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != name {
			continue
		}
		recs = append(recs, PackageRecord{
			Name:    fields[1],
			Version: fields[2],
			Origin:  OriginChaotic,
		})
	}
	return recs, nil
}

// Fetch downloads the prebuilt .pkg.tar.zst artifact.
func (b *ChaoticBackend) Fetch(ctx context.Context, rec PackageRecord, destDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "pacman", "-Sw", "--noconfirm", "--cachedir", destDir, chaoticRepoName+"/"+rec.Name)
	if err := b.Exec.Run(cmd); err != nil {
		return "", fmt.Errorf("chaotic fetch of %s failed: %w", rec.Name, err)
	}
	matches, err := filepath.Glob(filepath.Join(destDir, rec.Name+"-*.pkg.tar.zst"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("chaotic fetch of %s produced no artifact", rec.Name)
	}
	return matches[0], nil
}
