package reap

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FlatpakBackend wraps the flatpak CLI. Flatpak apps install into their
// own runtime tree, so "fetch" resolves to the application ref.
type FlatpakBackend struct {
	Exec *Executor
}

func (b *FlatpakBackend) Origin() Origin { return OriginFlatpak }

func (b *FlatpakBackend) Available() bool {
	_, err := exec.LookPath("flatpak")
	return err == nil
}

// Search shells out to `flatpak search --columns=...` which emits
// tab-separated rows.
func (b *FlatpakBackend) Search(ctx context.Context, name string) ([]PackageRecord, error) {
	cmd := exec.CommandContext(ctx, "flatpak", "search", "--columns=application,version,description", name)
	out, err := cmd.Output()
	if err != nil {
		return nil, &BackendUnavailableError{Backend: OriginFlatpak, Err: err}
	}

	var recs []PackageRecord
	for _, line := range strings.Split(string(bytes.TrimSpace(out)), "\n") {
		if line == "" || strings.HasPrefix(line, "No matches") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		rec := PackageRecord{
			Name:    strings.TrimSpace(fields[0]),
			Version: strings.TrimSpace(fields[1]),
			Origin:  OriginFlatpak,
			Source:  strings.TrimSpace(fields[0]),
		}
		if len(fields) >= 3 {
			rec.Description = strings.TrimSpace(fields[2])
		}
		// Match loose names against the last ref segment: "gimp" should
		// find org.gimp.GIMP.
		segs := strings.Split(rec.Name, ".")
		if strings.EqualFold(rec.Name, name) || strings.EqualFold(segs[len(segs)-1], name) {
			recs = append([]PackageRecord{rec}, recs...)
		} else {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// Fetch validates the ref exists on the remote; flatpak downloads at
// install time inside its own sandboxed store.
func (b *FlatpakBackend) Fetch(ctx context.Context, rec PackageRecord, destDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "flatpak", "remote-info", "flathub", rec.Source)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("flatpak ref %s not available: %w", rec.Source, err)
	}
	return rec.Source, nil
}
