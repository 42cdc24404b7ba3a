package reap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

const aurRPCBase = "https://aur.archlinux.org/rpc/?v=5"

// AURBackend talks to the AUR RPC and fetches PKGBUILD snapshots.
type AURBackend struct {
	// BaseURL overrides the AUR endpoint for tests.
	BaseURL string
	Client  *http.Client
}

func NewAURBackend() *AURBackend {
	return &AURBackend{
		BaseURL: "https://aur.archlinux.org",
		Client:  newHTTPClient(),
	}
}

func (b *AURBackend) Origin() Origin { return OriginAUR }

// Available is true whenever networking is configured; actual
// reachability surfaces as BackendUnavailable at query time.
func (b *AURBackend) Available() bool { return true }

type aurRPCResponse struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	Results []struct {
		Name        string   `json:"Name"`
		Version     string   `json:"Version"`
		Description string   `json:"Description"`
		URLPath     string   `json:"URLPath"`
		Depends     []string `json:"Depends"`
	} `json:"results"`
}

func (b *AURBackend) rpc(ctx context.Context, query string) (*aurRPCResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.BaseURL+"/rpc/?v=5&"+query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.Client.Do(req)
	if err != nil {
		return nil, &BackendUnavailableError{Backend: OriginAUR, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &BackendUnavailableError{Backend: OriginAUR, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	var parsed aurRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &BackendUnavailableError{Backend: OriginAUR, Err: err}
	}
	if parsed.Type == "error" {
		return nil, &BackendUnavailableError{Backend: OriginAUR, Err: fmt.Errorf("rpc error: %s", parsed.Error)}
	}
	return &parsed, nil
}

// Search queries exact info first (info returns dependency lists, which
// search does not), then falls back to a name search.
func (b *AURBackend) Search(ctx context.Context, name string) ([]PackageRecord, error) {
	parsed, err := b.rpc(ctx, "type=info&arg[]="+url.QueryEscape(name))
	if err != nil {
		return nil, err
	}
	if len(parsed.Results) == 0 {
		parsed, err = b.rpc(ctx, "type=search&by=name&arg="+url.QueryEscape(name))
		if err != nil {
			return nil, err
		}
	}

	var recs []PackageRecord
	for _, r := range parsed.Results {
		recs = append(recs, PackageRecord{
			Name:        r.Name,
			Version:     r.Version,
			Description: r.Description,
			Origin:      OriginAUR,
			Source:      b.BaseURL + r.URLPath,
			Depends:     r.Depends,
		})
	}
	return recs, nil
}

// Fetch downloads and extracts the PKGBUILD snapshot tarball for a record
// and returns the recipe directory.
func (b *AURBackend) Fetch(ctx context.Context, rec PackageRecord, destDir string) (string, error) {
	snapshotURL := rec.Source
	if snapshotURL == "" {
		snapshotURL = fmt.Sprintf("%s/cgit/aur.git/snapshot/%s.tar.gz", b.BaseURL, rec.Name)
	}

	tarball := filepath.Join(destDir, rec.Name+".tar.gz")
	if err := downloadFile(snapshotURL, tarball); err != nil {
		return "", err
	}

	if err := ExtractArchive(tarball, destDir); err != nil {
		return "", fmt.Errorf("extracting AUR snapshot for %s: %w", rec.Name, err)
	}

	recipeDir := filepath.Join(destDir, rec.Name)
	if !fileExists(filepath.Join(recipeDir, "PKGBUILD")) {
		return "", fmt.Errorf("AUR snapshot for %s has no PKGBUILD", rec.Name)
	}
	return recipeDir, nil
}

// CloneURL returns the git URL for the package, used when the user wants
// a working checkout rather than a snapshot.
func (b *AURBackend) CloneURL(name string) string {
	return strings.TrimSuffix(b.BaseURL, "/") + "/" + name + ".git"
}
