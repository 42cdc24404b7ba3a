package reap

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	// Slow mirrors need a generous handshake window.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // large artifact downloads
	}
}

type downloadOptions struct {
	Quiet bool // Quiet suppresses progress output
}

// withDownloadLock serializes downloads of the same destination file
// across processes via a sidecar flock.
func withDownloadLock(destFile string, fn func() error) error {
	lockPath := destFile + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return fn()
}

func downloadFile(url, destFile string) error {
	return downloadFileWithOptions(url, destFile, downloadOptions{})
}

// downloadFileWithOptions fetches url into destFile atomically (via a
// .part file) with a progress bar.
func downloadFileWithOptions(url, destFile string, opts downloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return err
	}

	return withDownloadLock(destFile, func() error {
		if fileExists(destFile) {
			debugf("using cached %s\n", destFile)
			return nil
		}

		client := newHTTPClient()
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("download of %s failed: %w", url, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download of %s failed: HTTP %d", url, resp.StatusCode)
		}

		partFile := destFile + ".part"
		out, err := os.Create(partFile)
		if err != nil {
			return err
		}

		var w io.Writer = out
		if !opts.Quiet {
			bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
			w = io.MultiWriter(out, bar)
		}

		if _, err := io.Copy(w, resp.Body); err != nil {
			out.Close()
			os.Remove(partFile)
			return fmt.Errorf("download of %s interrupted: %w", url, err)
		}
		if err := out.Close(); err != nil {
			os.Remove(partFile)
			return err
		}
		return os.Rename(partFile, destFile)
	})
}
