package reap

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// decompressor wraps an archive stream with the right decoder for its
// extension. Supports the formats the backends actually ship: .tar.gz
// (AUR snapshots), .tar.zst (pacman/chaotic artifacts), .tar.xz, .tar.bz2.
func decompressor(path string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return zr, func() { zr.Close() }, nil
	case strings.HasSuffix(path, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(path, ".tar.xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return xr, noop, nil
	case strings.HasSuffix(path, ".tar.bz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(path, ".tar"):
		return r, noop, nil
	}
	return nil, noop, fmt.Errorf("unsupported archive format: %s", filepath.Base(path))
}

// ExtractArchive unpacks a tarball into dest, refusing path traversal.
func ExtractArchive(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("cannot open archive: %w", err)
	}
	defer f.Close()

	dec, closeDec, err := decompressor(archivePath, f)
	if err != nil {
		return err
	}
	defer closeDec()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading archive %s: %w", filepath.Base(archivePath), err)
		}

		fpath := filepath.Join(dest, hdr.Name)
		// Prevent path traversal out of dest.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) && fpath != dest {
			return fmt.Errorf("illegal file path in archive: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fpath, os.FileMode(hdr.Mode).Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(fpath)
			if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, fpath); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return err
			}
		}
	}
}

// CreateArchive packs srcDir into a zstd-compressed tarball with
// deterministic entry order so identical trees produce identical
// archives.
func CreateArchive(srcDir, archivePath string) error {
	var paths []string
	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", srcDir, err)
	}
	sort.Strings(paths)

	tmpPath := archivePath + ".part"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer os.Remove(tmpPath)

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return err
	}
	tw := tar.NewWriter(zw)

	for _, path := range paths {
		info, err := os.Lstat(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		// Strip timestamps so re-archiving an unchanged tree is
		// byte-identical.
		hdr.ModTime = time.Unix(0, 0)
		hdr.AccessTime = time.Time{}
		hdr.ChangeTime = time.Time{}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(tw, src)
			src.Close()
			if err != nil {
				return err
			}
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, archivePath)
}
