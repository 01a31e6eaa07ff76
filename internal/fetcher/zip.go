package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// MaxEntryBytes bounds the size of one extracted archive entry.
var MaxEntryBytes int64 = 1 << 30

// ExtractZIP writes the regular files of an archive into destDir and returns
// their paths in archive order. Directory entries and macOS metadata
// (__MACOSX/, ._*) are skipped. An entry that would land outside destDir or
// exceeds MaxEntryBytes is an error.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open archive %s", zipPath)
	}
	defer r.Close() //nolint:errcheck

	root := filepath.Clean(destDir) + string(os.PathSeparator)
	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() || macMetadata(f.Name) {
			continue
		}
		dest := filepath.Join(destDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(dest, root) {
			return extracted, eris.Errorf("fetcher: archive entry %q escapes %s", f.Name, destDir)
		}
		if f.UncompressedSize64 > uint64(MaxEntryBytes) {
			return extracted, eris.Errorf("fetcher: archive entry %q is %d bytes, limit %d", f.Name, f.UncompressedSize64, MaxEntryBytes)
		}
		if err := writeEntry(f, dest); err != nil {
			return extracted, err
		}
		extracted = append(extracted, dest)
	}
	return extracted, nil
}

func macMetadata(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._")
}

func writeEntry(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "fetcher: create directory for %s", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "fetcher: open archive entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "fetcher: create %s", dest)
	}
	defer out.Close() //nolint:errcheck

	// The header size can lie; the copy is bounded independently.
	n, err := io.Copy(out, io.LimitReader(rc, MaxEntryBytes+1))
	if err != nil {
		return eris.Wrapf(err, "fetcher: extract %s", f.Name)
	}
	if n > MaxEntryBytes {
		return eris.Errorf("fetcher: archive entry %q exceeds %d bytes", f.Name, MaxEntryBytes)
	}
	return nil
}
