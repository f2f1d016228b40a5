package fetcher

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rotisserie/eris"
)

// ExtractZIP extracts all files from a ZIP archive to destDir, keeping
// their relative paths. Nested .zip members are extracted into a directory
// named after the member and their files are returned instead of the member.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		path, err := extractZIPEntry(f, destDir)
		if err != nil {
			return extracted, err
		}
		if path == "" {
			continue
		}
		if strings.EqualFold(filepath.Ext(path), ".zip") {
			nested, err := ExtractZIP(path, strings.TrimSuffix(path, filepath.Ext(path)))
			if err != nil {
				return extracted, eris.Wrapf(err, "zip: extract nested archive %s", f.Name)
			}
			extracted = append(extracted, nested...)
			continue
		}
		extracted = append(extracted, path)
	}

	return extracted, nil
}

// FindZIPMember returns the extracted path whose base name equals name.
func FindZIPMember(extracted []string, name string) (string, bool) {
	for _, p := range extracted {
		if filepath.Base(p) == name {
			return p, true
		}
	}
	return "", false
}

// extractZIPEntry extracts a single zip.File to the destination directory.
// Returns the extracted file path, or empty string for directories.
func extractZIPEntry(f *zip.File, destDir string) (string, error) {
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("zip: illegal path %q (zip slip attempt)", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return "", eris.Wrap(err, "zip: create directory")
		}
		return "", nil
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return "", eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return "", eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return "", eris.Wrap(err, "zip: create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.CopyBuffer(out, rc, make([]byte, bufferSize)); err != nil {
		return "", eris.Wrap(err, "zip: write file")
	}

	return destPath, nil
}
