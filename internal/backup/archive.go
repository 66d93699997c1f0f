package backup

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
)

// matchesExclude applies the effective exclusion set to a slash-separated
// path relative to the backup source. A pattern with no path separator
// also matches against the base name, so "*.lock" excludes nested lock
// files without the caller spelling out a recursive glob.
func matchesExclude(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if ok, _ := path.Match(p, rel); ok {
			return true
		}
		trimmed := strings.TrimPrefix(p, "**/")
		if trimmed == p && strings.ContainsAny(p, "/\\") {
			continue
		}
		if ok, _ := path.Match(trimmed, base); ok {
			return true
		}
	}
	return false
}

// isLockedErr reports whether opening or reading a file failed because
// something else holds it, which backup creation treats as retryable.
func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	if os.IsPermission(err) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "used by another process") ||
		strings.Contains(msg, "sharing violation") ||
		strings.Contains(msg, "resource busy")
}

// unzip extracts an archive into dest, refusing entries that would escape
// it.
func unzip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		if !strings.HasPrefix(fpath, filepath.Clean(dest)+string(os.PathSeparator)) {
			return fmt.Errorf("%s: illegal file path", fpath)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

var fileNameRegexp = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, " ", "-")
	sanitized := fileNameRegexp.ReplaceAllString(name, "")
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	return sanitized
}
