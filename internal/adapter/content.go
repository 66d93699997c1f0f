package adapter

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

const (
	contentDirName = "mods"
	disabledSuffix = ".disabled"
)

// bundleExtensions are the file types worth extracting from a mod bundle.
// Everything else in the archive (readmes, sources, screenshots) stays out
// of the server directory.
var bundleExtensions = map[string]bool{
	".hymod": true,
	".dll":   true,
	".so":    true,
	".json":  true,
	".cfg":   true,
	".yml":   true,
	".toml":  true,
}

// InstallContent writes the payload under the server's mods directory and
// records the exact file set on the item so uninstall never has to guess.
func (a *processAdapter) InstallContent(item *domain.ContentItem, payload []byte) error {
	if a.srv.DataDir == "" {
		return fmt.Errorf("server %s has no data directory", a.srv.ID)
	}
	if len(payload) == 0 {
		return fmt.Errorf("empty payload for content %q", item.Title)
	}
	modsDir := filepath.Join(a.srv.DataDir, contentDirName)
	if err := os.MkdirAll(modsDir, 0755); err != nil {
		return fmt.Errorf("could not create mods directory: %w", err)
	}

	switch item.Kind {
	case domain.ContentBundle:
		files, err := unpackBundle(a.srv.DataDir, modsDir, payload)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("bundle %q contains no recognized mod files", item.Title)
		}
		item.Files = files
	case domain.ContentFile:
		name := safeContentName(item.FileName, item.Title)
		if err := os.WriteFile(filepath.Join(modsDir, name), payload, 0644); err != nil {
			return fmt.Errorf("could not write content file: %w", err)
		}
		item.Files = []string{filepath.Join(contentDirName, name)}
	default:
		return fmt.Errorf("unsupported content kind %q", item.Kind)
	}

	item.Enabled = true
	item.InstalledAt = time.Now()
	return nil
}

// unpackBundle extracts the recognized entries of a zip payload into the
// mods directory and returns their paths relative to the data directory.
func unpackBundle(dataDir, modsDir string, payload []byte) ([]string, error) {
	reader, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("payload is not a valid archive: %w", err)
	}

	var files []string
	for _, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if !bundleExtensions[strings.ToLower(filepath.Ext(entry.Name))] {
			continue
		}

		dest := filepath.Join(modsDir, filepath.FromSlash(entry.Name))
		if !strings.HasPrefix(dest, filepath.Clean(modsDir)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("%s: illegal file path", entry.Name)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return nil, err
		}

		rc, err := entry.Open()
		if err != nil {
			return nil, err
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			rc.Close()
			return nil, err
		}
		_, err = io.Copy(out, rc)
		out.Close()
		rc.Close()
		if err != nil {
			return nil, err
		}

		rel, err := filepath.Rel(dataDir, dest)
		if err != nil {
			return nil, err
		}
		files = append(files, rel)
	}
	return files, nil
}

// UninstallContent deletes exactly the files recorded at install time.
func (a *processAdapter) UninstallContent(item *domain.ContentItem) error {
	var firstErr error
	for _, rel := range item.Files {
		path := filepath.Join(a.srv.DataDir, rel)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("could not remove %s: %w", rel, err)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	item.Files = nil
	return nil
}

// SetContentEnabled toggles the item by renaming its files between the
// active and the suffixed inactive name. Toggling to the current state is
// a no-op, so repeated calls are safe.
func (a *processAdapter) SetContentEnabled(item *domain.ContentItem, enabled bool) error {
	updated := make([]string, 0, len(item.Files))
	for _, rel := range item.Files {
		target := rel
		isDisabled := strings.HasSuffix(rel, disabledSuffix)
		switch {
		case enabled && isDisabled:
			target = strings.TrimSuffix(rel, disabledSuffix)
		case !enabled && !isDisabled:
			target = rel + disabledSuffix
		}
		if target != rel {
			oldPath := filepath.Join(a.srv.DataDir, rel)
			newPath := filepath.Join(a.srv.DataDir, target)
			if err := os.Rename(oldPath, newPath); err != nil {
				if os.IsNotExist(err) {
					if _, statErr := os.Stat(newPath); statErr == nil {
						// Already in the desired state on disk.
						updated = append(updated, target)
						continue
					}
				}
				return fmt.Errorf("could not rename %s: %w", rel, err)
			}
		}
		updated = append(updated, target)
	}
	item.Files = updated
	item.Enabled = enabled
	return nil
}

var contentNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// safeContentName derives an on-disk filename from the declared payload
// name, falling back to the display title.
func safeContentName(fileName, title string) string {
	name := strings.TrimSpace(fileName)
	if name == "" {
		name = strings.TrimSpace(title)
	}
	name = strings.ReplaceAll(name, " ", "_")
	name = contentNameSanitizer.ReplaceAllString(name, "")
	if name == "" || name == "." {
		name = "content"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	if filepath.Ext(name) == "" {
		name += ".hymod"
	}
	return name
}
