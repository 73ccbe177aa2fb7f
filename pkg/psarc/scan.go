package psarc

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/EchoTools/psarcTools/pkg/manifest"
)

// ScannedFile is a file found by ScanDir.
type ScannedFile struct {
	Name string // Archive name, slash separated and relative to the scanned dir
	Path string
	Size int64
}

// ScanDir walks dir and returns its regular files sorted by archive name.
// Sidecar files written by Extract are skipped.
func ScanDir(dir string) ([]ScannedFile, error) {
	var files []ScannedFile

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		// Normalize separators
		name := filepath.ToSlash(relPath)
		if strings.HasSuffix(name, DecryptedSuffix) || strings.HasSuffix(name, DecompressedSuffix) {
			return nil
		}
		if strings.ContainsRune(name, manifest.Separator) {
			return fmt.Errorf("%w: %q", manifest.ErrInvalidName, name)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		files = append(files, ScannedFile{
			Name: name,
			Path: path,
			Size: info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}
