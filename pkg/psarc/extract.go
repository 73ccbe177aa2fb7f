package psarc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
)

// Sidecar suffixes for decoded .sng payloads.
const (
	DecryptedSuffix    = ".decrypted"
	DecompressedSuffix = ".decompressed"
)

// extractConfig holds extraction options.
type extractConfig struct {
	patterns  []string
	sidecars  bool
	overwrite bool
}

// ExtractOption configures extraction behavior.
type ExtractOption func(*extractConfig)

// WithPattern limits extraction to entries whose name matches one of the
// given doublestar patterns, e.g. "songs/**/*.sng".
func WithPattern(patterns ...string) ExtractOption {
	return func(c *extractConfig) {
		c.patterns = append(c.patterns, patterns...)
	}
}

// WithDecrypted controls whether decrypted and decompressed payloads are
// written next to the raw .sng entries. Enabled by default.
func WithDecrypted(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.sidecars = enabled
	}
}

// WithOverwrite controls whether existing files are replaced. Enabled by
// default; when disabled existing files are skipped.
func WithOverwrite(enabled bool) ExtractOption {
	return func(c *extractConfig) {
		c.overwrite = enabled
	}
}

func (c *extractConfig) match(name string) (bool, error) {
	if len(c.patterns) == 0 {
		return true, nil
	}
	for _, pattern := range c.patterns {
		ok, err := doublestar.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Extract writes every named entry below outputDir and returns the number of
// entries written. Unnamed entries and names that would land outside
// outputDir are skipped with a warning.
func (a *Archive) Extract(outputDir string, opts ...ExtractOption) (int, error) {
	if a.closed {
		return 0, ErrClosed
	}

	cfg := &extractConfig{sidecars: true, overwrite: true}
	for _, opt := range opts {
		opt(cfg)
	}
	for _, pattern := range cfg.patterns {
		if !doublestar.ValidatePattern(pattern) {
			return 0, fmt.Errorf("invalid pattern %q", pattern)
		}
	}

	// Pre-create directory cache to avoid repeated MkdirAll calls
	createdDirs := make(map[string]struct{})

	count := 0
	for _, e := range a.entries[1:] {
		if !e.HasName() {
			log.Warn().Int("entry", e.ID).Msg("skipping unnamed entry")
			continue
		}
		ok, err := cfg.match(e.Name)
		if err != nil {
			return count, err
		}
		if !ok {
			continue
		}

		path, ok := localPath(outputDir, e.Name)
		if !ok {
			log.Warn().Int("entry", e.ID).Str("name", e.Name).Msg("skipping entry outside output directory")
			continue
		}

		dir := filepath.Dir(path)
		if _, exists := createdDirs[dir]; !exists {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return count, fmt.Errorf("create dir %s: %w", dir, err)
			}
			createdDirs[dir] = struct{}{}
		}

		if err := writeFile(path, e.Data, cfg.overwrite); err != nil {
			return count, err
		}
		if cfg.sidecars && e.Encrypted {
			if e.Decrypted != nil {
				if err := writeFile(path+DecryptedSuffix, e.Decrypted, cfg.overwrite); err != nil {
					return count, err
				}
			}
			if e.Decompressed != nil {
				if err := writeFile(path+DecompressedSuffix, e.Decompressed, cfg.overwrite); err != nil {
					return count, err
				}
			}
		}

		log.Debug().Int("entry", e.ID).Str("name", e.Name).Str("path", path).Msg("extracted entry")
		count++
	}

	return count, nil
}

// localPath maps an entry name to a path below dir. Leading slashes from
// archives with absolute paths are dropped.
func localPath(dir, name string) (string, bool) {
	rel := filepath.FromSlash(strings.TrimLeft(name, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", false
	}
	return filepath.Join(dir, rel), true
}

func writeFile(path string, data []byte, overwrite bool) error {
	if !overwrite {
		if _, err := os.Lstat(path); err == nil {
			log.Warn().Str("path", path).Msg("file exists, skipping")
			return nil
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}
	return nil
}
