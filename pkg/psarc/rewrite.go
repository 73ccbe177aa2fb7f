package psarc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/EchoTools/psarcTools/pkg/archive"
	"github.com/EchoTools/psarcTools/pkg/manifest"
	"github.com/EchoTools/psarcTools/pkg/sng"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrLocked is returned when another process is writing the same destination.
var ErrLocked = errors.New("destination is locked by another process")

// RewriteOptions configures Rewrite.
type RewriteOptions struct {
	// TargetPlatform re-encrypts .sng payloads for another platform.
	// PlatformNone keeps every payload as it is.
	TargetPlatform sng.Platform

	// AppID, when set, replaces the content of the appid.appid entry.
	AppID string

	// CompressionLevel overrides the deflate level; zero keeps the default.
	CompressionLevel int
}

// Rewrite writes the archive to dest, applying opts. Blocks are laid out and
// compressed anew; the table of contents is re-encrypted when flagged. The
// output is written to a temporary file next to dest and renamed over it,
// so a failure leaves any existing dest untouched.
func (a *Archive) Rewrite(dest string, opts RewriteOptions) error {
	if a.closed {
		return ErrClosed
	}
	if opts.AppID != "" {
		if err := a.SetAppID(opts.AppID); err != nil {
			return err
		}
	}

	entries, err := a.layout(opts.TargetPlatform)
	if err != nil {
		return err
	}

	var writerOpts []archive.WriterOption
	if opts.CompressionLevel != 0 {
		writerOpts = append(writerOpts, archive.WithCompressionLevel(opts.CompressionLevel))
	}

	return writeAtomic(dest, func(f *os.File) error {
		h, err := archive.Encode(f, a.header, entries, writerOpts...)
		if err != nil {
			return err
		}
		a.header = *h
		return nil
	})
}

// Save writes the archive to path without changing any payload.
func (a *Archive) Save(path string) error {
	return a.Rewrite(path, RewriteOptions{})
}

// WriteTo writes the archive to w and returns the header that was written.
func (a *Archive) WriteTo(w io.WriteSeeker) (archive.Header, error) {
	if a.closed {
		return archive.Header{}, ErrClosed
	}
	entries, err := a.layout(sng.PlatformNone)
	if err != nil {
		return archive.Header{}, err
	}
	h, err := archive.Encode(w, a.header, entries)
	if err != nil {
		return archive.Header{}, err
	}
	a.header = *h
	return *h, nil
}

// layout returns the bytes of every entry in id order, rebuilding the name
// manifest when names changed and re-encrypting payloads for target.
func (a *Archive) layout(target sng.Platform) ([]archive.EntryData, error) {
	if a.renamed {
		names := make([]string, 0, a.Len())
		for _, e := range a.entries[1:] {
			names = append(names, e.Name)
		}
		data, err := manifest.Build(names)
		if err != nil {
			return nil, err
		}
		a.entries[0].setData(data)
		a.renamed = false
	}

	entries := make([]archive.EntryData, len(a.entries))
	for i, e := range a.entries {
		entries[i] = archive.EntryData{Checksum: e.Checksum, Data: retarget(e, target)}
	}
	return entries, nil
}

// retarget returns the bytes to store for e when writing for target.
func retarget(e *Entry, target sng.Platform) []byte {
	if target == sng.PlatformNone || !e.Encrypted || e.Platform == target {
		return e.Data
	}
	if e.Decrypted == nil {
		log.Warn().Int("entry", e.ID).Str("name", e.Name).Stringer("platform", e.Platform).
			Msg("payload was not decrypted; keeping original encryption")
		return e.Data
	}

	data, err := sng.Encrypt(e.Data, e.Decrypted, target)
	if err != nil {
		log.Warn().Err(err).Int("entry", e.ID).Str("name", e.Name).Msg("unable to re-encrypt payload")
		return e.Data
	}
	log.Debug().Int("entry", e.ID).Str("name", e.Name).
		Stringer("from", e.Platform).Stringer("to", target).Msg("re-encrypted payload")
	return data
}

// writeAtomic runs write against a temporary file next to dest while holding
// dest's lock file, then renames the result over dest.
func writeAtomic(dest string, write func(f *os.File) error) error {
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	tmpFile := fmt.Sprintf("%s.%s.tmp", dest, uuid.New().String()[:6])
	lockFilePath := fmt.Sprintf("%s.lock", dest)

	fileLock := flock.New(lockFilePath)

	// Attempt to acquire the lock
	locked, err := fileLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", lockFilePath, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLocked, dest)
	}
	defer os.Remove(lockFilePath)
	defer fileLock.Unlock()

	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmpFile, err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("sync %s: %w", tmpFile, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("close %s: %w", tmpFile, err)
	}

	if err := os.Rename(tmpFile, dest); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename %s: %w", tmpFile, err)
	}

	log.Info().Str("path", dest).Msg("wrote archive")
	return nil
}
