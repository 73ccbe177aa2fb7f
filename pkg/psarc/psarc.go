// Package psarc opens, extracts, creates and rewrites PSARC archives,
// decrypting the .sng payloads they carry.
package psarc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/EchoTools/psarcTools/pkg/archive"
	"github.com/EchoTools/psarcTools/pkg/manifest"
	"github.com/EchoTools/psarcTools/pkg/sng"
	"github.com/rs/zerolog/log"
)

// AppIDName is the entry holding the application id patched by SetAppID.
const AppIDName = "appid.appid"

var (
	ErrNoAppID        = errors.New("archive has no " + AppIDName + " entry")
	ErrDuplicateEntry = errors.New("duplicate entry name")
	ErrClosed         = errors.New("archive is closed")
)

// Archive is one archive session. All entries are read into memory when the
// archive is opened. An Archive is not safe for concurrent use.
type Archive struct {
	path    string
	file    *os.File
	header  archive.Header
	entries []*Entry // entries[0] is the name manifest
	index   *manifest.Index
	renamed bool // Names changed since open; the manifest must be rebuilt
	closed  bool
}

// Option configures a new Archive.
type Option func(*Archive)

// WithFlags sets the header flags of a new archive.
func WithFlags(flags archive.Flags) Option {
	return func(a *Archive) {
		a.header.Flags = flags
	}
}

// WithBlockSize sets the nominal block size of a new archive.
func WithBlockSize(size uint32) Option {
	return func(a *Archive) {
		a.header.BlockSize = size
	}
}

// New creates an empty archive. By default the table of contents is
// encrypted, as in archives shipped with the game.
func New(opts ...Option) *Archive {
	a := &Archive{
		header:  *archive.NewHeader(),
		entries: []*Entry{{ID: 0}},
		renamed: true,
	}
	a.header.Flags = archive.FlagEncryptedTOC
	for _, opt := range opts {
		opt(a)
	}
	a.reindex()
	return a
}

// Open opens the archive at path and materializes every entry.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a, err := NewArchive(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.path = path
	a.file = f
	return a, nil
}

// NewArchive reads an archive from r. Header and table of contents problems
// are fatal; problems with a single entry are logged and leave that entry
// partially decoded.
func NewArchive(r io.ReadSeeker) (*Archive, error) {
	reader, err := archive.NewReader(r)
	if err != nil {
		return nil, err
	}

	records := reader.Records()
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no name manifest", archive.ErrMalformedTOC)
	}

	a := &Archive{
		header:  *reader.Header(),
		entries: make([]*Entry, len(records)),
	}
	for i, rec := range records {
		a.entries[i] = newEntry(i, rec)
	}

	// Names come first; everything after depends on them.
	root := a.entries[0]
	if root.Data, err = readEntry(reader, root); err != nil {
		return nil, err
	}
	names := manifest.Parse(root.Data, len(records)-1)
	if found := manifest.Count(root.Data); found < len(names) {
		log.Warn().
			Int("names", found).
			Int("entries", len(names)).
			Msg("name manifest is short; some entries are unnamed")
	}
	for i, name := range names {
		a.entries[i+1].Name = name
	}

	for _, e := range a.entries[1:] {
		if e.Data, err = readEntry(reader, e); err != nil {
			return nil, err
		}
		decodePayload(e)
		log.Debug().Int("entry", e.ID).Str("name", e.Name).Uint64("length", e.Length).Msg("read entry")
	}

	a.reindex()
	return a, nil
}

// readEntry reads the bytes of e. Size mismatches, corrupt blocks and blocks
// cut short by the end of the file are logged and the partial data kept; only
// seek and other I/O failures are returned.
func readEntry(r *archive.Reader, e *Entry) ([]byte, error) {
	data, err := r.ReadEntry(e.ID)
	if err == nil {
		return data, nil
	}

	var mismatch *archive.SizeMismatchError
	switch {
	case errors.As(err, &mismatch):
		log.Warn().Err(err).Int("entry", e.ID).Str("name", e.Name).Msg("entry size mismatch")
		return data, nil
	case errors.Is(err, archive.ErrCorruptBlock):
		log.Error().Err(err).Int("entry", e.ID).Str("name", e.Name).Msg("corrupt entry")
		return data, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		log.Error().Err(err).Int("entry", e.ID).Str("name", e.Name).Int("read", len(data)).Msg("truncated entry")
		return data, nil
	}
	return nil, fmt.Errorf("read entry %d: %w", e.ID, err)
}

// decodePayload decrypts e when it is an encrypted .sng entry.
func decodePayload(e *Entry) {
	if !sng.IsSngName(e.Name) || !sng.IsEncrypted(e.Data) {
		return
	}
	e.Encrypted = true

	payload, err := sng.Decrypt(e.Data)
	if err != nil {
		e.Platform = sng.PlatformUnknown
		if payload != nil {
			e.Platform = payload.Platform
		}
		log.Warn().Err(err).Int("entry", e.ID).Str("name", e.Name).Msg("unable to decrypt payload")
		return
	}

	e.Platform = payload.Platform
	e.Decrypted = payload.Decrypted
	e.Decompressed = payload.Decompressed
}

func (a *Archive) reindex() {
	names := make([]string, 0, len(a.entries)-1)
	for _, e := range a.entries[1:] {
		names = append(names, e.Name)
	}
	a.index = manifest.NewIndex(names, a.header.Flags&archive.FlagIgnoreCase != 0)
}

// Path returns the path the archive was opened from, if any.
func (a *Archive) Path() string {
	return a.path
}

// Header returns a copy of the archive header. For archives that have not
// been written yet the TOC length and file count are zero.
func (a *Archive) Header() archive.Header {
	return a.header
}

// Len returns the number of files, not counting the name manifest.
func (a *Archive) Len() int {
	return len(a.entries) - 1
}

// Entries returns the files of the archive in id order, starting at entry 1.
func (a *Archive) Entries() []*Entry {
	return a.entries[1:]
}

// Entry returns the entry with the given id. Id 0 is the name manifest.
func (a *Archive) Entry(id int) (*Entry, bool) {
	if id < 0 || id >= len(a.entries) {
		return nil, false
	}
	return a.entries[id], true
}

// List returns id, length and name of every file.
func (a *Archive) List() []EntryInfo {
	infos := make([]EntryInfo, 0, a.Len())
	for _, e := range a.entries[1:] {
		infos = append(infos, e.Info())
	}
	return infos
}

// Lookup finds an entry by name. Names are compared case-insensitively when
// the archive has the ignore-case flag.
func (a *Archive) Lookup(name string) (*Entry, bool) {
	id, ok := a.index.Lookup(name)
	if !ok {
		return nil, false
	}
	return a.entries[id], true
}

// AddFile appends a file. Encrypted .sng content is decoded as on open.
func (a *Archive) AddFile(name string, data []byte) (*Entry, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if name == "" || strings.ContainsRune(name, manifest.Separator) {
		return nil, fmt.Errorf("%w: %q", manifest.ErrInvalidName, name)
	}
	if !a.index.Add(name, len(a.entries)) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}

	e := &Entry{
		ID:       len(a.entries),
		Name:     name,
		Checksum: nameChecksum(name),
		Data:     data,
		Length:   uint64(len(data)),
	}
	decodePayload(e)

	a.entries = append(a.entries, e)
	a.renamed = true
	return e, nil
}

// AddDir adds every regular file below dir, named by its slash separated
// path relative to dir, in lexical order.
func (a *Archive) AddDir(dir string) (int, error) {
	files, err := ScanDir(dir)
	if err != nil {
		return 0, err
	}
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", f.Path, err)
		}
		if _, err := a.AddFile(f.Name, data); err != nil {
			return 0, err
		}
	}
	return len(files), nil
}

// SetAppID replaces the content of the application id entry.
func (a *Archive) SetAppID(id string) error {
	e, ok := a.Lookup(AppIDName)
	if !ok {
		return ErrNoAppID
	}
	old := string(e.Data)
	e.setData([]byte(id))
	log.Info().Str("old", old).Str("new", id).Msg("patched application id")
	return nil
}

// Close releases the file handle and entry buffers.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.entries = a.entries[:1]
	a.entries[0].Data = nil
	a.reindex()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// DefaultOutputDir returns the extraction directory used when none is given:
// the archive path without its .psarc extension, or with "_data" appended.
func DefaultOutputDir(archivePath string) string {
	if ext := filepath.Ext(archivePath); strings.EqualFold(ext, ".psarc") {
		return strings.TrimSuffix(archivePath, ext)
	}
	return archivePath + "_data"
}
