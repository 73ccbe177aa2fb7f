package psarc

import (
	"crypto/md5"

	"github.com/EchoTools/psarcTools/pkg/archive"
	"github.com/EchoTools/psarcTools/pkg/sng"
)

// Entry is one file of an archive. Entry 0 is the name manifest.
type Entry struct {
	ID         int
	Name       string // Empty when the manifest has no name for this entry
	Checksum   [16]byte
	Length     uint64
	BlockIndex uint32
	Offset     uint64

	Data []byte

	// Set for .sng entries that carry an encrypted payload. Decrypted and
	// Decompressed stay nil when the payload could not be decrypted.
	Encrypted    bool
	Platform     sng.Platform
	Decrypted    []byte
	Decompressed []byte
}

// EntryInfo is the listing view of an entry.
type EntryInfo struct {
	ID     int
	Length uint64
	Name   string
}

// Info returns the listing view of e.
func (e *Entry) Info() EntryInfo {
	return EntryInfo{ID: e.ID, Length: e.Length, Name: e.Name}
}

// HasName reports whether the manifest named this entry.
func (e *Entry) HasName() bool {
	return e.Name != ""
}

func newEntry(id int, rec archive.Record) *Entry {
	return &Entry{
		ID:         id,
		Checksum:   rec.Checksum,
		Length:     rec.Length,
		BlockIndex: rec.BlockIndex,
		Offset:     rec.Offset,
	}
}

// nameChecksum is the checksum stored for entries added by this package.
func nameChecksum(name string) [16]byte {
	return md5.Sum([]byte(name))
}

// setData replaces the content of e and drops any decoded payload.
func (e *Entry) setData(data []byte) {
	e.Data = data
	e.Length = uint64(len(data))
	e.Encrypted = false
	e.Platform = sng.PlatformNone
	e.Decrypted = nil
	e.Decompressed = nil
}
