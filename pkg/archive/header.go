// Package archive implements the PSARC container codec: the fixed header, the
// table of contents and the shared block pool.
package archive

import (
	"fmt"

	"github.com/EchoTools/psarcTools/pkg/intcodec"
)

// Magic bytes identifying a PSARC archive.
var Magic = [4]byte{'P', 'S', 'A', 'R'}

// HeaderSize is the fixed binary size of an archive header.
const HeaderSize = 32 // 8 * uint32

const (
	// Version14 is the only version written by this package.
	Version14 uint32 = 0x00010004

	// TOCEntrySize is the size of a single table of contents record.
	TOCEntrySize = 30

	// DefaultBlockSize is the nominal block size used for new archives.
	DefaultBlockSize = 65536
)

// Compression is the four character compression method tag.
type Compression uint32

const (
	CompressionZlib Compression = 0x7A6C6962 // "zlib"
	CompressionLZMA Compression = 0x6C7A6D61 // "lzma"
)

func (c Compression) String() string {
	b := make([]byte, 4)
	intcodec.PutUint32BE(b, uint32(c))
	return fmt.Sprintf("%q", b)
}

// Flags is the archive flags field.
type Flags uint32

const (
	FlagIgnoreCase    Flags = 1 << 0
	FlagAbsolutePaths Flags = 1 << 1
	FlagEncryptedTOC  Flags = 1 << 2
)

// Header represents the header of a PSARC archive.
type Header struct {
	Magic        [4]byte
	Version      uint32
	Compression  Compression
	TOCLength    uint32 // Header plus TOC records plus block table
	TOCEntrySize uint32
	NumFiles     uint32 // Entry 0 is the name manifest
	BlockSize    uint32
	Flags        Flags
}

// NewHeader creates a header with the defaults used for new archives.
func NewHeader() *Header {
	return &Header{
		Magic:        Magic,
		Version:      Version14,
		Compression:  CompressionZlib,
		TOCEntrySize: TOCEntrySize,
		BlockSize:    DefaultBlockSize,
	}
}

// Size returns the binary size of the header.
func (h *Header) Size() int {
	return HeaderSize
}

// IsArchive reports whether the magic matches.
func (h *Header) IsArchive() bool {
	return h.Magic == Magic
}

// IsSupportedCompression reports whether the compression method is zlib.
func (h *Header) IsSupportedCompression() bool {
	return h.Compression == CompressionZlib
}

// IsTOCEncrypted reports whether the table of contents is AES encrypted.
func (h *Header) IsTOCEncrypted() bool {
	return h.Flags&FlagEncryptedTOC != 0
}

// ZType returns the width in bytes of each block table entry.
func (h *Header) ZType() (int, error) {
	width := 1
	for probe := uint64(0x100); probe < uint64(h.BlockSize); probe <<= 8 {
		width++
	}
	if width < 2 || width > 4 {
		return 0, fmt.Errorf("%w: block size %d gives width %d", ErrBlockSize, h.BlockSize, width)
	}
	return width, nil
}

// Validate checks the header for validity.
func (h *Header) Validate() error {
	if !h.IsArchive() {
		return fmt.Errorf("%w: expected %x, got %x", ErrBadMagic, Magic, h.Magic)
	}
	if h.Compression == CompressionLZMA {
		return ErrLZMA
	}
	if !h.IsSupportedCompression() {
		return fmt.Errorf("%w: %s", ErrUnsupportedCompression, h.Compression)
	}
	if h.TOCEntrySize != TOCEntrySize {
		return fmt.Errorf("%w: entry size %d, expected %d", ErrMalformedTOC, h.TOCEntrySize, TOCEntrySize)
	}
	if uint64(h.TOCLength) < HeaderSize+uint64(h.NumFiles)*TOCEntrySize {
		return fmt.Errorf("%w: length %d too small for %d entries", ErrMalformedTOC, h.TOCLength, h.NumFiles)
	}
	if _, err := h.ZType(); err != nil {
		return err
	}
	return nil
}

// MarshalBinary encodes the header to binary format.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// EncodeTo writes the header to the given buffer.
// The buffer must be at least HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	intcodec.PutUint32BE(buf[4:8], h.Version)
	intcodec.PutUint32BE(buf[8:12], uint32(h.Compression))
	intcodec.PutUint32BE(buf[12:16], h.TOCLength)
	intcodec.PutUint32BE(buf[16:20], h.TOCEntrySize)
	intcodec.PutUint32BE(buf[20:24], h.NumFiles)
	intcodec.PutUint32BE(buf[24:28], h.BlockSize)
	intcodec.PutUint32BE(buf[28:32], uint32(h.Flags))
}

// UnmarshalBinary decodes and validates the header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header data too short: need %d, got %d", ErrFormat, HeaderSize, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}

// DecodeFrom reads the header from the given buffer.
// Does not validate - use UnmarshalBinary for validation.
func (h *Header) DecodeFrom(data []byte) {
	copy(h.Magic[:], data[0:4])
	h.Version = intcodec.Uint32BE(data[4:8])
	h.Compression = Compression(intcodec.Uint32BE(data[8:12]))
	h.TOCLength = intcodec.Uint32BE(data[12:16])
	h.TOCEntrySize = intcodec.Uint32BE(data[16:20])
	h.NumFiles = intcodec.Uint32BE(data[20:24])
	h.BlockSize = intcodec.Uint32BE(data[24:28])
	h.Flags = Flags(intcodec.Uint32BE(data[28:32]))
}
