package archive

import (
	"errors"
	"fmt"
)

// ErrFormat is wrapped by every error that makes an archive unreadable.
var ErrFormat = errors.New("psarc format error")

var (
	ErrBadMagic               = fmt.Errorf("%w: not a PSARC archive", ErrFormat)
	ErrUnsupportedCompression = fmt.Errorf("%w: unsupported compression method", ErrFormat)
	ErrLZMA                   = fmt.Errorf("%w: lzma compression is not supported", ErrFormat)
	ErrMalformedTOC           = fmt.Errorf("%w: malformed table of contents", ErrFormat)
	ErrBlockSize              = fmt.Errorf("%w: unsupported block size", ErrFormat)
)

// ErrCorruptBlock is returned when a stored block cannot be inflated or
// points outside the block table. It only affects the entry being read.
var ErrCorruptBlock = errors.New("corrupt block")

// ErrUnencodableBlock is returned by the writer for a final partial block that
// neither compresses below the block size nor can be stored raw, because its
// first bytes read as a zlib header.
var ErrUnencodableBlock = errors.New("block cannot be encoded")

// SizeMismatchError reports an entry whose reconstructed length differs from
// the length declared in the table of contents. The data read so far is still
// returned alongside it.
type SizeMismatchError struct {
	Entry    int
	Got      uint64
	Expected uint64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("entry %d: got %d bytes, expected %d", e.Entry, e.Got, e.Expected)
}
