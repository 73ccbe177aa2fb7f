package archive

import (
	"fmt"
	"io"
)

// Reader decodes the header and table of contents of a PSARC archive and
// reconstructs entries on demand.
type Reader struct {
	header    *Header
	toc       *TOC
	blocks    *BlockReader
	headerBuf [HeaderSize]byte
}

// NewReader reads and validates the header and table of contents from r.
// Any error returned here makes the archive unusable.
func NewReader(r io.ReadSeeker) (*Reader, error) {
	reader := &Reader{
		header: &Header{},
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek header: %w", err)
	}
	if _, err := io.ReadFull(r, reader.headerBuf[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := reader.header.UnmarshalBinary(reader.headerBuf[:]); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("seek end: %w", err)
	}
	if int64(reader.header.TOCLength) > size {
		return nil, fmt.Errorf("%w: length %d exceeds archive size %d", ErrMalformedTOC, reader.header.TOCLength, size)
	}
	if _, err := r.Seek(HeaderSize, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek toc: %w", err)
	}

	body := make([]byte, reader.header.TOCLength-HeaderSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read toc: %w", err)
	}
	if err := DecryptTOC(reader.header, body); err != nil {
		return nil, err
	}

	toc, err := DecodeTOC(reader.header, body)
	if err != nil {
		return nil, fmt.Errorf("parse toc: %w", err)
	}
	reader.toc = toc
	reader.blocks = NewBlockReader(r, toc.Blocks, reader.header.BlockSize)

	return reader, nil
}

// Header returns the archive header.
func (r *Reader) Header() *Header {
	return r.header
}

// Records returns the table of contents records, entry 0 first.
func (r *Reader) Records() []Record {
	return r.toc.Records
}

// Blocks returns the shared block table.
func (r *Reader) Blocks() []uint32 {
	return r.toc.Blocks
}

// NumEntries returns the number of entries including the name manifest.
func (r *Reader) NumEntries() int {
	return len(r.toc.Records)
}

// ReadEntry reconstructs the bytes of entry i. See BlockReader.ReadEntry for
// the errors that still return data.
func (r *Reader) ReadEntry(i int) ([]byte, error) {
	if i < 0 || i >= len(r.toc.Records) {
		return nil, fmt.Errorf("invalid entry index %d", i)
	}
	return r.blocks.ReadEntry(i, r.toc.Records[i])
}
