package archive

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

// writeBufferSize is the size of the buffer placed in front of the block pool.
const writeBufferSize = 512 * 1024

// EntryData is one entry handed to Encode.
type EntryData struct {
	Checksum [16]byte
	Data     []byte
}

// Writer lays out a PSARC archive on an io.WriteSeeker. Entry lengths must be
// known up front so the table of contents can be reserved before the blocks.
type Writer struct {
	dst     io.WriteSeeker
	buf     *bufio.Writer
	header  *Header
	toc     *TOC
	lengths []uint64
	blocks  *BlockWriter
	level   int
	next    int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithCompressionLevel sets the deflate level for new blocks.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// NewWriter creates a writer for len(lengths) entries. The header supplies the
// version, block size and flags; the TOC length and file count are computed.
func NewWriter(dst io.WriteSeeker, header Header, lengths []uint64, opts ...WriterOption) (*Writer, error) {
	h := header
	h.TOCEntrySize = TOCEntrySize
	h.NumFiles = uint32(len(lengths))

	zType, err := h.ZType()
	if err != nil {
		return nil, err
	}

	var numBlocks uint64
	for _, length := range lengths {
		numBlocks += uint64(BlockCount(length, h.BlockSize))
	}
	tocLength := TOCLength(h.NumFiles, uint32(numBlocks), zType)
	if tocLength > math.MaxUint32 || numBlocks > math.MaxUint32 {
		return nil, fmt.Errorf("%w: table of contents too large (%d bytes)", ErrMalformedTOC, tocLength)
	}
	h.TOCLength = uint32(tocLength)

	w := &Writer{
		dst:     dst,
		buf:     bufio.NewWriterSize(dst, writeBufferSize),
		header:  &h,
		toc:     &TOC{Records: make([]Record, 0, len(lengths))},
		lengths: lengths,
		level:   DefaultCompressionLevel,
	}
	for _, opt := range opts {
		opt(w)
	}

	// Reserve header and TOC
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek to start: %w", err)
	}
	if _, err := w.buf.Write(make([]byte, tocLength)); err != nil {
		return nil, fmt.Errorf("write toc placeholder: %w", err)
	}

	w.blocks = NewBlockWriter(w.buf, h.BlockSize, tocLength, w.level)
	return w, nil
}

// Header returns the header that Close will write.
func (w *Writer) Header() *Header {
	return w.header
}

// WriteEntry compresses and writes the next entry.
func (w *Writer) WriteEntry(data []byte, checksum [16]byte) error {
	if w.next >= len(w.lengths) {
		return fmt.Errorf("too many entries: expected %d", len(w.lengths))
	}
	if uint64(len(data)) != w.lengths[w.next] {
		return fmt.Errorf("entry %d: got %d bytes, declared %d", w.next, len(data), w.lengths[w.next])
	}

	index, offset, err := w.blocks.WriteEntry(data)
	if err != nil {
		return fmt.Errorf("entry %d: %w", w.next, err)
	}

	w.toc.Records = append(w.toc.Records, Record{
		Checksum:   checksum,
		BlockIndex: index,
		Length:     uint64(len(data)),
		Offset:     offset,
	})
	w.next++
	return nil
}

// Close finalizes the archive by writing the header and the (optionally
// encrypted) table of contents over the reserved space.
func (w *Writer) Close() error {
	if w.next != len(w.lengths) {
		return fmt.Errorf("wrote %d of %d entries", w.next, len(w.lengths))
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush blocks: %w", err)
	}
	end := w.blocks.Offset()

	w.toc.Blocks = w.blocks.Blocks()
	body, err := w.toc.Encode(w.header)
	if err != nil {
		return fmt.Errorf("encode toc: %w", err)
	}
	if err := EncryptTOC(w.header, body); err != nil {
		return err
	}

	headerBytes, err := w.header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	if _, err := w.dst.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek to start: %w", err)
	}
	if _, err := w.dst.Write(headerBytes); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.dst.Write(body); err != nil {
		return fmt.Errorf("write toc: %w", err)
	}

	// Seek back to end
	if _, err := w.dst.Seek(int64(end), io.SeekStart); err != nil {
		return fmt.Errorf("seek to end: %w", err)
	}
	return nil
}

// Encode writes a complete archive containing entries to dst.
func Encode(dst io.WriteSeeker, header Header, entries []EntryData, opts ...WriterOption) (*Header, error) {
	lengths := make([]uint64, len(entries))
	for i, e := range entries {
		lengths[i] = uint64(len(e.Data))
	}

	w, err := NewWriter(dst, header, lengths, opts...)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := w.WriteEntry(e.Data, e.Checksum); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return w.Header(), nil
}
