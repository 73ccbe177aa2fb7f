package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// DefaultCompressionLevel is the deflate level used for new blocks.
const DefaultCompressionLevel = zlib.BestCompression

// isZlib reports whether a stored block starts with a zlib stream header.
// Deflate at maximum compression writes 0x78 0xDA; the other three standard
// level markers are accepted as well. Anything else is copied verbatim.
func isZlib(b []byte) bool {
	if len(b) < 2 || b[0] != 0x78 {
		return false
	}
	switch b[1] {
	case 0x01, 0x5E, 0x9C, 0xDA:
		return true
	}
	return false
}

// BlockReader reconstructs entry contents from the shared block pool.
// It is not safe for concurrent use.
type BlockReader struct {
	r         io.ReadSeeker
	blocks    []uint32
	blockSize uint32
	scratch   []byte // Largest stored block seen so far
}

// NewBlockReader creates a block reader over r using the decoded block table.
func NewBlockReader(r io.ReadSeeker, blocks []uint32, blockSize uint32) *BlockReader {
	return &BlockReader{
		r:         r,
		blocks:    blocks,
		blockSize: blockSize,
	}
}

func (br *BlockReader) buffer(n uint32) []byte {
	if uint32(cap(br.scratch)) < n {
		br.scratch = make([]byte, n)
	}
	return br.scratch[:n]
}

// ReadEntry returns the uncompressed bytes of the entry described by rec.
// A *SizeMismatchError, an ErrCorruptBlock error or a short read wrapping
// io.ErrUnexpectedEOF comes with the data that could be reconstructed; any
// other error is an I/O failure.
func (br *BlockReader) ReadEntry(id int, rec Record) ([]byte, error) {
	if rec.Length == 0 {
		return []byte{}, nil
	}

	// Every slot from the first block on yields at most one block, so a
	// corrupt length cannot force a larger allocation.
	var available uint64
	if int(rec.BlockIndex) < len(br.blocks) {
		available = uint64(len(br.blocks)-int(rec.BlockIndex)) * uint64(br.blockSize)
	}
	data := make([]byte, min(rec.Length, available))

	if _, err := br.r.Seek(int64(rec.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek entry %d: %w", id, err)
	}

	var written, produced uint64
	index := rec.BlockIndex
	for written < rec.Length {
		if int(index) >= len(br.blocks) {
			// The block table ran out before the declared length was reached.
			break
		}

		size := br.blocks[index]
		if size == 0 {
			n := uint64(br.blockSize)
			if written+n > rec.Length {
				// A raw full block past the declared length; keep the excess out
				// of the entry but report it.
				buf := br.buffer(br.blockSize)
				if _, err := io.ReadFull(br.r, buf); err != nil {
					return data[:written], shortRead(id, index, err)
				}
				written += uint64(copy(data[written:], buf))
				produced += n
				break
			}
			if m, err := io.ReadFull(br.r, data[written:written+n]); err != nil {
				written += uint64(m)
				return data[:written], shortRead(id, index, err)
			}
			written += n
			produced += n
		} else {
			buf := br.buffer(size)
			if _, err := io.ReadFull(br.r, buf); err != nil {
				return data[:written], shortRead(id, index, err)
			}
			var n int
			if isZlib(buf) {
				want := min(rec.Length-written, uint64(br.blockSize))
				var err error
				n, err = inflate(data[written:written+want], buf)
				if err != nil {
					written += uint64(n)
					return data[:written], fmt.Errorf("%w: entry %d block %d: %v", ErrCorruptBlock, id, index, err)
				}
			} else {
				// No block yields more than the nominal block size.
				end := min(uint64(len(data)), written+uint64(br.blockSize))
				n = copy(data[written:end], buf)
				produced += uint64(len(buf) - n)
			}
			written += uint64(n)
			produced += uint64(n)
		}
		index++
	}

	if produced != rec.Length {
		return data[:written], &SizeMismatchError{Entry: id, Got: produced, Expected: rec.Length}
	}
	return data, nil
}

// shortRead wraps a failed block read. A stream that ends early is reported
// as io.ErrUnexpectedEOF.
func shortRead(id int, index uint32, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("read entry %d block %d: %w", id, index, err)
}

// inflate decompresses src into dst, returning the number of bytes produced.
// A stream shorter than dst is not an error; the caller checks the total.
func inflate(dst, src []byte) (int, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	n, err := io.ReadFull(zr, dst)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// BlockWriter splits entries into blocks, compresses them and records their
// stored lengths in the block table.
type BlockWriter struct {
	w         io.Writer
	blockSize uint32
	level     int
	blocks    []uint32
	offset    uint64 // Absolute offset of the next block
	comp      bytes.Buffer
}

// NewBlockWriter creates a block writer whose first block lands at offset.
func NewBlockWriter(w io.Writer, blockSize uint32, offset uint64, level int) *BlockWriter {
	return &BlockWriter{
		w:         w,
		blockSize: blockSize,
		level:     level,
		offset:    offset,
	}
}

// Blocks returns the block table built so far.
func (bw *BlockWriter) Blocks() []uint32 {
	return bw.blocks
}

// Offset returns the absolute offset of the next block.
func (bw *BlockWriter) Offset() uint64 {
	return bw.offset
}

// WriteEntry writes data as one or more blocks and returns the entry's first
// block index and offset.
func (bw *BlockWriter) WriteEntry(data []byte) (uint32, uint64, error) {
	index := uint32(len(bw.blocks))
	offset := bw.offset

	for {
		n := min(len(data), int(bw.blockSize))
		if err := bw.writeBlock(data[:n]); err != nil {
			return 0, 0, err
		}
		data = data[n:]
		if len(data) == 0 {
			break
		}
	}

	return index, offset, nil
}

func (bw *BlockWriter) writeBlock(chunk []byte) error {
	raw := len(chunk) == int(bw.blockSize)
	compressed, ok := bw.compress(chunk)

	var stored []byte
	switch {
	case ok && len(compressed) <= len(chunk):
		stored = compressed
	case raw:
		// Full raw blocks are coded 0 and never inflated.
		stored = chunk
	case isZlib(chunk):
		// A raw partial block would be taken for a zlib stream; store the
		// deflated bytes even though they are larger.
		if !ok {
			return fmt.Errorf("%w: block %d", ErrUnencodableBlock, len(bw.blocks))
		}
		stored = compressed
	default:
		stored = chunk
	}

	// Compressed output is always shorter than a block, so only a raw
	// full-size block reaches the nominal size.
	size := uint32(len(stored))
	if size == bw.blockSize {
		size = 0
	}

	if _, err := bw.w.Write(stored); err != nil {
		return fmt.Errorf("write block %d: %w", len(bw.blocks), err)
	}
	bw.blocks = append(bw.blocks, size)
	bw.offset += uint64(len(stored))
	return nil
}

// compress deflates chunk. It fails when the output cannot be told apart from
// a raw full block.
func (bw *BlockWriter) compress(chunk []byte) ([]byte, bool) {
	bw.comp.Reset()
	zw, err := zlib.NewWriterLevel(&bw.comp, bw.level)
	if err != nil {
		return nil, false
	}
	if _, err := zw.Write(chunk); err != nil {
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}
	out := bw.comp.Bytes()
	if len(out) >= int(bw.blockSize) {
		return nil, false
	}
	return out, true
}
