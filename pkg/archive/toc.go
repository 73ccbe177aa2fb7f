package archive

import (
	"fmt"

	"github.com/EchoTools/psarcTools/pkg/intcodec"
)

// Record is a single table of contents entry.
type Record struct {
	Checksum   [16]byte // MD5 of the entry name; carried, never verified
	BlockIndex uint32   // First slot in the shared block table
	Length     uint64   // Uncompressed length (40 bits)
	Offset     uint64   // Absolute offset of the first block (40 bits)
}

// TOC is the decoded table of contents: one record per entry followed by the
// block table shared by all entries.
type TOC struct {
	Records []Record
	Blocks  []uint32 // Stored length per block, 0 means a raw full-size block
}

// BlockCount returns the number of block table slots an entry of the given
// length occupies. Empty entries still own one slot.
func BlockCount(length uint64, blockSize uint32) uint32 {
	if length == 0 {
		return 1
	}
	return uint32((length + uint64(blockSize) - 1) / uint64(blockSize))
}

// TOCLength returns the total TOC length (header included) for the given
// number of entries and block slots.
func TOCLength(numFiles, numBlocks uint32, zType int) uint64 {
	return HeaderSize + uint64(numFiles)*TOCEntrySize + uint64(numBlocks)*uint64(zType)
}

// DecodeTOC decodes the plaintext TOC body that follows the header.
func DecodeTOC(h *Header, body []byte) (*TOC, error) {
	zType, err := h.ZType()
	if err != nil {
		return nil, err
	}

	recordsLen := int(h.NumFiles) * TOCEntrySize
	if len(body) < recordsLen {
		return nil, fmt.Errorf("%w: %d bytes for %d records", ErrMalformedTOC, len(body), h.NumFiles)
	}

	toc := &TOC{
		Records: make([]Record, h.NumFiles),
	}

	offset := 0
	for i := range toc.Records {
		rec := &toc.Records[i]
		copy(rec.Checksum[:], body[offset:offset+16])
		rec.BlockIndex = intcodec.Uint32BE(body[offset+16 : offset+20])
		rec.Length = uint64(intcodec.Uint40BE(body[offset+20 : offset+25]))
		rec.Offset = uint64(intcodec.Uint40BE(body[offset+25 : offset+30]))
		offset += TOCEntrySize
	}

	numBlocks := (len(body) - offset) / zType
	toc.Blocks = make([]uint32, numBlocks)
	for i := range toc.Blocks {
		toc.Blocks[i] = intcodec.UintBE(body[offset:], zType)
		offset += zType
	}

	// Block indexes are not checked here; an entry pointing past the table
	// fails on its own when read.
	return toc, nil
}

// Encode serializes the records and block table into a plaintext TOC body.
func (t *TOC) Encode(h *Header) ([]byte, error) {
	zType, err := h.ZType()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, len(t.Records)*TOCEntrySize+len(t.Blocks)*zType)
	offset := 0
	for i, rec := range t.Records {
		copy(buf[offset:offset+16], rec.Checksum[:])
		intcodec.PutUint32BE(buf[offset+16:offset+20], rec.BlockIndex)
		if err := intcodec.PutUint40BE(buf[offset+20:offset+25], intcodec.Uint40(rec.Length)); err != nil {
			return nil, fmt.Errorf("entry %d length: %w", i, err)
		}
		if err := intcodec.PutUint40BE(buf[offset+25:offset+30], intcodec.Uint40(rec.Offset)); err != nil {
			return nil, fmt.Errorf("entry %d offset: %w", i, err)
		}
		offset += TOCEntrySize
	}

	for i, size := range t.Blocks {
		if err := intcodec.PutUintBE(buf[offset:], size, zType); err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		offset += zType
	}

	return buf, nil
}
