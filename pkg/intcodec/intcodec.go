// Package intcodec provides the fixed-width integer helpers used by the PSARC
// table of contents and the SNG header.
//
// PSARC stores everything big-endian, including 24-bit block lengths and
// 40-bit entry lengths/offsets. SNG headers are little-endian.
package intcodec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxUint40 is the largest value a 40-bit field can hold.
const MaxUint40 = 1<<40 - 1

// ErrOverflow is returned when a value does not fit the requested width.
var ErrOverflow = errors.New("intcodec: value overflows field width")

// Uint40 is an unsigned integer stored in five bytes.
type Uint40 uint64

// Valid reports whether v fits in 40 bits.
func (v Uint40) Valid() bool {
	return v <= MaxUint40
}

// Uint16BE reads a big-endian uint16.
func Uint16BE(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

// PutUint16BE writes a big-endian uint16.
func PutUint16BE(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

// Uint24BE reads a big-endian 24-bit integer.
func Uint24BE(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// PutUint24BE writes the low 24 bits of v big-endian.
func PutUint24BE(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

// Uint32BE reads a big-endian uint32.
func Uint32BE(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

// PutUint32BE writes a big-endian uint32.
func PutUint32BE(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

// Uint40BE reads a big-endian 40-bit integer.
func Uint40BE(b []byte) Uint40 {
	_ = b[4]
	return Uint40(b[0])<<32 | Uint40(b[1])<<24 | Uint40(b[2])<<16 | Uint40(b[3])<<8 | Uint40(b[4])
}

// PutUint40BE writes v as five big-endian bytes.
func PutUint40BE(b []byte, v Uint40) error {
	if !v.Valid() {
		return fmt.Errorf("%w: %d does not fit in 40 bits", ErrOverflow, uint64(v))
	}
	_ = b[4]
	b[0] = byte(v >> 32)
	b[1] = byte(v >> 24)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 8)
	b[4] = byte(v)
	return nil
}

// Uint32LE reads a little-endian uint32.
func Uint32LE(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

// PutUint32LE writes a little-endian uint32.
func PutUint32LE(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

// UintBE reads a big-endian unsigned integer of the given width (2, 3 or 4).
func UintBE(b []byte, width int) uint32 {
	switch width {
	case 2:
		return uint32(Uint16BE(b))
	case 3:
		return Uint24BE(b)
	case 4:
		return Uint32BE(b)
	default:
		panic(fmt.Sprintf("intcodec: unsupported width %d", width))
	}
}

// PutUintBE writes v big-endian using width bytes (2, 3 or 4).
func PutUintBE(b []byte, v uint32, width int) error {
	if width < 4 && v >= 1<<(8*uint(width)) {
		return fmt.Errorf("%w: %d does not fit in %d bytes", ErrOverflow, v, width)
	}
	switch width {
	case 2:
		PutUint16BE(b, uint16(v))
	case 3:
		PutUint24BE(b, v)
	case 4:
		PutUint32BE(b, v)
	default:
		panic(fmt.Sprintf("intcodec: unsupported width %d", width))
	}
	return nil
}
