// Package sng decrypts and re-encrypts the per-platform song payloads stored
// in .sng entries.
package sng

import (
	"bytes"
	"crypto/aes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/EchoTools/psarcTools/pkg/intcodec"
	"github.com/klauspost/compress/zlib"
)

const (
	// Tag and Version open every encrypted payload, little-endian.
	Tag     = 0x4A
	Version = 0x03

	// Extension marks entries that may carry an encrypted payload.
	Extension = ".sng"

	ivOffset   = 8
	dataOffset = ivOffset + aes.BlockSize
	sizePrefix = 4
	probeSize  = sizePrefix + 2 // size prefix and zlib header
)

var (
	// ErrCrypto is the base error for payload failures. They only affect the
	// entry being processed.
	ErrCrypto = errors.New("sng crypto error")

	ErrNotEncrypted    = fmt.Errorf("%w: not an encrypted payload", ErrCrypto)
	ErrUnknownPlatform = fmt.Errorf("%w: unable to determine platform", ErrCrypto)
)

// Payload is a decrypted SNG entry.
type Payload struct {
	Platform     Platform
	IV           [aes.BlockSize]byte
	Decrypted    []byte // Size prefix followed by the zlib stream
	Decompressed []byte
}

// DeclaredSize returns the decompressed size stored in the plaintext.
func (p *Payload) DeclaredSize() uint32 {
	if len(p.Decrypted) < sizePrefix {
		return 0
	}
	return intcodec.Uint32LE(p.Decrypted)
}

// IsSngName reports whether an entry name has the .sng suffix.
func IsSngName(name string) bool {
	return strings.HasSuffix(name, Extension)
}

// IsEncrypted reports whether data starts with the encrypted payload header.
func IsEncrypted(data []byte) bool {
	return len(data) > ivOffset &&
		intcodec.Uint32LE(data[0:4]) == Tag &&
		intcodec.Uint32LE(data[4:8]) == Version
}

// DetectPlatform decrypts the first payload block with each key and looks for
// the zlib header after the size prefix. PC is tried first.
func DetectPlatform(data []byte) Platform {
	if len(data) < dataOffset+probeSize {
		return PlatformUnknown
	}
	iv := data[ivOffset:dataOffset]
	src := data[dataOffset:min(len(data), dataOffset+aes.BlockSize)]
	probe := make([]byte, len(src))
	for _, p := range []Platform{PlatformPC, PlatformMac} {
		key, _ := p.Key()
		stream, err := NewCounterCipher(key, iv)
		if err != nil {
			return PlatformUnknown
		}
		stream.XORKeyStream(probe, src)
		if probe[4] == 0x78 && probe[5] == 0xDA {
			return p
		}
	}
	return PlatformUnknown
}

// Decrypt decrypts and inflates an encrypted payload. A payload whose
// platform cannot be determined fails with ErrUnknownPlatform and carries no
// plaintext. Inflate failures return the Payload with Decrypted set.
func Decrypt(data []byte) (*Payload, error) {
	if !IsEncrypted(data) {
		return nil, ErrNotEncrypted
	}

	platform := DetectPlatform(data)
	key, ok := platform.Key()
	if !ok {
		return nil, ErrUnknownPlatform
	}

	p := &Payload{Platform: platform}
	copy(p.IV[:], data[ivOffset:dataOffset])

	stream, err := NewCounterCipher(key, p.IV[:])
	if err != nil {
		return nil, err
	}
	p.Decrypted = make([]byte, len(data)-dataOffset)
	stream.XORKeyStream(p.Decrypted, data[dataOffset:])

	p.Decompressed, err = inflate(p.Decrypted[sizePrefix:], p.DeclaredSize())
	if err != nil {
		return p, err
	}
	return p, nil
}

func inflate(src []byte, size uint32) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate: %v", ErrCrypto, err)
	}
	defer zr.Close()

	// Read one byte past the declared size to catch overlong streams without
	// trusting the prefix for the allocation.
	var out bytes.Buffer
	n, err := io.Copy(&out, io.LimitReader(zr, int64(size)+1))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: inflate: %v", ErrCrypto, err)
	}
	if n != int64(size) {
		return nil, fmt.Errorf("%w: inflated %d bytes, declared %d", ErrCrypto, n, size)
	}
	return out.Bytes(), nil
}

// Encrypt returns a copy of data with the payload re-encrypted for target.
// The IV stored in data is reused. decrypted must be the plaintext of data as
// returned in Payload.Decrypted.
func Encrypt(data, decrypted []byte, target Platform) ([]byte, error) {
	if !IsEncrypted(data) || len(data) < dataOffset {
		return nil, ErrNotEncrypted
	}
	if len(decrypted) != len(data)-dataOffset {
		return nil, fmt.Errorf("%w: plaintext is %d bytes, payload holds %d", ErrCrypto, len(decrypted), len(data)-dataOffset)
	}
	key, ok := target.Key()
	if !ok {
		return nil, fmt.Errorf("%w: no key for target platform %s", ErrCrypto, target)
	}

	stream, err := NewCounterCipher(key, data[ivOffset:dataOffset])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data[:dataOffset])
	stream.XORKeyStream(out[dataOffset:], decrypted)
	return out, nil
}

// Seal builds a new encrypted payload for target from uncompressed content.
// The content is deflated at the best compression level so the platform probe
// can identify it.
func Seal(content []byte, iv [aes.BlockSize]byte, target Platform) ([]byte, error) {
	if uint64(len(content)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("%w: content too large (%d bytes)", ErrCrypto, len(content))
	}

	var plain bytes.Buffer
	prefix := make([]byte, sizePrefix)
	intcodec.PutUint32LE(prefix, uint32(len(content)))
	plain.Write(prefix)

	zw, err := zlib.NewWriterLevel(&plain, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCrypto, err)
	}
	if _, err := zw.Write(content); err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCrypto, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCrypto, err)
	}

	data := make([]byte, dataOffset+plain.Len())
	intcodec.PutUint32LE(data[0:4], Tag)
	intcodec.PutUint32LE(data[4:8], Version)
	copy(data[ivOffset:dataOffset], iv[:])

	return Encrypt(data, plain.Bytes(), target)
}
