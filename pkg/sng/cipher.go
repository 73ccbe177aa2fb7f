package sng

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// counterStream is the payload cipher. Every 16 byte block is AES-CFB
// encrypted on its own with the current IV, then the IV is incremented as a
// 128-bit big-endian counter. One CFB block over an IV is E(IV) xor data, so
// the keystream is the AES encryption of successive counter values.
type counterStream struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	pad     [aes.BlockSize]byte
	used    int
}

// NewCounterCipher returns the payload stream for key and iv. Encryption and
// decryption are the same operation.
func NewCounterCipher(key, iv []byte) (cipher.Stream, error) {
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: iv is %d bytes, want %d", ErrCrypto, len(iv), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCrypto, err)
	}
	s := &counterStream{block: block, used: aes.BlockSize}
	copy(s.counter[:], iv)
	return s, nil
}

func (s *counterStream) refill() {
	s.block.Encrypt(s.pad[:], s.counter[:])
	for i := len(s.counter) - 1; i >= 0; i-- {
		s.counter[i]++
		if s.counter[i] != 0 {
			break
		}
	}
	s.used = 0
}

func (s *counterStream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("sng: output smaller than input")
	}
	for i := range src {
		if s.used == aes.BlockSize {
			s.refill()
		}
		dst[i] = src[i] ^ s.pad[s.used]
		s.used++
	}
}
