package archive

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// tocKey is the well-known key every encrypted PSARC TOC uses.
var tocKey = []byte{
	0xC5, 0x3D, 0xB2, 0x38, 0x70, 0xA1, 0xA2, 0xF7,
	0x1C, 0xAE, 0x64, 0x06, 0x1F, 0xDD, 0x0E, 0x11,
	0x57, 0x30, 0x9D, 0xC8, 0x52, 0x04, 0xD4, 0xC5,
	0xBF, 0xDF, 0x25, 0x09, 0x0D, 0xF2, 0x57, 0x2C,
}

// tocCipherAlign is the granularity of the encrypted TOC span. The cipher
// length is the total TOC length (header included) rounded down to this
// boundary, which always covers the whole body that follows the header.
const tocCipherAlign = 32

// cipherSpan returns how many leading bytes of body are encrypted.
func cipherSpan(h *Header, body []byte) int {
	n := int(h.TOCLength &^ (tocCipherAlign - 1))
	if n > len(body) {
		n = len(body)
	}
	return n
}

// DecryptTOC decrypts the TOC body in place when the header says it is
// encrypted. AES-256 in CFB mode with a zero IV.
func DecryptTOC(h *Header, body []byte) error {
	if !h.IsTOCEncrypted() {
		return nil
	}
	block, err := aes.NewCipher(tocKey)
	if err != nil {
		return fmt.Errorf("toc cipher: %w", err)
	}
	n := cipherSpan(h, body)
	cipher.NewCFBDecrypter(block, make([]byte, aes.BlockSize)).XORKeyStream(body[:n], body[:n])
	return nil
}

// EncryptTOC is the inverse of DecryptTOC.
func EncryptTOC(h *Header, body []byte) error {
	if !h.IsTOCEncrypted() {
		return nil
	}
	block, err := aes.NewCipher(tocKey)
	if err != nil {
		return fmt.Errorf("toc cipher: %w", err)
	}
	n := cipherSpan(h, body)
	cipher.NewCFBEncrypter(block, make([]byte, aes.BlockSize)).XORKeyStream(body[:n], body[:n])
	return nil
}
