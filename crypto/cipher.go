package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AESKeyLength is the AES-128 key length in bytes, used by obfs2 and
// obfs3 (§4.1, §4.4, §4.5). ScrambleSuit uses AES-256 (§4.6) and passes
// its own 32-byte key length to NewCTRCipher directly.
const AESKeyLength = 16

// AESBlockLength is the AES block length in bytes; obfs2/obfs3/ScrambleSuit
// all treat the 128-bit IV as a big-endian counter.
const AESBlockLength = aes.BlockSize

var (
	// ErrKeyLength is returned when a key is not a valid AES key length.
	ErrKeyLength = errors.New("crypto: key must be 16, 24, or 32 bytes")
	// ErrIVLength is returned when an IV/counter is not AESBlockLength bytes.
	ErrIVLength = errors.New("crypto: iv must be 16 bytes")
)

// CTRCipher is a per-direction AES counter-mode keystream (AES-128,
// AES-192, or AES-256 depending on key length). The counter advances
// monotonically as bytes are processed; Process may be called repeatedly
// with arbitrarily sized, unaligned chunks.
type CTRCipher struct {
	stream cipher.Stream
	key    *SecureBuffer
	iv     *SecureBuffer
}

// NewCTRCipher constructs a CTRCipher keyed by key, with counter initial
// value iv. Both key and iv are copied into SecureBuffers owned by the
// cipher; the caller's slices are not retained.
func NewCTRCipher(key, iv []byte) (*CTRCipher, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrKeyLength
	}
	if len(iv) != AESBlockLength {
		return nil, ErrIVLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	k := SecureBufferFrom(key)
	v := SecureBufferFrom(iv)
	return &CTRCipher{
		stream: cipher.NewCTR(block, v.Bytes()),
		key:    k,
		iv:     v,
	}, nil
}

// Process XORs the keystream into src, writing dst. dst and src may
// overlap exactly (in-place transform) per cipher.Stream's contract.
func (c *CTRCipher) Process(dst, src []byte) {
	c.stream.XORKeyStream(dst, src)
}

// Zero scrubs the key and counter. The cipher must not be used afterward.
func (c *CTRCipher) Zero() {
	if c == nil {
		return
	}
	c.key.Zero()
	c.iv.Zero()
}
