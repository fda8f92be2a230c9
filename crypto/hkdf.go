package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFExpand runs RFC 5869 HKDF-SHA-256 Extract-then-Expand over secret,
// with the given salt and info, producing length bytes.
func HKDFExpand(secret, salt, info []byte, length int) (*SecureBuffer, error) {
	r := hkdf.New(sha256.New, secret, salt, info)
	out := NewSecureBuffer(length)
	if _, err := io.ReadFull(r, out.b); err != nil {
		out.Zero()
		return nil, err
	}
	return out, nil
}
