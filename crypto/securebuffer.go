// Package crypto implements the cryptographic primitives shared by the
// obfs2, obfs3, and ScrambleSuit transports: the obfs2 MAC construction,
// HKDF-SHA-256, AES-CTR-128, and the UniformDH group used by obfs3 and
// ScrambleSuit.
package crypto

// SecureBuffer is a length-typed byte sequence whose backing array is
// overwritten with zeroes by Zero; nothing zeroes it automatically, so the
// owner calls Zero before dropping it. Keys, seeds, and derived
// secrets live only in a SecureBuffer; callers must not copy the result
// of Bytes into a plain slice that outlives the SecureBuffer.
type SecureBuffer struct {
	b []byte
}

// NewSecureBuffer allocates a zeroed SecureBuffer of the given length.
func NewSecureBuffer(n int) *SecureBuffer {
	return &SecureBuffer{b: make([]byte, n)}
}

// SecureBufferFrom copies src into a new SecureBuffer. src is not retained.
func SecureBufferFrom(src []byte) *SecureBuffer {
	buf := NewSecureBuffer(len(src))
	copy(buf.b, src)
	return buf
}

// Bytes returns the backing slice. The caller must not retain it past the
// SecureBuffer's lifetime.
func (s *SecureBuffer) Bytes() []byte {
	if s == nil {
		return nil
	}
	return s.b
}

// Len returns the buffer length.
func (s *SecureBuffer) Len() int {
	if s == nil {
		return 0
	}
	return len(s.b)
}

// Slice returns a sub-slice of the backing array, aliasing it. Used for
// splitting a derived secret into key/IV halves without copying.
func (s *SecureBuffer) Slice(i, j int) []byte {
	return s.b[i:j]
}

// Zero overwrites the backing array with zeroes. Safe to call more than
// once and on a nil receiver.
func (s *SecureBuffer) Zero() {
	if s == nil {
		return
	}
	for i := range s.b {
		s.b[i] = 0
	}
}
