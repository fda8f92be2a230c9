package crypto

import "crypto/sha256"

// DigestLength is the length in bytes of a SHA-256 digest.
const DigestLength = sha256.Size

// MAC computes the obfs2 authentication construction SHA256(key||msg||key).
// It is not HMAC; obfs2 defines its own scheme this way (see
// schwanenlied/pt/obfs2/client.cc's mac()).
func MAC(key, msg []byte) *SecureBuffer {
	h := sha256.New()
	h.Write(key)
	h.Write(msg)
	h.Write(key)
	out := NewSecureBuffer(DigestLength)
	h.Sum(out.b[:0])
	return out
}
