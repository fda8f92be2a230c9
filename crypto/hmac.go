package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACLength is the output length of HMAC-SHA-256.
const HMACLength = sha256.Size

// HMAC computes HMAC-SHA-256(key, msg). Used by obfs3's and ScrambleSuit's
// padding-marker and frame-authentication constructions, which call for
// real HMAC rather than obfs2's K||M||K construction.
func HMAC(key, msg []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return h.Sum(nil)
}
