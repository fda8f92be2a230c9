package crypto

import (
	"crypto/rand"
	"math/big"
)

// RandomBytes draws n cryptographically secure random bytes. Every
// consumer in this codebase must treat a returned error as fatal for the
// session in progress (spec: "RNG: ... failable; every consumer must
// handle failure by aborting the session").
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// UniformUint32 returns a value drawn uniformly from [0, n) with no
// modulo bias, or an error if the source is exhausted. n must be > 0.
func UniformUint32(n uint32) (uint32, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return uint32(v.Int64()), nil
}
