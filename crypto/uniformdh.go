package crypto

import (
	"errors"
	"math/big"
	"strings"
)

// uniformDHPrimeHex is the RFC 3526 Group 5 1536-bit MODP prime.
const uniformDHPrimeHex = `
	FFFFFFFF FFFFFFFF C90FDAA2 2168C234 C4C6628B 80DC1CD1
	29024E08 8A67CC74 020BBEA6 3B139B22 514A0879 8E3404DD
	EF9519B3 CD3A431B 302B0A6D F25F1437 4FE1356D 6D51C245
	E485B576 625E7EC6 F44C42E9 A637ED6B 0BFF5CB6 F406B7ED
	EE386BFB 5A899FA5 AE9F2411 7C4B1FE6 49286651 ECE45B3D
	C2007CB8 A163BF05 98DA4836 1C55D39A 69163FA8 FD24CF5F
	83655D23 DCA3AD96 1C62F356 208552BB 9ED52907 7096966D
	670C354E 4ABC9804 F1746C08 CA237327 FFFFFFFF FFFFFFFF
`

// UniformDHPublicLen is the wire length in bytes of a UniformDH public
// value: 1536 bits, big-endian, zero-padded.
const UniformDHPublicLen = 192

var (
	uniformDHPrime   *big.Int
	uniformDHPrimeM1 *big.Int
	uniformDHGen     = big.NewInt(2)
)

func init() {
	hex := strings.NewReplacer(" ", "", "\t", "", "\n", "").Replace(uniformDHPrimeHex)
	p, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		panic("crypto: malformed UniformDH prime")
	}
	uniformDHPrime = p
	uniformDHPrimeM1 = new(big.Int).Sub(p, big.NewInt(1))
}

// ErrUniformDHPublicLen is returned when a peer's public value is not
// UniformDHPublicLen bytes.
var ErrUniformDHPublicLen = errors.New("crypto: uniformdh public value has wrong length")

// ErrUniformDHPublicRange is returned when a peer's public value, decoded
// as an integer, is outside (1, p-1) or otherwise unsafe to exponentiate.
var ErrUniformDHPublicRange = errors.New("crypto: uniformdh public value out of range")

// UniformDHKeyPair is one party's ephemeral UniformDH keypair. The
// transmitted public value is computationally indistinguishable from a
// uniformly random 192-byte string: the private exponent's low bit is
// forced to zero, and the public value is blinded by negating it modulo p
// with 50% probability.
type UniformDHKeyPair struct {
	x      *SecureBuffer // private exponent, big-endian
	public *big.Int
}

// GenerateUniformDH draws a new ephemeral UniformDH keypair.
func GenerateUniformDH() (*UniformDHKeyPair, error) {
	x, err := randFieldElement()
	if err != nil {
		return nil, err
	}
	// Force x even: this is what makes (p-Y)^x == Y^x (mod p), so a
	// blinded public value verifies identically to an unblinded one.
	x.SetBit(x, 0, 0)

	gx := new(big.Int).Exp(uniformDHGen, x, uniformDHPrime)

	blind, err := UniformUint32(2)
	if err != nil {
		return nil, err
	}
	public := gx
	if blind == 1 {
		public = new(big.Int).Sub(uniformDHPrime, gx)
	}

	return &UniformDHKeyPair{
		x:      SecureBufferFrom(x.Bytes()),
		public: public,
	}, nil
}

// randFieldElement draws a value uniformly from [1, p-2], rejecting the
// endpoints so the resulting exponent never collapses the group.
func randFieldElement() (*big.Int, error) {
	for {
		buf, err := RandomBytes(UniformDHPublicLen)
		if err != nil {
			return nil, err
		}
		x := new(big.Int).SetBytes(buf)
		if x.Sign() == 0 || x.Cmp(uniformDHPrimeM1) >= 0 {
			continue
		}
		return x, nil
	}
}

// Public returns this party's public value, encoded as exactly
// UniformDHPublicLen big-endian bytes, zero-padded on the left.
func (k *UniformDHKeyPair) Public() []byte {
	out := make([]byte, UniformDHPublicLen)
	b := k.public.Bytes()
	copy(out[UniformDHPublicLen-len(b):], b)
	return out
}

// SharedSecret validates peerPublic and computes peerPublic^x mod p,
// returning it as a UniformDHPublicLen-byte SecureBuffer. Both parties
// arrive at the same value regardless of which one was blinded, because x
// is even.
func (k *UniformDHKeyPair) SharedSecret(peerPublic []byte) (*SecureBuffer, error) {
	if len(peerPublic) != UniformDHPublicLen {
		return nil, ErrUniformDHPublicLen
	}
	y := new(big.Int).SetBytes(peerPublic)
	if y.Cmp(big.NewInt(1)) <= 0 || y.Cmp(uniformDHPrimeM1) >= 0 {
		return nil, ErrUniformDHPublicRange
	}

	x := new(big.Int).SetBytes(k.x.Bytes())
	shared := new(big.Int).Exp(y, x, uniformDHPrime)

	out := NewSecureBuffer(UniformDHPublicLen)
	b := shared.Bytes()
	copy(out.b[UniformDHPublicLen-len(b):], b)
	return out, nil
}

// Zero scrubs the private exponent. The keypair must not be used afterward.
func (k *UniformDHKeyPair) Zero() {
	if k == nil {
		return
	}
	k.x.Zero()
}
