// Package obfs3 implements the client (initiator) side of the obfs3
// pluggable transport (spec §4.5): a UniformDH handshake followed by
// post-handshake padding delimited by an HMAC marker, then a
// length-preserving AES-CTR relay identical in shape to obfs2's.
package obfs3

import (
	"bytes"

	pcrypto "github.com/torbridge/ptbridge/crypto"
	"github.com/torbridge/ptbridge/session"
)

const (
	// MaxPadLength is the inclusive upper bound on padding generated by
	// either side of the handshake.
	MaxPadLength = 8194
	markerLen    = pcrypto.HMACLength
)

// Client is the obfs3 initiator-side transport state machine.
type Client struct {
	keypair *pcrypto.UniformDHKeyPair
	shared  *pcrypto.SecureBuffer

	initiatorCipher *pcrypto.CTRCipher
	responderCipher *pcrypto.CTRCipher

	pending    []byte
	haveShared bool
	scanFrom   int

	established bool
}

func New() *Client { return &Client{} }

func (c *Client) Name() string { return "obfs3" }

func (c *Client) Established() bool { return c.established }

// OnOutboundConnected sends X || random(PADLEN_A) per §4.5 step 1.
func (c *Client) OnOutboundConnected(out session.Endpoint) error {
	kp, err := pcrypto.GenerateUniformDH()
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs3: keypair: "+err.Error())
	}
	c.keypair = kp

	padlen, err := pcrypto.UniformUint32(MaxPadLength + 1)
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs3: padlen: "+err.Error())
	}
	var padding []byte
	if padlen > 0 {
		padding, err = pcrypto.RandomBytes(int(padlen))
		if err != nil {
			return session.NewKindedError(session.ErrKindCrypto, "obfs3: padding: "+err.Error())
		}
	}

	if _, err := out.Write(kp.Public()); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs3: write pubkey: "+err.Error())
	}
	if len(padding) > 0 {
		if _, err := out.Write(padding); err != nil {
			return session.NewKindedError(session.ErrKindUnreachable, "obfs3: write padding: "+err.Error())
		}
	}
	return nil
}

// OnOutboundData accumulates the responder's Y || random(PADLEN_B) ||
// HMAC(SHARED, 0x00||PADLEN_B_bytes) and scans for the marker per §4.5
// step 2, deriving session keys once SHARED is known and completing the
// handshake once the marker is found. Once established it decrypts and
// forwards steady-state payload bytes.
func (c *Client) OnOutboundData(data []byte, in session.Endpoint) error {
	if c.established {
		return c.decryptAndForward(data, in)
	}
	c.pending = append(c.pending, data...)

	if !c.haveShared {
		if len(c.pending) < pcrypto.UniformDHPublicLen {
			return nil
		}
		shared, err := c.keypair.SharedSecret(c.pending[:pcrypto.UniformDHPublicLen])
		if err != nil {
			return session.NewKindedError(session.ErrKindProtocol, "obfs3: bad peer pubkey: "+err.Error())
		}
		c.shared = shared

		if err := c.deriveSessionKeys(); err != nil {
			return err
		}
		c.pending = c.pending[pcrypto.UniformDHPublicLen:]
		c.haveShared = true
	}

	found, remainder, err := c.findMarker()
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	c.established = true
	c.pending = nil
	if len(remainder) > 0 {
		return c.decryptAndForward(remainder, in)
	}
	return nil
}

// findMarker scans c.pending for the 32-byte HMAC marker that terminates
// the responder's padding. It resumes from c.scanFrom across calls so
// repeated invocations as bytes trickle in don't redo work.
func (c *Client) findMarker() (found bool, remainder []byte, err error) {
	for candidateLen := c.scanFrom; candidateLen <= MaxPadLength; candidateLen++ {
		need := candidateLen + markerLen
		if len(c.pending) < need {
			c.scanFrom = candidateLen
			return false, nil, nil
		}
		msg := append([]byte{0x00}, c.pending[:candidateLen]...)
		mark := pcrypto.HMAC(c.shared.Bytes(), msg)
		if bytes.Equal(mark, c.pending[candidateLen:need]) {
			return true, c.pending[need:], nil
		}
	}
	return false, nil, session.NewKindedError(session.ErrKindProtocol, "obfs3: padding marker not found")
}

func (c *Client) deriveSessionKeys() error {
	keys, err := pcrypto.HKDFExpand(c.shared.Bytes(), nil, nil, 64)
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs3: hkdf: "+err.Error())
	}
	defer keys.Zero()

	initCipher, err := pcrypto.NewCTRCipher(keys.Slice(0, 16), keys.Slice(16, 32))
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs3: init cipher: "+err.Error())
	}
	respCipher, err := pcrypto.NewCTRCipher(keys.Slice(32, 48), keys.Slice(48, 64))
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs3: resp cipher: "+err.Error())
	}
	c.initiatorCipher = initCipher
	c.responderCipher = respCipher
	return nil
}

func (c *Client) OnInboundData(data []byte, out session.Endpoint) error {
	buf := make([]byte, len(data))
	c.initiatorCipher.Process(buf, data)
	if _, err := out.Write(buf); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs3: relay write: "+err.Error())
	}
	return nil
}

func (c *Client) decryptAndForward(data []byte, in session.Endpoint) error {
	buf := make([]byte, len(data))
	c.responderCipher.Process(buf, data)
	if _, err := in.Write(buf); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs3: relay write: "+err.Error())
	}
	return nil
}

func (c *Client) OnTimeout() error {
	return session.NewKindedError(session.ErrKindTimeout, "obfs3: handshake timed out")
}

func (c *Client) Teardown() {
	c.keypair.Zero()
	c.shared.Zero()
	if c.initiatorCipher != nil {
		c.initiatorCipher.Zero()
	}
	if c.responderCipher != nil {
		c.responderCipher.Zero()
	}
}
