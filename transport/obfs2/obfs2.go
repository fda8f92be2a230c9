// Package obfs2 implements the client (initiator) side of the obfs2
// ("Twobfuscator") pluggable transport: a seed/MAC/padding handshake
// followed by a length-preserving AES-CTR relay (spec §4.4), grounded on
// schwanenlied/pt/obfs2/client.cc.
package obfs2

import (
	"encoding/binary"

	pcrypto "github.com/torbridge/ptbridge/crypto"
	"github.com/torbridge/ptbridge/session"
)

const (
	// MagicValue identifies a well-formed obfs2 padding header.
	MagicValue uint32 = 0x2BF5CA7E
	// SeedLength is the length in bytes of each side's handshake seed.
	SeedLength = 16
	// MaxPadding is the exclusive upper bound on generated padding length
	// and the inclusive upper bound on accepted peer padding length (§9
	// open question: generate in [0, 8192), accept up to and including
	// 8192).
	MaxPadding = 8192

	initPadLabel  = "Initiator obfuscation padding"
	respPadLabel  = "Responder obfuscation padding"
	initDataLabel = "Initiator obfuscated data"
	respDataLabel = "Responder obfuscated data"

	padHeaderLen = 8 // MAGIC(4) || PADLEN(4), big-endian
)

// Client is the obfs2 initiator-side transport state machine.
type Client struct {
	initSeed *pcrypto.SecureBuffer
	respSeed *pcrypto.SecureBuffer

	initiatorCipher *pcrypto.CTRCipher
	responderCipher *pcrypto.CTRCipher

	pending          []byte
	receivedSeedHdr  bool
	respPadRemaining uint32
	established      bool
}

// New constructs an unstarted obfs2 Client.
func New() *Client {
	return &Client{}
}

func (c *Client) Name() string { return "obfs2" }

func (c *Client) Established() bool { return c.established }

// OnOutboundConnected sends INIT_SEED || E(MAGIC||PADLEN) || E(random(PADLEN))
// per §4.4 steps 1-4.
func (c *Client) OnOutboundConnected(out session.Endpoint) error {
	seed, err := pcrypto.RandomBytes(SeedLength)
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs2: seed: "+err.Error())
	}
	c.initSeed = pcrypto.SecureBufferFrom(seed)

	padKey := pcrypto.MAC([]byte(initPadLabel), c.initSeed.Bytes())
	defer padKey.Zero()
	cipher, err := pcrypto.NewCTRCipher(padKey.Slice(0, 16), padKey.Slice(16, 32))
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs2: pad key: "+err.Error())
	}
	c.initiatorCipher = cipher

	padlen, err := pcrypto.UniformUint32(MaxPadding)
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs2: padlen: "+err.Error())
	}

	header := make([]byte, padHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], MagicValue)
	binary.BigEndian.PutUint32(header[4:8], padlen)
	c.initiatorCipher.Process(header, header)

	var padding []byte
	if padlen > 0 {
		padding, err = pcrypto.RandomBytes(int(padlen))
		if err != nil {
			return session.NewKindedError(session.ErrKindCrypto, "obfs2: padding: "+err.Error())
		}
		c.initiatorCipher.Process(padding, padding)
	}

	if _, err := out.Write(c.initSeed.Bytes()); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs2: write seed: "+err.Error())
	}
	if _, err := out.Write(header); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs2: write header: "+err.Error())
	}
	if len(padding) > 0 {
		if _, err := out.Write(padding); err != nil {
			return session.NewKindedError(session.ErrKindUnreachable, "obfs2: write padding: "+err.Error())
		}
	}
	return nil
}

// OnOutboundData drives the responder-side handshake (§4.4's
// "Responder-data handler") and, once established, decrypts and forwards
// steady-state payload bytes.
func (c *Client) OnOutboundData(data []byte, in session.Endpoint) error {
	c.pending = append(c.pending, data...)

	if !c.receivedSeedHdr {
		if len(c.pending) < SeedLength+padHeaderLen {
			return nil
		}
		respSeed := c.pending[:SeedLength]
		c.respSeed = pcrypto.SecureBufferFrom(respSeed)

		padKey := pcrypto.MAC([]byte(respPadLabel), c.respSeed.Bytes())
		defer padKey.Zero()
		cipher, err := pcrypto.NewCTRCipher(padKey.Slice(0, 16), padKey.Slice(16, 32))
		if err != nil {
			return session.NewKindedError(session.ErrKindCrypto, "obfs2: resp pad key: "+err.Error())
		}
		c.responderCipher = cipher

		header := make([]byte, padHeaderLen)
		copy(header, c.pending[SeedLength:SeedLength+padHeaderLen])
		c.responderCipher.Process(header, header)

		magic := binary.BigEndian.Uint32(header[0:4])
		padlen := binary.BigEndian.Uint32(header[4:8])
		if magic != MagicValue {
			return session.NewKindedError(session.ErrKindProtocol, "obfs2: bad magic")
		}
		if padlen > MaxPadding {
			return session.NewKindedError(session.ErrKindProtocol, "obfs2: padlen overflow")
		}
		c.respPadRemaining = padlen

		if err := c.deriveSessionKeys(); err != nil {
			return err
		}

		c.pending = c.pending[SeedLength+padHeaderLen:]
		c.receivedSeedHdr = true
	}

	if c.respPadRemaining > 0 {
		drain := uint32(len(c.pending))
		if drain > c.respPadRemaining {
			drain = c.respPadRemaining
		}
		c.pending = c.pending[drain:]
		c.respPadRemaining -= drain
		if c.respPadRemaining > 0 {
			return nil
		}
	}

	c.established = true
	if len(c.pending) > 0 {
		leftover := c.pending
		c.pending = nil
		return c.decryptAndForward(leftover, in)
	}
	return nil
}

// OnInboundData encrypts plaintext from Tor under the initiator cipher
// and forwards it to the bridge. Only called once ESTABLISHED (the
// session never relays inbound bytes during handshake).
func (c *Client) OnInboundData(data []byte, out session.Endpoint) error {
	buf := make([]byte, len(data))
	c.initiatorCipher.Process(buf, data)
	if _, err := out.Write(buf); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs2: relay write: "+err.Error())
	}
	return nil
}

func (c *Client) decryptAndForward(data []byte, in session.Endpoint) error {
	buf := make([]byte, len(data))
	c.responderCipher.Process(buf, data)
	if _, err := in.Write(buf); err != nil {
		return session.NewKindedError(session.ErrKindUnreachable, "obfs2: relay write: "+err.Error())
	}
	return nil
}

func (c *Client) OnTimeout() error {
	return session.NewKindedError(session.ErrKindTimeout, "obfs2: handshake timed out")
}

// deriveSessionKeys computes the KDF from §4.4 step 3 and rekeys both
// ciphers, discarding their padding-phase state.
func (c *Client) deriveSessionKeys() error {
	m := append(append([]byte{}, c.initSeed.Bytes()...), c.respSeed.Bytes()...)

	initSecret := pcrypto.MAC([]byte(initDataLabel), m)
	defer initSecret.Zero()
	initCipher, err := pcrypto.NewCTRCipher(initSecret.Slice(0, 16), initSecret.Slice(16, 32))
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs2: init rekey: "+err.Error())
	}
	c.initiatorCipher.Zero()
	c.initiatorCipher = initCipher

	respSecret := pcrypto.MAC([]byte(respDataLabel), m)
	defer respSecret.Zero()
	respCipher, err := pcrypto.NewCTRCipher(respSecret.Slice(0, 16), respSecret.Slice(16, 32))
	if err != nil {
		return session.NewKindedError(session.ErrKindCrypto, "obfs2: resp rekey: "+err.Error())
	}
	c.responderCipher.Zero()
	c.responderCipher = respCipher

	return nil
}

// Teardown scrubs both cipher states and both seeds.
func (c *Client) Teardown() {
	if c.initiatorCipher != nil {
		c.initiatorCipher.Zero()
	}
	if c.responderCipher != nil {
		c.responderCipher.Zero()
	}
	c.initSeed.Zero()
	c.respSeed.Zero()
}
