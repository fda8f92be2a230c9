package obfs2

import (
	"bytes"
	"encoding/binary"
	"testing"

	pcrypto "github.com/torbridge/ptbridge/crypto"
	"github.com/torbridge/ptbridge/session"
)

type bufEndpoint struct {
	bytes.Buffer
}

func (b *bufEndpoint) Write(p []byte) (int, error) { return b.Buffer.Write(p) }

func TestClientHandshakeWireFormat(t *testing.T) {
	c := New()
	out := &bufEndpoint{}

	if err := c.OnOutboundConnected(out); err != nil {
		t.Fatalf("OnOutboundConnected: %v", err)
	}

	wire := out.Bytes()
	if len(wire) < SeedLength+padHeaderLen {
		t.Fatalf("wire too short: %d bytes", len(wire))
	}

	seed := wire[:SeedLength]
	padKey := pcrypto.MAC([]byte(initPadLabel), seed)
	cipher, err := pcrypto.NewCTRCipher(padKey.Slice(0, 16), padKey.Slice(16, 32))
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}

	header := make([]byte, padHeaderLen)
	cipher.Process(header, wire[SeedLength:SeedLength+padHeaderLen])

	magic := binary.BigEndian.Uint32(header[0:4])
	padlen := binary.BigEndian.Uint32(header[4:8])
	if magic != MagicValue {
		t.Fatalf("magic = %#x, want %#x", magic, MagicValue)
	}
	if padlen >= MaxPadding {
		t.Fatalf("padlen = %d, want < %d", padlen, MaxPadding)
	}

	wantLen := SeedLength + padHeaderLen + int(padlen)
	if len(wire) != wantLen {
		t.Fatalf("wire length = %d, want %d", len(wire), wantLen)
	}
}

// fakeBridge drives a Client through a scripted responder handshake and
// captures whatever the client forwards toward Tor.
type fakeBridge struct {
	respSeed []byte
	cipher   *pcrypto.CTRCipher
}

func newFakeBridge(t *testing.T) *fakeBridge {
	t.Helper()
	seed := bytes.Repeat([]byte{0x00}, SeedLength)
	for i := range seed {
		seed[i] = byte(i)
	}
	padKey := pcrypto.MAC([]byte(respPadLabel), seed)
	cipher, err := pcrypto.NewCTRCipher(padKey.Slice(0, 16), padKey.Slice(16, 32))
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}
	return &fakeBridge{respSeed: seed, cipher: cipher}
}

func (fb *fakeBridge) handshakeBytes(padlen uint32) []byte {
	header := make([]byte, padHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], MagicValue)
	binary.BigEndian.PutUint32(header[4:8], padlen)
	fb.cipher.Process(header, header)

	out := append([]byte{}, fb.respSeed...)
	out = append(out, header...)
	if padlen > 0 {
		out = append(out, make([]byte, padlen)...)
	}
	return out
}

func TestClientEstablishesOnValidHandshake(t *testing.T) {
	c := New()
	out := &bufEndpoint{}
	if err := c.OnOutboundConnected(out); err != nil {
		t.Fatalf("OnOutboundConnected: %v", err)
	}

	fb := newFakeBridge(t)
	in := &bufEndpoint{}
	if err := c.OnOutboundData(fb.handshakeBytes(0), in); err != nil {
		t.Fatalf("OnOutboundData: %v", err)
	}
	if !c.Established() {
		t.Fatal("client not established after valid handshake")
	}
}

func TestClientRejectsBadMagic(t *testing.T) {
	c := New()
	out := &bufEndpoint{}
	c.OnOutboundConnected(out)

	fb := newFakeBridge(t)
	header := make([]byte, padHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], 0x01020304)
	binary.BigEndian.PutUint32(header[4:8], 0)
	fb.cipher.Process(header, header)
	msg := append(append([]byte{}, fb.respSeed...), header...)

	in := &bufEndpoint{}
	err := c.OnOutboundData(msg, in)
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
	kinded, ok := err.(session.Kinded)
	if !ok || kinded.Kind() != session.ErrKindProtocol {
		t.Fatalf("expected ErrKindProtocol, got %v", err)
	}
	if c.Established() {
		t.Fatal("client established despite bad magic")
	}
}

func TestClientRejectsOversizedPadding(t *testing.T) {
	c := New()
	out := &bufEndpoint{}
	c.OnOutboundConnected(out)

	fb := newFakeBridge(t)
	header := make([]byte, padHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], MagicValue)
	binary.BigEndian.PutUint32(header[4:8], MaxPadding+1)
	fb.cipher.Process(header, header)
	msg := append(append([]byte{}, fb.respSeed...), header...)

	in := &bufEndpoint{}
	err := c.OnOutboundData(msg, in)
	if err == nil {
		t.Fatal("expected error for oversized padlen")
	}
	if c.Established() {
		t.Fatal("client established despite oversized padlen")
	}
}

func TestClientAcceptsMaximumPadding(t *testing.T) {
	c := New()
	out := &bufEndpoint{}
	c.OnOutboundConnected(out)

	fb := newFakeBridge(t)
	in := &bufEndpoint{}
	if err := c.OnOutboundData(fb.handshakeBytes(MaxPadding), in); err != nil {
		t.Fatalf("OnOutboundData: %v", err)
	}
	if !c.Established() {
		t.Fatal("client not established with PADLEN == MaxPadding (inclusive accept bound)")
	}
}

func TestSteadyStateRoundTrip(t *testing.T) {
	c := New()
	out := &bufEndpoint{}
	c.OnOutboundConnected(out)

	fb := newFakeBridge(t)
	in := &bufEndpoint{}
	if err := c.OnOutboundData(fb.handshakeBytes(0), in); err != nil {
		t.Fatalf("handshake: %v", err)
	}

	plaintext := []byte("hello, bridge")
	relayed := &bufEndpoint{}
	if err := c.OnInboundData(plaintext, relayed); err != nil {
		t.Fatalf("OnInboundData: %v", err)
	}
	if bytes.Equal(relayed.Bytes(), plaintext) {
		t.Fatal("relayed bytes equal plaintext; not encrypted")
	}

	// The bridge derives the same session keys from INIT_SEED || RESP_SEED.
	m := append(append([]byte{}, out.Bytes()[:SeedLength]...), fb.respSeed...)
	initSecret := pcrypto.MAC([]byte(initDataLabel), m)
	bridgeInit, err := pcrypto.NewCTRCipher(initSecret.Slice(0, 16), initSecret.Slice(16, 32))
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}
	decrypted := make([]byte, relayed.Len())
	bridgeInit.Process(decrypted, relayed.Bytes())
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("bridge decrypted %q, want %q", decrypted, plaintext)
	}

	respSecret := pcrypto.MAC([]byte(respDataLabel), m)
	bridgeResp, err := pcrypto.NewCTRCipher(respSecret.Slice(0, 16), respSecret.Slice(16, 32))
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}
	reply := []byte("hello, client")
	wire := make([]byte, len(reply))
	bridgeResp.Process(wire, reply)
	delivered := &bufEndpoint{}
	if err := c.OnOutboundData(wire, delivered); err != nil {
		t.Fatalf("OnOutboundData: %v", err)
	}
	if !bytes.Equal(delivered.Bytes(), reply) {
		t.Fatalf("client delivered %q, want %q", delivered.Bytes(), reply)
	}
}
