package crypto

import (
	"bytes"
	"testing"
)

func TestCTRCipherRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, AESKeyLength)
	iv := bytes.Repeat([]byte{0x22}, AESBlockLength)

	enc, err := NewCTRCipher(key, iv)
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}
	dec, err := NewCTRCipher(key, iv)
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}

	plaintext := []byte("obfuscated transport payload, arbitrary length and content")
	ciphertext := make([]byte, len(plaintext))
	enc.Process(ciphertext, plaintext)

	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}

	recovered := make([]byte, len(ciphertext))
	dec.Process(recovered, ciphertext)

	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("round trip mismatch: got %q, want %q", recovered, plaintext)
	}
}

func TestCTRCipherStreamsAcrossCalls(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, AESKeyLength)
	iv := bytes.Repeat([]byte{0x44}, AESBlockLength)

	whole, err := NewCTRCipher(key, iv)
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}
	chunked, err := NewCTRCipher(key, iv)
	if err != nil {
		t.Fatalf("NewCTRCipher: %v", err)
	}

	plaintext := bytes.Repeat([]byte("x"), 100)

	wholeOut := make([]byte, len(plaintext))
	whole.Process(wholeOut, plaintext)

	chunkedOut := make([]byte, 0, len(plaintext))
	for _, chunk := range [][]byte{plaintext[:1], plaintext[1:37], plaintext[37:]} {
		out := make([]byte, len(chunk))
		chunked.Process(out, chunk)
		chunkedOut = append(chunkedOut, out...)
	}

	if !bytes.Equal(wholeOut, chunkedOut) {
		t.Fatal("chunked processing diverged from single-call processing")
	}
}

func TestCTRCipherRejectsBadLengths(t *testing.T) {
	if _, err := NewCTRCipher(make([]byte, 15), make([]byte, AESBlockLength)); err != ErrKeyLength {
		t.Fatalf("expected ErrKeyLength, got %v", err)
	}
	if _, err := NewCTRCipher(make([]byte, AESKeyLength), make([]byte, 15)); err != ErrIVLength {
		t.Fatalf("expected ErrIVLength, got %v", err)
	}
}
