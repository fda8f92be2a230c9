package crypto

import (
	"bytes"
	"crypto/sha256"
	"testing"
)

func TestMACMatchesDirectConstruction(t *testing.T) {
	key := []byte("0123456789abcdef")
	msg := []byte("the quick brown fox")

	got := MAC(key, msg)

	h := sha256.New()
	h.Write(key)
	h.Write(msg)
	h.Write(key)
	want := h.Sum(nil)

	if !bytes.Equal(got.Bytes(), want) {
		t.Fatalf("MAC mismatch: got %x, want %x", got.Bytes(), want)
	}
}

func TestMACDiffersOnKeyOrMessageChange(t *testing.T) {
	key := []byte("key-material-16b")
	msg := []byte("message")

	base := MAC(key, msg).Bytes()

	if bytes.Equal(base, MAC([]byte("other-key-16byte"), msg).Bytes()) {
		t.Fatal("MAC did not change with key")
	}
	if bytes.Equal(base, MAC(key, []byte("different")).Bytes()) {
		t.Fatal("MAC did not change with message")
	}
}

func TestMACLength(t *testing.T) {
	if got := MAC([]byte("k"), []byte("m")).Len(); got != DigestLength {
		t.Fatalf("MAC length = %d, want %d", got, DigestLength)
	}
}
