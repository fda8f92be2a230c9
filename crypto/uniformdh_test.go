package crypto

import (
	"bytes"
	"testing"
)

func TestUniformDHSharedSecretAgrees(t *testing.T) {
	client, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}
	server, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}

	clientSecret, err := client.SharedSecret(server.Public())
	if err != nil {
		t.Fatalf("client SharedSecret: %v", err)
	}
	serverSecret, err := server.SharedSecret(client.Public())
	if err != nil {
		t.Fatalf("server SharedSecret: %v", err)
	}

	if !bytes.Equal(clientSecret.Bytes(), serverSecret.Bytes()) {
		t.Fatalf("shared secrets disagree: %x != %x", clientSecret.Bytes(), serverSecret.Bytes())
	}
}

func TestUniformDHPublicLength(t *testing.T) {
	kp, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}
	if got := len(kp.Public()); got != UniformDHPublicLen {
		t.Fatalf("Public() length = %d, want %d", got, UniformDHPublicLen)
	}
}

func TestUniformDHRejectsShortOrLongPublic(t *testing.T) {
	kp, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}
	if _, err := kp.SharedSecret(make([]byte, UniformDHPublicLen-1)); err != ErrUniformDHPublicLen {
		t.Fatalf("expected ErrUniformDHPublicLen, got %v", err)
	}
	if _, err := kp.SharedSecret(make([]byte, UniformDHPublicLen+1)); err != ErrUniformDHPublicLen {
		t.Fatalf("expected ErrUniformDHPublicLen, got %v", err)
	}
}

func TestUniformDHRejectsDegenerateValues(t *testing.T) {
	kp, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}

	zero := make([]byte, UniformDHPublicLen)
	if _, err := kp.SharedSecret(zero); err != ErrUniformDHPublicRange {
		t.Fatalf("expected ErrUniformDHPublicRange for zero, got %v", err)
	}

	one := make([]byte, UniformDHPublicLen)
	one[UniformDHPublicLen-1] = 1
	if _, err := kp.SharedSecret(one); err != ErrUniformDHPublicRange {
		t.Fatalf("expected ErrUniformDHPublicRange for one, got %v", err)
	}

	pMinusOne := uniformDHPrimeM1.Bytes()
	padded := make([]byte, UniformDHPublicLen)
	copy(padded[UniformDHPublicLen-len(pMinusOne):], pMinusOne)
	if _, err := kp.SharedSecret(padded); err != ErrUniformDHPublicRange {
		t.Fatalf("expected ErrUniformDHPublicRange for p-1, got %v", err)
	}
}

func TestUniformDHDistinctKeypairsDiffer(t *testing.T) {
	a, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}
	b, err := GenerateUniformDH()
	if err != nil {
		t.Fatalf("GenerateUniformDH: %v", err)
	}
	if bytes.Equal(a.Public(), b.Public()) {
		t.Fatal("two independently generated keypairs produced identical public values")
	}
}
