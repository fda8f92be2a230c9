package crypto

import "testing"

func TestHKDFExpandDeterministic(t *testing.T) {
	secret := []byte("shared-secret-material")
	salt := []byte("obfs3 salt")
	info := []byte("obfs3 derived key")

	a, err := HKDFExpand(secret, salt, info, 64)
	if err != nil {
		t.Fatalf("HKDFExpand: %v", err)
	}
	b, err := HKDFExpand(secret, salt, info, 64)
	if err != nil {
		t.Fatalf("HKDFExpand: %v", err)
	}

	if string(a.Bytes()) != string(b.Bytes()) {
		t.Fatal("HKDFExpand not deterministic for identical inputs")
	}
	if a.Len() != 64 {
		t.Fatalf("length = %d, want 64", a.Len())
	}
}

func TestHKDFExpandVariesWithInfo(t *testing.T) {
	secret := []byte("shared-secret-material")
	salt := []byte("salt")

	a, err := HKDFExpand(secret, salt, []byte("context-a"), 32)
	if err != nil {
		t.Fatalf("HKDFExpand: %v", err)
	}
	b, err := HKDFExpand(secret, salt, []byte("context-b"), 32)
	if err != nil {
		t.Fatalf("HKDFExpand: %v", err)
	}

	if string(a.Bytes()) == string(b.Bytes()) {
		t.Fatal("HKDFExpand produced identical output for different info")
	}
}
