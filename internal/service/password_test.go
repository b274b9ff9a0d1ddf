package service

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundtrip(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "secret" || hash == "" {
		t.Fatalf("expected a bcrypt hash")
	}

	if !h.Verify("secret", hash) {
		t.Fatalf("expected password to verify")
	}
	if h.Verify("wrong", hash) {
		t.Fatalf("expected wrong password rejected")
	}
	if h.Verify("secret", "not-a-hash") {
		t.Fatalf("expected malformed hash rejected")
	}
}

func TestBcryptHasherCostClamped(t *testing.T) {
	// un costo inválido cae al default en lugar de fallar en cada hash
	h := NewBcryptHasher(99)
	hash, err := h.Hash("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("cost: %v", err)
	}
	if cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost, got %d", cost)
	}
}
