package x3dh_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
	"ciphera/internal/protocol/x3dh"
)

// makeIdentity creates a domain.Identity with fresh X25519 and Ed25519 pairs.
func makeIdentity(t *testing.T) domain.Identity {
	t.Helper()
	id, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	return id
}

func TestInitiatorAndResponderRoot_NoOPK(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)

	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 (eph): %v", err)
	}

	res, err := x3dh.InitiatorRootKey(domain.AlgCurve25519, alice.XPriv, ephPriv, bob.XPub, spkPub, nil, nil)
	if err != nil {
		t.Fatalf("InitiatorRootKey: %v", err)
	}

	rkB, err := x3dh.ResponderRootKey(domain.AlgCurve25519, bob.XPriv, spkPriv, nil, alice.XPub, ephPub, nil)
	if err != nil {
		t.Fatalf("ResponderRootKey: %v", err)
	}
	if !bytes.Equal(res.RootKey, rkB.RootKey) {
		t.Fatal("root keys differ (no OPK)")
	}
}

func TestInitiatorAndResponderRoot_WithOPK(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)

	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 (eph): %v", err)
	}
	opkPriv, opkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 (opk): %v", err)
	}

	res, err := x3dh.InitiatorRootKey(domain.AlgCurve25519, alice.XPriv, ephPriv, bob.XPub, spkPub, &opkPub, nil)
	if err != nil {
		t.Fatalf("InitiatorRootKey: %v", err)
	}

	rkB, err := x3dh.ResponderRootKey(domain.AlgCurve25519, bob.XPriv, spkPriv, &opkPriv, alice.XPub, ephPub, nil)
	if err != nil {
		t.Fatalf("ResponderRootKey: %v", err)
	}
	if !bytes.Equal(res.RootKey, rkB.RootKey) {
		t.Fatal("root keys differ (with OPK)")
	}
}

func TestInitiatorRootKey_AlgorithmTagsRootDifferently(t *testing.T) {
	alice := makeIdentity(t)
	bob := makeIdentity(t)
	spkPriv, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	_ = spkPriv
	ephPriv, ephPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519 (eph): %v", err)
	}
	_ = ephPub

	resClassical, err := x3dh.InitiatorRootKey(domain.AlgCurve25519, alice.XPriv, ephPriv, bob.XPub, spkPub, nil, nil)
	if err != nil {
		t.Fatalf("InitiatorRootKey classical: %v", err)
	}

	quantumSecret := make([]byte, 32)
	_, _ = rand.Read(quantumSecret)
	resQuantum, err := x3dh.InitiatorRootKey(domain.AlgHybridRSAMLKEM, alice.XPriv, ephPriv, bob.XPub, spkPub, nil, quantumSecret)
	if err != nil {
		t.Fatalf("InitiatorRootKey hybrid: %v", err)
	}
	if bytes.Equal(resClassical.RootKey, resQuantum.RootKey) {
		t.Fatal("classical and hybrid root keys must differ")
	}
}
