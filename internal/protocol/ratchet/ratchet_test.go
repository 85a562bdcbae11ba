package ratchet_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
	"ciphera/internal/protocol/ratchet"
)

// makeIdentity returns a fresh X25519 identity pair.
func makeIdentity(t *testing.T) (priv domain.X25519Private, pub domain.X25519Public) {
	t.Helper()
	p, P, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	return p, P
}

func pair(t *testing.T) (a, b domain.RatchetState) {
	t.Helper()
	rk := bytes.Repeat([]byte{0x42}, 32)
	aPriv, aPub := makeIdentity(t)
	bPriv, bPub := makeIdentity(t)

	aState, err := ratchet.InitAsInitiator(rk, aPriv, aPub, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	bState, err := ratchet.InitAsResponder(rk, bPriv, bPub, aPub, aState.DiffieHellmanPublic)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return aState, bState
}

func TestDoubleRatchet_OneRoundTrip(t *testing.T) {
	aState, bState := pair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := ratchet.Decrypt(&bState, nil, header, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hi" {
		t.Fatalf("got %q, want %q", pt, "hi")
	}
}

func TestDoubleRatchet_OutOfOrderDelivery(t *testing.T) {
	aState, bState := pair(t)

	var headers []domain.RatchetHeader
	var cts [][]byte
	for i, msg := range []string{"one", "two", "three"} {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte(msg))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		headers = append(headers, h)
		cts = append(cts, ct)
	}

	// Deliver message 2 before message 0 and 1: this forces the skipped-key path.
	pt, err := ratchet.Decrypt(&bState, nil, headers[2], cts[2])
	if err != nil {
		t.Fatalf("Decrypt out-of-order: %v", err)
	}
	if string(pt) != "three" {
		t.Fatalf("got %q, want %q", pt, "three")
	}

	pt0, err := ratchet.Decrypt(&bState, nil, headers[0], cts[0])
	if err != nil {
		t.Fatalf("Decrypt skipped 0: %v", err)
	}
	if string(pt0) != "one" {
		t.Fatalf("got %q, want %q", pt0, "one")
	}

	pt1, err := ratchet.Decrypt(&bState, nil, headers[1], cts[1])
	if err != nil {
		t.Fatalf("Decrypt skipped 1: %v", err)
	}
	if string(pt1) != "two" {
		t.Fatalf("got %q, want %q", pt1, "two")
	}
}

func TestDoubleRatchet_RejectsReplay(t *testing.T) {
	aState, bState := pair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, header, ct); err != nil {
		t.Fatalf("first Decrypt: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, header, ct); !errors.Is(err, domain.ErrReplay) {
		t.Fatalf("want ErrReplay, got %v", err)
	}
}

func TestDoubleRatchet_TooManySkippedRejected(t *testing.T) {
	aState, bState := pair(t)
	bState.MaxSkip = 2

	var last domain.RatchetHeader
	var lastCT []byte
	for i := 0; i < 5; i++ {
		h, ct, err := ratchet.Encrypt(&aState, nil, []byte("x"))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		last, lastCT = h, ct
	}

	if _, err := ratchet.Decrypt(&bState, nil, last, lastCT); !errors.Is(err, domain.ErrTooManySkipped) {
		t.Fatalf("want ErrTooManySkipped, got %v", err)
	}
}

func TestRotateQuantumEpoch_AdvancesOnceThenHoldsUntilDue(t *testing.T) {
	aState, _ := pair(t)
	rootBefore := append([]byte{}, aState.RootKey...)

	if !ratchet.RotateQuantumEpoch(&aState, 1000, time.Hour) {
		t.Fatal("expected first rotation to fire")
	}
	if aState.QuantumEpoch != 1 {
		t.Fatalf("QuantumEpoch = %d, want 1", aState.QuantumEpoch)
	}
	if bytes.Equal(aState.RootKey, rootBefore) {
		t.Fatal("root key unchanged after rotation")
	}

	// Too soon: same wall-clock window, no rotation.
	if ratchet.RotateQuantumEpoch(&aState, 1000+10, time.Hour) {
		t.Fatal("rotation fired before epochDuration elapsed")
	}
	if aState.QuantumEpoch != 1 {
		t.Fatalf("QuantumEpoch advanced unexpectedly: %d", aState.QuantumEpoch)
	}

	// Past the interval: rotates again.
	if !ratchet.RotateQuantumEpoch(&aState, 1000+int64(time.Hour/time.Second)+1, time.Hour) {
		t.Fatal("expected second rotation to fire once due")
	}
	if aState.QuantumEpoch != 2 {
		t.Fatalf("QuantumEpoch = %d, want 2", aState.QuantumEpoch)
	}
}

func TestDecrypt_RejectsFutureEpoch(t *testing.T) {
	aState, bState := pair(t)

	header, ct, err := ratchet.Encrypt(&aState, nil, []byte("hi"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	header.Epoch += 5 // claim an epoch far beyond anything bState has stepped to

	if _, err := ratchet.Decrypt(&bState, nil, header, ct); !errors.Is(err, domain.ErrInvalidHeader) {
		t.Fatalf("want ErrInvalidHeader, got %v", err)
	}
}

func TestDoubleRatchet_OutOfOrderAfterRatchetStep(t *testing.T) {
	aState, bState := pair(t)

	h0, ct0, err := ratchet.Encrypt(&aState, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt hello: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, h0, ct0); err != nil {
		t.Fatalf("Decrypt hello: %v", err)
	}

	// bState's first send triggers its lazy DH-ratchet step, starting a
	// fresh chain; deliver its second message before its first to exercise
	// the post-step skip into that new chain.
	hB0, ctB0, err := ratchet.Encrypt(&bState, nil, []byte("first"))
	if err != nil {
		t.Fatalf("Encrypt first: %v", err)
	}
	hB1, ctB1, err := ratchet.Encrypt(&bState, nil, []byte("second"))
	if err != nil {
		t.Fatalf("Encrypt second: %v", err)
	}

	pt1, err := ratchet.Decrypt(&aState, nil, hB1, ctB1)
	if err != nil {
		t.Fatalf("Decrypt second (out of order, new chain): %v", err)
	}
	if string(pt1) != "second" {
		t.Fatalf("got %q, want %q", pt1, "second")
	}

	pt0, err := ratchet.Decrypt(&aState, nil, hB0, ctB0)
	if err != nil {
		t.Fatalf("Decrypt first (skipped key, new chain): %v", err)
	}
	if string(pt0) != "first" {
		t.Fatalf("got %q, want %q", pt0, "first")
	}
}

func TestDoubleRatchet_MultiStepRatchetRoundTrip(t *testing.T) {
	aState, bState := pair(t)

	h1, ct1, err := ratchet.Encrypt(&aState, nil, []byte("a->b"))
	if err != nil {
		t.Fatalf("Encrypt a->b: %v", err)
	}
	if _, err := ratchet.Decrypt(&bState, nil, h1, ct1); err != nil {
		t.Fatalf("Decrypt a->b: %v", err)
	}

	h2, ct2, err := ratchet.Encrypt(&bState, nil, []byte("b->a"))
	if err != nil {
		t.Fatalf("Encrypt b->a: %v", err)
	}
	pt2, err := ratchet.Decrypt(&aState, nil, h2, ct2)
	if err != nil {
		t.Fatalf("Decrypt b->a: %v", err)
	}
	if string(pt2) != "b->a" {
		t.Fatalf("got %q, want %q", pt2, "b->a")
	}
}
