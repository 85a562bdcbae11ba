package session_test

import (
	"context"
	"errors"
	"testing"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
	"ciphera/internal/services/session"
	"ciphera/internal/store"
)

// fakeRelay is a minimal domain.RelayClient stand-in that serves a single
// pre-configured pre-key bundle so session.Service can be exercised
// without a network round-trip.
type fakeRelay struct {
	bundle domain.PreKeyBundle
}

func (f *fakeRelay) RegisterPreKeyBundle(context.Context, domain.PreKeyBundle) error { return nil }
func (f *fakeRelay) FetchPreKeyBundle(context.Context, domain.Username) (domain.PreKeyBundle, error) {
	return f.bundle, nil
}
func (f *fakeRelay) SendMessage(context.Context, domain.Envelope) error { return nil }
func (f *fakeRelay) FetchMessages(context.Context, domain.Username, int) ([]domain.Envelope, error) {
	return nil, nil
}
func (f *fakeRelay) AckMessages(context.Context, domain.Username, int) error { return nil }
func (f *fakeRelay) FetchAccountCanary(context.Context, domain.Username) (string, error) {
	return "", nil
}
func (f *fakeRelay) RegisterDevice(context.Context, domain.Username, domain.DeviceRecord) error {
	return nil
}
func (f *fakeRelay) ListDevices(context.Context, domain.Username) ([]domain.DeviceRecord, error) {
	return nil, nil
}
func (f *fakeRelay) BindConversation(
	context.Context, domain.ConversationID, domain.Username,
) ([]domain.ConversationBinding, error) {
	return nil, nil
}

const testPassphrase = "correct horse battery staple"

// newBundle builds a bundle signed by a fresh identity, optionally carrying
// a quantum KEM key, and returns the bundle.
func newBundle(t *testing.T, quantum bool) domain.PreKeyBundle {
	t.Helper()
	peer, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	_, spkPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}
	sig := crypto.SignEd25519(peer.EdPriv, spkPub.Slice())

	bundle := domain.PreKeyBundle{
		Username:              "bob",
		IdentityKey:           peer.XPub,
		SigningKey:            peer.EdPub,
		SignedPreKeyID:        "spk-1",
		SignedPreKey:          spkPub,
		SignedPreKeySignature: sig,
		Capabilities:          domain.Capabilities{Algorithms: []domain.Algorithm{domain.AlgCurve25519}},
	}
	if quantum {
		_, kemPub, err := crypto.GenerateMLKEM768()
		if err != nil {
			t.Fatalf("GenerateMLKEM768: %v", err)
		}
		bundle.QuantumKey = kemPub
		bundle.QuantumAlgorithm = domain.AlgMLKEM768
		bundle.Capabilities.Algorithms = append([]domain.Algorithm{domain.AlgMLKEM768}, bundle.Capabilities.Algorithms...)
	}
	return bundle
}

func newTestService(t *testing.T, relay domain.RelayClient, mode domain.NegotiationMode) *session.Service {
	t.Helper()
	dir := t.TempDir()
	idStore := store.NewIdentityFileStore(dir)
	bundleStore := store.NewBundleFileStore(dir)
	sessionStore := store.NewSessionFileStore(dir)

	id, err := crypto.NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	id.KEMPriv, id.KEMPub, err = crypto.GenerateMLKEM768()
	if err != nil {
		t.Fatalf("GenerateMLKEM768: %v", err)
	}
	if err := idStore.SaveIdentity(testPassphrase, id); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}

	return session.New(idStore, bundleStore, sessionStore, relay, mode, nil)
}

func TestInitiateSession_StandardModeNegotiatesClassical(t *testing.T) {
	bundle := newBundle(t, false)
	svc := newTestService(t, &fakeRelay{bundle: bundle}, domain.ModeStandard)

	sess, err := svc.InitiateSession(context.Background(), testPassphrase, bundle.Username)
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	if sess.Algorithm != domain.AlgCurve25519 {
		t.Fatalf("Algorithm = %s, want %s", sess.Algorithm, domain.AlgCurve25519)
	}
	if sess.FallbackUsed {
		t.Fatal("did not expect fallback")
	}
	if len(sess.QuantumCiphertext) != 0 {
		t.Fatal("classical session should carry no quantum ciphertext")
	}

	stored, found, err := svc.GetSession(bundle.Username)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !found || stored.Algorithm != domain.AlgCurve25519 {
		t.Fatalf("stored session mismatch: %+v", stored)
	}
}

func TestInitiateSession_QuantumOnlyRejectsClassicalPeer(t *testing.T) {
	bundle := newBundle(t, false)
	svc := newTestService(t, &fakeRelay{bundle: bundle}, domain.ModeQuantumOnly)

	_, err := svc.InitiateSession(context.Background(), testPassphrase, bundle.Username)
	if !errors.Is(err, domain.ErrPQUnavailable) {
		t.Fatalf("want ErrPQUnavailable, got %v", err)
	}
}

func TestInitiateSession_QuantumOnlyAcceptsQuantumPeer(t *testing.T) {
	bundle := newBundle(t, true)
	svc := newTestService(t, &fakeRelay{bundle: bundle}, domain.ModeQuantumOnly)

	sess, err := svc.InitiateSession(context.Background(), testPassphrase, bundle.Username)
	if err != nil {
		t.Fatalf("InitiateSession: %v", err)
	}
	if !sess.Algorithm.IsQuantum() {
		t.Fatalf("Algorithm = %s, want a quantum algorithm", sess.Algorithm)
	}
	if len(sess.QuantumCiphertext) == 0 {
		t.Fatal("quantum session should carry an encapsulated ciphertext")
	}
}
