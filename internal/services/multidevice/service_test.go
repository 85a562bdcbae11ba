package multidevice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ciphera/internal/domain"
	"ciphera/internal/services/multidevice"
	"ciphera/internal/store"
)

// fakeRelay is a minimal in-memory domain.RelayClient stand-in so the
// multidevice.Service can be exercised without a network round-trip.
type fakeRelay struct {
	registered []domain.DeviceRecord
	bindings   []domain.ConversationBinding
	bindErr    error
}

func (f *fakeRelay) RegisterPreKeyBundle(context.Context, domain.PreKeyBundle) error { return nil }
func (f *fakeRelay) FetchPreKeyBundle(context.Context, domain.Username) (domain.PreKeyBundle, error) {
	return domain.PreKeyBundle{}, nil
}
func (f *fakeRelay) SendMessage(context.Context, domain.Envelope) error { return nil }
func (f *fakeRelay) FetchMessages(context.Context, domain.Username, int) ([]domain.Envelope, error) {
	return nil, nil
}
func (f *fakeRelay) AckMessages(context.Context, domain.Username, int) error { return nil }
func (f *fakeRelay) FetchAccountCanary(context.Context, domain.Username) (string, error) {
	return "", nil
}
func (f *fakeRelay) RegisterDevice(_ context.Context, _ domain.Username, rec domain.DeviceRecord) error {
	f.registered = append(f.registered, rec)
	return nil
}
func (f *fakeRelay) ListDevices(context.Context, domain.Username) ([]domain.DeviceRecord, error) {
	return f.registered, nil
}
func (f *fakeRelay) BindConversation(
	context.Context, domain.ConversationID, domain.Username,
) ([]domain.ConversationBinding, error) {
	if f.bindErr != nil {
		return nil, f.bindErr
	}
	return f.bindings, nil
}

// fakeIdentityService and fakePreKeyService back ForceReregistration/
// RecoverAndRetry without touching real Argon2-backed file stores.
type fakeIdentityService struct {
	gen func(passphrase string) (domain.Identity, domain.Fingerprint, error)
}

func (f *fakeIdentityService) GenerateIdentity(passphrase string) (domain.Identity, domain.Fingerprint, error) {
	return f.gen(passphrase)
}
func (f *fakeIdentityService) LoadIdentity(string) (domain.Identity, error) {
	return domain.Identity{}, nil
}
func (f *fakeIdentityService) FingerprintIdentity(string) (domain.Fingerprint, error) {
	return "", nil
}

type fakePreKeyService struct{}

func (fakePreKeyService) GenerateAndStorePreKeys(string, int) (domain.X25519Public, []domain.X25519Public, error) {
	return domain.X25519Public{}, nil, nil
}
func (fakePreKeyService) LoadPreKeyBundle(string, domain.Username, string) (domain.PreKeyBundle, error) {
	return domain.PreKeyBundle{}, nil
}

func newTestService(t *testing.T, relay domain.RelayClient) (*multidevice.Service, string) {
	t.Helper()
	dir := t.TempDir()
	devices := store.NewDeviceFileStore(dir)
	bindings := store.NewConversationBindingFileStore(dir)
	queue := store.NewSyncQueueFileStore(dir)

	idSvc := &fakeIdentityService{gen: func(string) (domain.Identity, domain.Fingerprint, error) {
		return domain.Identity{}, "fp-new", nil
	}}
	svc := multidevice.New(devices, bindings, queue, relay, idSvc, fakePreKeyService{}, nil)
	return svc, dir
}

func TestEnsureDeviceRegistration_IsIdempotent(t *testing.T) {
	relay := &fakeRelay{}
	svc, _ := newTestService(t, relay)
	owner := domain.Username("alice")
	rec := domain.DeviceRecord{Owner: owner, Device: domain.DeviceID("d1"), Fingerprint: "fp1"}

	if err := svc.EnsureDeviceRegistration(context.Background(), owner, rec); err != nil {
		t.Fatalf("first EnsureDeviceRegistration: %v", err)
	}
	if err := svc.EnsureDeviceRegistration(context.Background(), owner, rec); err != nil {
		t.Fatalf("second EnsureDeviceRegistration: %v", err)
	}
	if len(relay.registered) != 1 {
		t.Fatalf("relay saw %d registrations, want 1", len(relay.registered))
	}

	devices, err := svc.ListDevices(owner)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].Status != domain.DeviceStatusPending {
		t.Fatalf("unexpected devices: %+v", devices)
	}
}

func TestTrustDevice_RequiresExplicitCall(t *testing.T) {
	svc, _ := newTestService(t, &fakeRelay{})
	owner := domain.Username("alice")
	rec := domain.DeviceRecord{Owner: owner, Device: domain.DeviceID("d1")}
	if err := svc.EnsureDeviceRegistration(context.Background(), owner, rec); err != nil {
		t.Fatalf("EnsureDeviceRegistration: %v", err)
	}

	devices, _ := svc.ListDevices(owner)
	if devices[0].Status != domain.DeviceStatusPending {
		t.Fatalf("device trusted before TrustDevice was ever called: %+v", devices[0])
	}

	if err := svc.TrustDevice(owner, domain.DeviceID("d1")); err != nil {
		t.Fatalf("TrustDevice: %v", err)
	}
	devices, _ = svc.ListDevices(owner)
	if devices[0].Status != domain.DeviceStatusTrusted {
		t.Fatalf("device not trusted after explicit TrustDevice: %+v", devices[0])
	}
}

func TestTrustDevice_UnknownDeviceErrors(t *testing.T) {
	svc, _ := newTestService(t, &fakeRelay{})
	if err := svc.TrustDevice(domain.Username("alice"), domain.DeviceID("ghost")); !errors.Is(err, domain.ErrDeviceNotInitialized) {
		t.Fatalf("want ErrDeviceNotInitialized, got %v", err)
	}
}

func TestIsKeyMismatch(t *testing.T) {
	cases := []struct {
		name    string
		binding domain.ConversationBinding
		local   domain.Fingerprint
		want    bool
	}{
		{"matching fingerprints", domain.ConversationBinding{DeviceFingerprint: "fp1"}, "fp1", false},
		{"mismatched fingerprints", domain.ConversationBinding{DeviceFingerprint: "fp1"}, "fp2", true},
		{"unset binding fingerprint is not yet a mismatch", domain.ConversationBinding{}, "fp2", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := multidevice.IsKeyMismatch(tc.binding, tc.local); got != tc.want {
				t.Fatalf("IsKeyMismatch() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCompleteDeviceReset_ClearsEverything(t *testing.T) {
	svc, _ := newTestService(t, &fakeRelay{})
	owner := domain.Username("alice")
	conv := domain.ConversationID("alice:bob")

	if err := svc.EnsureDeviceRegistration(context.Background(), owner, domain.DeviceRecord{
		Owner: owner, Device: domain.DeviceID("d1"),
	}); err != nil {
		t.Fatalf("EnsureDeviceRegistration: %v", err)
	}
	if err := svc.Enqueue(domain.SyncQueueEntry{Conversation: conv, TargetDevice: domain.DeviceID("d2")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := svc.CompleteDeviceReset(owner, domain.DeviceID("d1")); err != nil {
		t.Fatalf("CompleteDeviceReset: %v", err)
	}

	devices, err := svc.ListDevices(owner)
	if err != nil || len(devices) != 0 {
		t.Fatalf("devices not cleared: %+v, err=%v", devices, err)
	}
	bindings, err := svc.Bindings(conv)
	if err != nil || len(bindings) != 0 {
		t.Fatalf("bindings not cleared: %+v, err=%v", bindings, err)
	}
}

func TestDrainDue_DropsAfterRetryLimitAndReportsFailure(t *testing.T) {
	svc, _ := newTestService(t, &fakeRelay{})
	entry := domain.SyncQueueEntry{
		ID:           "m1",
		TargetDevice: domain.DeviceID("d2"),
	}
	if err := svc.Enqueue(entry); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	alwaysFails := func(domain.SyncQueueEntry) error { return errors.New("device unreachable") }

	var reports []domain.SyncFailureReport
	for i := 0; i < 3; i++ {
		var err error
		reports, err = svc.DrainDue(context.Background(), int64(i*100), alwaysFails)
		if err != nil {
			t.Fatalf("DrainDue round %d: %v", i, err)
		}
	}
	if len(reports) != 1 {
		t.Fatalf("want 1 failure report after exhausting retries, got %d", len(reports))
	}
	if reports[0].Entry.ID != "m1" {
		t.Fatalf("unexpected dropped entry: %+v", reports[0])
	}
}

func TestDrainDue_SucceedsAndClearsQueue(t *testing.T) {
	svc, _ := newTestService(t, &fakeRelay{})
	if err := svc.Enqueue(domain.SyncQueueEntry{ID: "m1", TargetDevice: domain.DeviceID("d2")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	delivered := 0
	reports, err := svc.DrainDue(context.Background(), time.Now().Unix(), func(domain.SyncQueueEntry) error {
		delivered++
		return nil
	})
	if err != nil {
		t.Fatalf("DrainDue: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("unexpected failure reports: %+v", reports)
	}
	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1", delivered)
	}
}

func TestSetupConversationEncryption_BindsFingerprintsFromRegistry(t *testing.T) {
	peer := domain.Username("bob")
	relay := &fakeRelay{
		bindings: []domain.ConversationBinding{
			{Device: domain.DeviceID("b1")},
		},
	}
	svc, _ := newTestService(t, relay)

	if err := svc.EnsureDeviceRegistration(context.Background(), peer, domain.DeviceRecord{
		Owner: peer, Device: domain.DeviceID("b1"), Fingerprint: "bob-fp",
	}); err != nil {
		t.Fatalf("EnsureDeviceRegistration: %v", err)
	}

	conv := domain.ConversationID("alice:bob")
	out, err := svc.SetupConversationEncryption(context.Background(), conv, peer)
	if err != nil {
		t.Fatalf("SetupConversationEncryption: %v", err)
	}
	if len(out) != 1 || out[0].DeviceFingerprint != "bob-fp" {
		t.Fatalf("unexpected bindings: %+v", out)
	}
	if out[0].SessionID == "" {
		t.Fatal("expected a synthesized session id")
	}
}
