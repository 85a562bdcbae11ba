package multidevice

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"ciphera/internal/domain"
	"ciphera/internal/store"
)

// TestRecoverAndRetry_ExhaustsRetriesAndResetsDevice lives in-package (not
// multidevice_test) so it can shrink recoveryBackoffUnit and avoid waiting
// out the real 5s*attempt schedule across all maxRecoveryRetries attempts.
func TestRecoverAndRetry_ExhaustsRetriesAndResetsDevice(t *testing.T) {
	old := recoveryBackoffUnit
	recoveryBackoffUnit = time.Millisecond
	defer func() { recoveryBackoffUnit = old }()

	dir := t.TempDir()
	devices := store.NewDeviceFileStore(dir)
	bindings := store.NewConversationBindingFileStore(dir)
	queue := store.NewSyncQueueFileStore(dir)

	idSvc := identityStub{}
	svc := New(devices, bindings, queue, relayStub{}, idSvc, prekeyStub{}, slog.Default())

	owner, peer := domain.Username("alice"), domain.Username("bob")
	conv := domain.ConversationID("alice:bob")
	if err := svc.Enqueue(domain.SyncQueueEntry{ID: "m1", TargetDevice: domain.DeviceID("d2")}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	send := func(context.Context) error { return domain.ErrKeyMismatch }

	err := svc.RecoverAndRetry(context.Background(), owner, peer, conv, domain.DeviceID("d1"), "fp1", "pw", send)
	if !errors.Is(err, domain.ErrKeyMismatch) {
		t.Fatalf("want ErrKeyMismatch after exhausting retries, got %v", err)
	}

	devicesAfter, err := svc.ListDevices(owner)
	if err != nil || len(devicesAfter) != 0 {
		t.Fatalf("device registry not cleared by terminal reset: %+v, err=%v", devicesAfter, err)
	}
	reports, err := svc.DrainDue(context.Background(), 0, func(domain.SyncQueueEntry) error { return nil })
	if err != nil || len(reports) != 0 {
		t.Fatalf("sync queue not cleared by terminal reset: %+v, err=%v", reports, err)
	}
}

type relayStub struct{}

func (relayStub) RegisterPreKeyBundle(context.Context, domain.PreKeyBundle) error { return nil }
func (relayStub) FetchPreKeyBundle(context.Context, domain.Username) (domain.PreKeyBundle, error) {
	return domain.PreKeyBundle{}, nil
}
func (relayStub) SendMessage(context.Context, domain.Envelope) error { return nil }
func (relayStub) FetchMessages(context.Context, domain.Username, int) ([]domain.Envelope, error) {
	return nil, nil
}
func (relayStub) AckMessages(context.Context, domain.Username, int) error { return nil }
func (relayStub) FetchAccountCanary(context.Context, domain.Username) (string, error) {
	return "", nil
}
func (relayStub) RegisterDevice(context.Context, domain.Username, domain.DeviceRecord) error {
	return nil
}
func (relayStub) ListDevices(context.Context, domain.Username) ([]domain.DeviceRecord, error) {
	return nil, nil
}
func (relayStub) BindConversation(
	context.Context, domain.ConversationID, domain.Username,
) ([]domain.ConversationBinding, error) {
	return nil, nil
}

type identityStub struct{}

func (identityStub) GenerateIdentity(string) (domain.Identity, domain.Fingerprint, error) {
	return domain.Identity{}, "fp-new", nil
}
func (identityStub) LoadIdentity(string) (domain.Identity, error) { return domain.Identity{}, nil }
func (identityStub) FingerprintIdentity(string) (domain.Fingerprint, error) { return "", nil }

type prekeyStub struct{}

func (prekeyStub) GenerateAndStorePreKeys(string, int) (domain.X25519Public, []domain.X25519Public, error) {
	return domain.X25519Public{}, nil, nil
}
func (prekeyStub) LoadPreKeyBundle(string, domain.Username, string) (domain.PreKeyBundle, error) {
	return domain.PreKeyBundle{}, nil
}
