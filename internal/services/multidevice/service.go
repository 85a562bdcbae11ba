package multidevice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
)

// maxRecoveryRetries bounds how many times RecoverAndRetry re-attempts the
// original send after a key-mismatch recovery pass before escalating to a
// full CompleteDeviceReset.
const maxRecoveryRetries = 5

// syncRetryLimit bounds how many times a sync queue entry is retried
// before it is dropped from the queue and recorded in a failure report.
const syncRetryLimit = 3

// syncBackoffUnit is the linear backoff unit: the nth retry waits
// n*syncBackoffUnit before becoming due again.
const syncBackoffUnit = 5 * time.Second

// recoveryBackoffUnit is RecoverAndRetry's in-process sleep between
// attempts. Declared as a var, not a const, so tests can shrink it instead
// of waiting out the real 5s*attempt schedule.
var recoveryBackoffUnit = syncBackoffUnit

// Service implements domain.DeviceRegistry, domain.ConversationBinder, and
// domain.SyncQueue: the multi-device fan-out and recovery half of the
// protocol that sits above SessionManager.
type Service struct {
	devices   domain.DeviceRegistryStore
	bindings  domain.ConversationBindingStore
	queue     domain.SyncQueueStore
	relay     domain.RelayClient
	idSvc     domain.IdentityService
	prekeySvc domain.PreKeyService
	logger    *slog.Logger

	// Clock is injected so tests can control wall-clock comparisons used
	// by sync-queue backoff and recovery bookkeeping, without sleeping.
	Clock func() time.Time
}

// New constructs a multidevice Service. relay, idSvc and prekeySvc back
// device re-keying during recovery; devices/bindings/queue back the
// fan-out and sync halves.
func New(
	devices domain.DeviceRegistryStore,
	bindings domain.ConversationBindingStore,
	queue domain.SyncQueueStore,
	relay domain.RelayClient,
	idSvc domain.IdentityService,
	prekeySvc domain.PreKeyService,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		devices:   devices,
		bindings:  bindings,
		queue:     queue,
		relay:     relay,
		idSvc:     idSvc,
		prekeySvc: prekeySvc,
		logger:    logger,
		Clock:     time.Now,
	}
}

// --- domain.DeviceRegistry ---

// EnsureDeviceRegistration confirms device is on file for owner locally
// and on the relay directory, registering it if this is its first call.
// Idempotent: an already-registered device is left untouched.
func (s *Service) EnsureDeviceRegistration(ctx context.Context, owner domain.Username, rec domain.DeviceRecord) error {
	existing, err := s.devices.LoadDevices(owner)
	if err != nil {
		return fmt.Errorf("loading device registry for %s: %w", owner, err)
	}
	for _, d := range existing {
		if d.Device == rec.Device {
			return nil
		}
	}

	if rec.Status == "" {
		rec.Status = domain.DeviceStatusPending
	}
	if rec.RegisteredUTC == 0 {
		rec.RegisteredUTC = s.clock().Unix()
	}
	rec.Owner = owner

	if err := s.relay.RegisterDevice(ctx, owner, rec); err != nil {
		return fmt.Errorf("registering device %s with relay: %w", rec.Device, err)
	}

	existing = append(existing, rec)
	if err := s.devices.SaveDevices(owner, existing); err != nil {
		return fmt.Errorf("persisting device registry for %s: %w", owner, err)
	}
	s.logger.Info("device registered", "owner", owner.String(), "device", rec.Device.String())
	return nil
}

// ListDevices returns owner's locally-known device registry.
func (s *Service) ListDevices(owner domain.Username) ([]domain.DeviceRecord, error) {
	return s.devices.LoadDevices(owner)
}

// TrustDevice is the only path that marks a device trusted. It requires an
// explicit operator call; nothing in the encrypt/decrypt path may reach
// it implicitly.
func (s *Service) TrustDevice(owner domain.Username, device domain.DeviceID) error {
	devices, err := s.devices.LoadDevices(owner)
	if err != nil {
		return fmt.Errorf("loading device registry for %s: %w", owner, err)
	}
	for i, d := range devices {
		if d.Device != device {
			continue
		}
		devices[i].Status = domain.DeviceStatusTrusted
		devices[i].TrustedUTC = s.clock().Unix()
		if err := s.devices.SaveDevices(owner, devices); err != nil {
			return fmt.Errorf("persisting trust for %s/%s: %w", owner, device, err)
		}
		s.logger.Info("device trusted", "owner", owner.String(), "device", device.String())
		return nil
	}
	return fmt.Errorf("device %s not found for %s: %w", device, owner, domain.ErrDeviceNotInitialized)
}

// ForceReregistration generates a fresh identity key-pair and fingerprint
// for device, invalidates every cached conversation binding that pointed
// at the old one, and republishes a bundle. All prior conversation keys
// become undecryptable by this device, preserving forward secrecy.
func (s *Service) ForceReregistration(
	ctx context.Context,
	owner domain.Username,
	device domain.DeviceID,
	passphrase string,
) error {
	identity, fingerprint, err := s.idSvc.GenerateIdentity(passphrase)
	if err != nil {
		return fmt.Errorf("generating replacement identity: %w", err)
	}

	if _, _, err := s.prekeySvc.GenerateAndStorePreKeys(passphrase, 20); err != nil {
		return fmt.Errorf("regenerating pre-keys: %w", err)
	}
	bundle, err := s.prekeySvc.LoadPreKeyBundle(passphrase, owner, "")
	if err != nil {
		return fmt.Errorf("assembling replacement bundle: %w", err)
	}
	if err := s.relay.RegisterPreKeyBundle(ctx, bundle); err != nil {
		return fmt.Errorf("republishing bundle: %w", err)
	}

	rec := domain.DeviceRecord{
		Owner:         owner,
		Device:        device,
		IdentityKey:   identity.XPub,
		SigningKey:    identity.EdPub,
		Status:        domain.DeviceStatusPending,
		RegisteredUTC: s.clock().Unix(),
		Fingerprint:   fingerprint,
	}
	if err := s.relay.RegisterDevice(ctx, owner, rec); err != nil {
		return fmt.Errorf("re-registering device %s: %w", device, err)
	}

	devices, err := s.devices.LoadDevices(owner)
	if err != nil {
		return fmt.Errorf("loading device registry for %s: %w", owner, err)
	}
	replaced := false
	for i, d := range devices {
		if d.Device == device {
			devices[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		devices = append(devices, rec)
	}
	if err := s.devices.SaveDevices(owner, devices); err != nil {
		return fmt.Errorf("persisting re-registered device %s: %w", device, err)
	}

	// Every cached binding recorded the old identity; drop them all so each
	// conversation is re-bound through SetupConversationEncryption.
	if err := s.bindings.ClearAll(); err != nil {
		return fmt.Errorf("clearing cached bindings after re-registration: %w", err)
	}
	s.logger.Warn("device force-reregistered; prior conversation keys dropped",
		"owner", owner.String(), "device", device.String(), "fingerprint", fingerprint.String())
	return nil
}

// CompleteDeviceReset clears all local device, binding, and sync state for
// owner/device and starts from scratch. It is the terminal escalation of
// the recovery ladder, once retries and re-registration have failed.
func (s *Service) CompleteDeviceReset(owner domain.Username, device domain.DeviceID) error {
	if err := s.devices.SaveDevices(owner, nil); err != nil {
		return fmt.Errorf("clearing device registry for %s: %w", owner, err)
	}
	if err := s.bindings.ClearAll(); err != nil {
		return fmt.Errorf("clearing conversation bindings: %w", err)
	}
	if err := s.queue.SaveQueue(nil); err != nil {
		return fmt.Errorf("clearing sync queue: %w", err)
	}
	s.logger.Warn("complete device reset", "owner", owner.String(), "device", device.String())
	return nil
}

// --- domain.ConversationBinder ---

// SetupConversationEncryption asks the relay which of peer's devices a
// conversation fans out to (the relay returns every non-revoked device;
// trust is not checked), fills in session ids and registry fingerprints,
// and persists one binding per device. It does not register the local
// device or add it to the binding list.
func (s *Service) SetupConversationEncryption(
	ctx context.Context,
	conv domain.ConversationID,
	peer domain.Username,
) ([]domain.ConversationBinding, error) {
	relayBindings, err := s.relay.BindConversation(ctx, conv, peer)
	if err != nil {
		return nil, fmt.Errorf("binding conversation %s to %s: %w", conv, peer, err)
	}

	devices, err := s.devices.LoadDevices(peer)
	if err != nil {
		return nil, fmt.Errorf("loading device registry for %s: %w", peer, err)
	}
	fingerprints := make(map[domain.DeviceID]domain.Fingerprint, len(devices))
	for _, d := range devices {
		fingerprints[d.Device] = d.Fingerprint
	}

	out := make([]domain.ConversationBinding, 0, len(relayBindings))
	for _, b := range relayBindings {
		if b.SessionID == "" {
			// Relay leaves the session id blank; the per-device session
			// handle is addressed as "peer#device" through
			// SessionManager, which only keys sessions by Username.
			b.SessionID = peer.String() + "#" + b.Device.String()
		}
		if fp, ok := fingerprints[b.Device]; ok && b.DeviceFingerprint == "" {
			b.DeviceFingerprint = fp
		}
		out = append(out, b)
	}

	if err := s.bindings.SaveBindings(conv, out); err != nil {
		return nil, fmt.Errorf("persisting bindings for %s: %w", conv, err)
	}
	s.logger.Info("conversation encryption set up", "conversation", conv.String(), "devices", len(out))
	return out, nil
}

// Bindings returns conv's persisted per-device bindings.
func (s *Service) Bindings(conv domain.ConversationID) ([]domain.ConversationBinding, error) {
	return s.bindings.LoadBindings(conv)
}

// --- domain.SyncQueue ---

// Enqueue adds a cross-device sync entry, to be delivered at-most-once per
// (message id, target device).
func (s *Service) Enqueue(entry domain.SyncQueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entries, err := s.queue.LoadQueue()
	if err != nil {
		return fmt.Errorf("loading sync queue: %w", err)
	}
	for _, e := range entries {
		if e.ID == entry.ID && e.TargetDevice == entry.TargetDevice {
			return nil // already queued for this device
		}
	}
	entries = append(entries, entry)
	return s.queue.SaveQueue(entries)
}

// DrainDue delivers every entry whose NextAttemptUTC has passed via send,
// requeuing failures with linear backoff (5s*retry_count) up to
// syncRetryLimit attempts; an entry that exhausts its retries is dropped
// from the queue and returned in the failure report instead.
func (s *Service) DrainDue(
	ctx context.Context,
	nowUTC int64,
	send func(domain.SyncQueueEntry) error,
) ([]domain.SyncFailureReport, error) {
	entries, err := s.queue.LoadQueue()
	if err != nil {
		return nil, fmt.Errorf("loading sync queue: %w", err)
	}

	var remaining []domain.SyncQueueEntry
	var reports []domain.SyncFailureReport
	for _, e := range entries {
		if e.NextAttemptUTC > nowUTC {
			remaining = append(remaining, e)
			continue
		}
		select {
		case <-ctx.Done():
			remaining = append(remaining, e)
			continue
		default:
		}

		if err := send(e); err != nil {
			e.RetryCount++
			if e.RetryCount >= syncRetryLimit {
				reports = append(reports, domain.SyncFailureReport{
					Entry:      e,
					Reason:     err.Error(),
					DroppedUTC: nowUTC,
				})
				s.logger.Warn("sync entry dropped after exhausting retries",
					"entry", e.ID, "target_device", e.TargetDevice.String(), "err", err)
				continue
			}
			e.NextAttemptUTC = nowUTC + int64(e.RetryCount)*int64(syncBackoffUnit/time.Second)
			remaining = append(remaining, e)
			continue
		}
	}

	if err := s.queue.SaveQueue(remaining); err != nil {
		return reports, fmt.Errorf("persisting sync queue: %w", err)
	}
	return reports, nil
}

func (s *Service) clock() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// DeviceFingerprint derives the stable per-device fingerprint bound into a
// DeviceRecord: the identity public key salted with the device id, so two
// devices sharing an identity (never expected, but not assumed away) still
// fingerprint distinctly.
func DeviceFingerprint(identityPub domain.X25519Public, device domain.DeviceID) domain.Fingerprint {
	return domain.Fingerprint(crypto.Fingerprint(append(append([]byte{}, identityPub[:]...), device.String()...)))
}

// Compile-time assertions.
var (
	_ domain.DeviceRegistry     = (*Service)(nil)
	_ domain.ConversationBinder = (*Service)(nil)
	_ domain.SyncQueue          = (*Service)(nil)
)
