package interfaces

import (
	"context"

	domaintypes "ciphera/internal/domain/types"
)

// DeviceRegistry tracks the devices known for a username and their trust
// state. Registering a device never implies trust.
type DeviceRegistry interface {
	// EnsureDeviceRegistration confirms device is on the relay's
	// directory for owner, registering it if this is its first call. It
	// never changes an existing record's trust state.
	EnsureDeviceRegistration(ctx context.Context, owner domaintypes.Username, rec domaintypes.DeviceRecord) error
	ListDevices(owner domaintypes.Username) ([]domaintypes.DeviceRecord, error)
	// TrustDevice is the only path that marks a device trusted; nothing
	// in the encrypt/decrypt path may call it implicitly.
	TrustDevice(owner domaintypes.Username, device domaintypes.DeviceID) error
	// ForceReregistration generates a fresh identity key-pair and
	// fingerprint for device, invalidates every cached conversation
	// binding that pointed at the old one, and republishes a bundle.
	ForceReregistration(ctx context.Context, owner domaintypes.Username, device domaintypes.DeviceID, passphrase string) error
	// CompleteDeviceReset clears all local device, binding, and sync
	// state and starts the device from scratch.
	CompleteDeviceReset(owner domaintypes.Username, device domaintypes.DeviceID) error
}

// ConversationBinder owns the per-(conversation,device) session bindings
// used to fan a single logical message out to every trusted device.
type ConversationBinder interface {
	SetupConversationEncryption(ctx context.Context, conv domaintypes.ConversationID, peer domaintypes.Username) ([]domaintypes.ConversationBinding, error)
	Bindings(conv domaintypes.ConversationID) ([]domaintypes.ConversationBinding, error)
}

// SyncQueue delivers a fan-out payload to a user's other devices with
// bounded, linear-backoff retry.
type SyncQueue interface {
	Enqueue(entry domaintypes.SyncQueueEntry) error
	DrainDue(ctx context.Context, nowUTC int64, send func(domaintypes.SyncQueueEntry) error) ([]domaintypes.SyncFailureReport, error)
}
