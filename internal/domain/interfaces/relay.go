package interfaces

import (
	"context"

	domaintypes "ciphera/internal/domain/types"
)

// RelayClient is how we talk to the central relay server, all with context.
type RelayClient interface {
	RegisterPreKeyBundle(ctx context.Context, bundle domaintypes.PreKeyBundle) error
	FetchPreKeyBundle(
		ctx context.Context,
		username domaintypes.Username,
	) (domaintypes.PreKeyBundle, error)

	SendMessage(ctx context.Context, envelope domaintypes.Envelope) error
	FetchMessages(
		ctx context.Context,
		username domaintypes.Username,
		limit int,
	) ([]domaintypes.Envelope, error)
	AckMessages(ctx context.Context, username domaintypes.Username, count int) error
	FetchAccountCanary(ctx context.Context, username domaintypes.Username) (string, error)

	// RegisterDevice publishes a device record to the relay's directory for
	// owner, so other accounts' multi-device fan-out can discover it.
	RegisterDevice(ctx context.Context, owner domaintypes.Username, rec domaintypes.DeviceRecord) error
	// ListDevices retrieves every device the relay has on file for owner.
	ListDevices(ctx context.Context, owner domaintypes.Username) ([]domaintypes.DeviceRecord, error)
	// BindConversation asks the relay which of peer's devices a conversation
	// must fan out to; the returned bindings carry no session id, which the
	// caller fills in once it has established a session with each device.
	BindConversation(
		ctx context.Context,
		conv domaintypes.ConversationID,
		peer domaintypes.Username,
	) ([]domaintypes.ConversationBinding, error)
}
