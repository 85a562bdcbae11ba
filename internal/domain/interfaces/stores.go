package interfaces

import domaintypes "ciphera/internal/domain/types"

// IdentityStore persists your long-term identity keys.
type IdentityStore interface {
	SaveIdentity(passphrase string, id domaintypes.Identity) error
	LoadIdentity(passphrase string) (domaintypes.Identity, error)
}

// PreKeyStore manages signed and one-time pre-keys on disk.
type PreKeyStore interface {
	// Signed pre-key
	SaveSignedPreKey(
		id domaintypes.SignedPreKeyID,
		priv domaintypes.X25519Private,
		pub domaintypes.X25519Public,
		sig []byte,
	) error
	LoadSignedPreKey(
		id domaintypes.SignedPreKeyID,
	) (
		priv domaintypes.X25519Private,
		pub domaintypes.X25519Public,
		sig []byte,
		ok bool,
		err error,
	)

	// One-time pre-keys
	SaveOneTimePreKeys(pairs []domaintypes.OneTimePreKeyPair) error
	ConsumeOneTimePreKey(id domaintypes.OneTimePreKeyID) (
		priv domaintypes.X25519Private,
		pub domaintypes.X25519Public,
		ok bool,
		err error,
	)
	ListOneTimePreKeyPublics() ([]domaintypes.OneTimePreKeyPublic, error)

	// Current signed pre-key selection
	SetCurrentSignedPreKeyID(id domaintypes.SignedPreKeyID) error
	CurrentSignedPreKeyID() (domaintypes.SignedPreKeyID, bool, error)
}

// PreKeyBundleStore caches the last bundle you registered.
type PreKeyBundleStore interface {
	SavePreKeyBundle(bundle domaintypes.PreKeyBundle) error
	LoadPreKeyBundle(username domaintypes.Username) (domaintypes.PreKeyBundle, bool, error)
}

// SessionStore persists established X3DH sessions.
type SessionStore interface {
	SaveSession(peer domaintypes.Username, session domaintypes.Session) error
	LoadSession(peer domaintypes.Username) (domaintypes.Session, bool, error)
}

// RatchetStore keeps per-peer Double-Ratchet state.
type RatchetStore interface {
	SaveConversation(peer domaintypes.ConversationID, conversation domaintypes.Conversation) error
	LoadConversation(peer domaintypes.ConversationID) (domaintypes.Conversation, bool, error)

	// AllConversations lists every stored conversation, for maintenance
	// passes such as quantum epoch rotation that run across all peers.
	AllConversations() (map[domaintypes.ConversationID]domaintypes.Conversation, error)
}

// SessionRecordStore persists SessionManager's lifecycle state per peer,
// distinct from SessionStore which only holds the X3DH-derived material.
type SessionRecordStore interface {
	SaveSessionRecord(peer domaintypes.Username, rec domaintypes.SessionRecord) error
	LoadSessionRecord(peer domaintypes.Username) (domaintypes.SessionRecord, bool, error)
	AllSessionRecords() (map[domaintypes.Username]domaintypes.SessionRecord, error)
}

// DeviceRegistryStore persists the device registry: every device a
// username has registered, and its trust state.
type DeviceRegistryStore interface {
	SaveDevices(owner domaintypes.Username, devices []domaintypes.DeviceRecord) error
	LoadDevices(owner domaintypes.Username) ([]domaintypes.DeviceRecord, error)
}

// ConversationBindingStore persists the per-(conversation,device)
// bindings a multi-device fan-out needs to address every trusted device.
type ConversationBindingStore interface {
	SaveBindings(conv domaintypes.ConversationID, bindings []domaintypes.ConversationBinding) error
	LoadBindings(conv domaintypes.ConversationID) ([]domaintypes.ConversationBinding, error)
	// ClearAll drops every conversation's bindings, used by
	// CompleteDeviceReset.
	ClearAll() error
}

// SyncQueueStore persists the outstanding cross-device sync queue.
type SyncQueueStore interface {
	SaveQueue(entries []domaintypes.SyncQueueEntry) error
	LoadQueue() ([]domaintypes.SyncQueueEntry, error)
}
