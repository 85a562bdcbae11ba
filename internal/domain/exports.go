package domain

import (
	interfaces "ciphera/internal/domain/interfaces"
	types "ciphera/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Username            = types.Username
	Fingerprint         = types.Fingerprint
	SignedPreKeyID      = types.SignedPreKeyID
	OneTimePreKeyID     = types.OneTimePreKeyID
	ConversationID      = types.ConversationID
	DeviceID            = types.DeviceID
	Identity            = types.Identity
	OneTimePreKeyPair   = types.OneTimePreKeyPair
	OneTimePreKeyPublic = types.OneTimePreKeyPublic
	PreKeyBundle        = types.PreKeyBundle
	PreKeyMessage       = types.PreKeyMessage
	Envelope            = types.Envelope
	DecryptedMessage    = types.DecryptedMessage
	RatchetHeader       = types.RatchetHeader
	RatchetState        = types.RatchetState
	Conversation        = types.Conversation
	Session             = types.Session
	SessionState        = types.SessionState
	SessionRecord       = types.SessionRecord
	AccountProfile      = types.AccountProfile
	X25519Public        = types.X25519Public
	X25519Private       = types.X25519Private
	Ed25519Public       = types.Ed25519Public
	Ed25519Private      = types.Ed25519Private
	KEMPublicKey        = types.KEMPublicKey
	KEMPrivateKey       = types.KEMPrivateKey
	KEMCiphertext       = types.KEMCiphertext
	Algorithm           = types.Algorithm
	NegotiationMode     = types.NegotiationMode
	Capabilities        = types.Capabilities
	NegotiationResult   = types.NegotiationResult
	DeviceRecord        = types.DeviceRecord
	DeviceStatus        = types.DeviceStatus
	ConversationBinding = types.ConversationBinding
	SyncQueueEntry      = types.SyncQueueEntry
	SyncFailureReport   = types.SyncFailureReport
)

// Constant aliases re-export the fixed algorithm set and negotiation modes.
const (
	AlgMLKEM1024      = types.AlgMLKEM1024
	AlgMLKEM768       = types.AlgMLKEM768
	AlgMLKEM512       = types.AlgMLKEM512
	AlgHybridRSAMLKEM = types.AlgHybridRSAMLKEM
	AlgCurve25519     = types.AlgCurve25519
	AlgP256           = types.AlgP256
	AlgRSA4096OAEP    = types.AlgRSA4096OAEP
	AlgRSA2048OAEP    = types.AlgRSA2048OAEP

	ModeStandard    = types.ModeStandard
	ModeHybrid      = types.ModeHybrid
	ModeQuantumOnly = types.ModeQuantumOnly

	SessionNone             = types.SessionNone
	SessionHandshakePending = types.SessionHandshakePending
	SessionEstablished      = types.SessionEstablished
	SessionExpired          = types.SessionExpired
	SessionFailed           = types.SessionFailed

	DeviceStatusPending = types.DeviceStatusPending
	DeviceStatusTrusted = types.DeviceStatusTrusted
	DeviceStatusRevoked = types.DeviceStatusRevoked
)

// AlgorithmPriority re-exports the fixed negotiation priority order.
var AlgorithmPriority = types.AlgorithmPriority

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	IdentityService     = interfaces.IdentityService
	PreKeyService       = interfaces.PreKeyService
	SessionService      = interfaces.SessionService
	MessageService      = interfaces.MessageService
	RelayClient         = interfaces.RelayClient
	IdentityStore       = interfaces.IdentityStore
	PreKeyStore         = interfaces.PreKeyStore
	PreKeyBundleStore   = interfaces.PreKeyBundleStore
	SessionStore        = interfaces.SessionStore
	RatchetStore        = interfaces.RatchetStore
	AccountStore        = interfaces.AccountStore
	AlgorithmNegotiator = interfaces.AlgorithmNegotiator
	SessionManager      = interfaces.SessionManager
	DeviceRegistry      = interfaces.DeviceRegistry
	ConversationBinder  = interfaces.ConversationBinder
	SyncQueue           = interfaces.SyncQueue

	SessionRecordStore       = interfaces.SessionRecordStore
	DeviceRegistryStore      = interfaces.DeviceRegistryStore
	ConversationBindingStore = interfaces.ConversationBindingStore
	SyncQueueStore           = interfaces.SyncQueueStore
)
