package types

// RatchetHeader is sent alongside every ciphertext. Epoch is the sender's
// DH-ratchet epoch (RatchetState.Epoch, not QuantumEpoch) when the message
// key was derived; it is mixed into the AEAD nonce and authenticated as
// associated data.
type RatchetHeader struct {
	DiffieHellmanPublicKey []byte `json:"dh_pub"`
	PreviousChainLength    uint32 `json:"pn"`
	MessageIndex           uint32 `json:"n"`
	Epoch                  uint32 `json:"epoch"`
}

// RatchetState contains all fields the Double Ratchet needs to track.
// It is not safe for concurrent use; callers serialize access per
// conversation (see SessionManager).
type RatchetState struct {
	RootKey                 []byte            `json:"root_key"`
	DiffieHellmanPrivate    X25519Private     `json:"dh_priv"`
	DiffieHellmanPublic     X25519Public      `json:"dh_pub"`
	PeerDiffieHellmanPublic X25519Public      `json:"peer_dh_pub"`
	SendChainKey            []byte            `json:"send_ck,omitempty"`
	ReceiveChainKey         []byte            `json:"recv_ck,omitempty"`
	SendMessageIndex        uint32            `json:"ns"`
	ReceiveMessageIndex     uint32            `json:"nr"`
	PreviousChainLength     uint32            `json:"pn"`
	SkippedKeys             map[string][]byte `json:"skipped_keys"`

	// AssociatedData is H(IK_initiator || IK_responder), fixed once at
	// session install and authenticated into every AEAD call this
	// conversation ever makes. Binding it to the identity-key pair, not
	// just the ciphertext, stops a relayed ciphertext from being replayed
	// into a different conversation's ratchet undetected.
	AssociatedData []byte `json:"associated_data,omitempty"`

	// MaxSkip bounds SkippedKeys; zero means the package default applies.
	MaxSkip int `json:"max_skip,omitempty"`

	// Epoch increments whenever the DH ratchet steps; it is sent on the
	// wire in RatchetHeader and mixed into the AEAD nonce.
	Epoch uint32 `json:"epoch"`

	// ProcessedHashes guards against replay of already-accepted
	// ciphertexts within the skipped-key retention window, bounded the
	// same way SkippedKeys is.
	ProcessedHashes map[string]struct{} `json:"processed_hashes,omitempty"`

	// QuantumEpoch is the coarse wall-clock rotation counter distinct
	// from Epoch: it advances on a fixed interval (not on every DH step)
	// and re-keys the root so a long-lived conversation is not carried by
	// the same root material indefinitely. It is never transmitted; each
	// side advances it independently from its own clock.
	QuantumEpoch uint32 `json:"quantum_epoch,omitempty"`

	// QuantumEpochUTC is when QuantumEpoch last advanced.
	QuantumEpochUTC int64 `json:"quantum_epoch_utc,omitempty"`
}

// Conversation persists the ratchet state for a peer.
type Conversation struct {
	Peer  ConversationID `json:"peer"`
	State RatchetState   `json:"state"`
}
