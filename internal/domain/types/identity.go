package types

// Identity holds your long-term X25519 and Ed25519 keys, plus an optional
// post-quantum KEM key pair used when algorithm negotiation selects a
// PQ or hybrid algorithm.
type Identity struct {
	XPub   X25519Public   `json:"xpub"`
	XPriv  X25519Private  `json:"xpriv"`
	EdPub  Ed25519Public  `json:"edpub"`
	EdPriv Ed25519Private `json:"edpriv"`

	KEMPub  KEMPublicKey  `json:"kem_pub,omitempty"`
	KEMPriv KEMPrivateKey `json:"kem_priv,omitempty"`
}
