package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"ciphera/internal/domain"
	"ciphera/internal/util/memzero"
)

const (
	KeyBytes   = 32
	SaltBytes  = 16
	NonceBytes = chacha20poly1305.NonceSize
)

// NewIdentity generates a fresh X25519 and Ed25519 key pair, the long-term
// identity every Ciphera account is built from.
func NewIdentity() (domain.Identity, error) {
	xpriv, xpub, err := GenerateX25519()
	if err != nil {
		return domain.Identity{}, err
	}
	edpriv, edpub, err := GenerateEd25519()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{
		XPriv:  xpriv,
		XPub:   xpub,
		EdPriv: edpriv,
		EdPub:  edpub,
	}, nil
}

// DeriveKEK derives a key-encryption key from a passphrase and salt using
// Argon2id. This is the one passphrase KDF used across every on-disk store;
// a second scrypt-based variant the codebase also carried has been dropped
// in favour of this one (see the grounding ledger).
func DeriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1<<16, 8, 1, KeyBytes)
}

// EncryptSecret encrypts plaintext with a KEK derived from the passphrase
// and salt. The nonce is random per call, which is safe here because this
// wraps a single at-rest blob rather than a message stream.
func EncryptSecret(passphrase string, plaintext []byte, salt []byte) (nonce, ciphertext []byte, err error) {
	if len(salt) != SaltBytes {
		return nil, nil, errors.New("invalid salt size")
	}
	kek := DeriveKEK(passphrase, salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	memzero.Zero(plaintext)
	return nonce, ct, nil
}

// DecryptSecret decrypts a ciphertext with a KEK derived from the
// passphrase and salt.
func DecryptSecret(passphrase string, salt, nonce, ciphertext []byte) ([]byte, error) {
	if len(salt) != SaltBytes {
		return nil, errors.New("invalid salt size")
	}
	kek := DeriveKEK(passphrase, salt)
	defer memzero.Zero(kek)

	aead, err := chacha20poly1305.New(kek)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}
