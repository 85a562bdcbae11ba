package crypto

import (
	"crypto/mlkem"

	"ciphera/internal/domain"
)

// GenerateMLKEM768 generates an ML-KEM-768 decapsulation/encapsulation key
// pair. ML-KEM-768 is the mid tier of the negotiated priority list and the
// default when hybrid or quantum_only policy is in effect without an
// explicit override to the 1024 tier.
func GenerateMLKEM768() (domain.KEMPrivateKey, domain.KEMPublicKey, error) {
	dk, err := mlkem.GenerateKey768()
	if err != nil {
		return nil, nil, err
	}
	return domain.KEMPrivateKey(dk.Bytes()), domain.KEMPublicKey(dk.EncapsulationKey().Bytes()), nil
}

// GenerateMLKEM1024 generates an ML-KEM-1024 key pair, used when the top
// priority-list entry is negotiated.
func GenerateMLKEM1024() (domain.KEMPrivateKey, domain.KEMPublicKey, error) {
	dk, err := mlkem.GenerateKey1024()
	if err != nil {
		return nil, nil, err
	}
	return domain.KEMPrivateKey(dk.Bytes()), domain.KEMPublicKey(dk.EncapsulationKey().Bytes()), nil
}

// EncapsulateMLKEM768 encapsulates a fresh shared secret against a remote
// ML-KEM-768 encapsulation key, returning (sharedSecret, ciphertext).
func EncapsulateMLKEM768(pub domain.KEMPublicKey) ([]byte, domain.KEMCiphertext, error) {
	ek, err := mlkem.NewEncapsulationKey768(pub)
	if err != nil {
		return nil, nil, err
	}
	secret, ct := ek.Encapsulate()
	return secret, domain.KEMCiphertext(ct), nil
}

// EncapsulateMLKEM1024 is the ML-KEM-1024 analogue of EncapsulateMLKEM768.
func EncapsulateMLKEM1024(pub domain.KEMPublicKey) ([]byte, domain.KEMCiphertext, error) {
	ek, err := mlkem.NewEncapsulationKey1024(pub)
	if err != nil {
		return nil, nil, err
	}
	secret, ct := ek.Encapsulate()
	return secret, domain.KEMCiphertext(ct), nil
}

// DecapsulateMLKEM768 recovers the shared secret from a received
// ciphertext using the local ML-KEM-768 decapsulation key.
func DecapsulateMLKEM768(priv domain.KEMPrivateKey, ct domain.KEMCiphertext) ([]byte, error) {
	dk, err := mlkem.NewDecapsulationKey768(priv)
	if err != nil {
		return nil, err
	}
	return dk.Decapsulate(ct)
}

// DecapsulateMLKEM1024 is the ML-KEM-1024 analogue of DecapsulateMLKEM768.
func DecapsulateMLKEM1024(priv domain.KEMPrivateKey, ct domain.KEMCiphertext) ([]byte, error) {
	dk, err := mlkem.NewDecapsulationKey1024(priv)
	if err != nil {
		return nil, err
	}
	return dk.Decapsulate(ct)
}
