// Package identity implements domain.IdentityService: generating, loading,
// and fingerprinting the long-term X25519/Ed25519 (and optional ML-KEM)
// identity every Ciphera account is built from.
package identity

import (
	"ciphera/internal/crypto"
	"ciphera/internal/domain"
)

// Service generates and loads the local identity via an IdentityStore.
type Service struct {
	idStore domain.IdentityStore
}

// New constructs an identity Service backed by idStore.
func New(idStore domain.IdentityStore) *Service {
	return &Service{idStore: idStore}
}

// GenerateIdentity creates a fresh identity, persists it encrypted under
// passphrase, and returns it alongside its public fingerprint.
func (s *Service) GenerateIdentity(passphrase string) (domain.Identity, domain.Fingerprint, error) {
	id, err := crypto.NewIdentity()
	if err != nil {
		return domain.Identity{}, "", err
	}
	if err := s.idStore.SaveIdentity(passphrase, id); err != nil {
		return domain.Identity{}, "", err
	}
	return id, domain.Fingerprint(crypto.Fingerprint(id.XPub.Slice())), nil
}

// LoadIdentity decrypts and returns the stored identity.
func (s *Service) LoadIdentity(passphrase string) (domain.Identity, error) {
	return s.idStore.LoadIdentity(passphrase)
}

// FingerprintIdentity returns the fingerprint of the stored identity
// without exposing its private key material to the caller.
func (s *Service) FingerprintIdentity(passphrase string) (domain.Fingerprint, error) {
	id, err := s.idStore.LoadIdentity(passphrase)
	if err != nil {
		return "", err
	}
	return domain.Fingerprint(crypto.Fingerprint(id.XPub.Slice())), nil
}

// Compile-time assertion that Service implements domain.IdentityService.
var _ domain.IdentityService = (*Service)(nil)
