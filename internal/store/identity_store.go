package store

import (
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
)

const idFilename = "identity.json.enc"

// identityBlob is the on-disk envelope: an Argon2id-derived key (see
// crypto.DeriveKEK) seals the JSON-encoded identity under XChaCha20-Poly1305.
type identityBlob struct {
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// IdentityFileStore persists the local identity to disk.
type IdentityFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewIdentityFileStore returns an IdentityFileStore rooted at dir.
func NewIdentityFileStore(dir string) *IdentityFileStore {
	return &IdentityFileStore{dir: dir}
}

// SaveIdentity writes the encrypted identity to disk.
func (s *IdentityFileStore) SaveIdentity(passphrase string, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(id)
	if err != nil {
		return err
	}
	salt := make([]byte, crypto.SaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	nonce, ct, err := crypto.EncryptSecret(passphrase, raw, salt)
	if err != nil {
		return err
	}
	blob, err := json.Marshal(identityBlob{Salt: salt, Nonce: nonce, Cipher: ct})
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, idFilename)
	return os.WriteFile(path, blob, 0o600)
}

// LoadIdentity reads and decrypts the identity.
func (s *IdentityFileStore) LoadIdentity(passphrase string) (domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, idFilename)

	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Identity{}, err
	}
	var blob identityBlob
	if err := json.Unmarshal(b, &blob); err != nil {
		return domain.Identity{}, err
	}
	pt, err := crypto.DecryptSecret(passphrase, blob.Salt, blob.Nonce, blob.Cipher)
	if err != nil {
		return domain.Identity{}, err
	}
	var id domain.Identity
	if err := json.Unmarshal(pt, &id); err != nil {
		return domain.Identity{}, err
	}
	return id, nil
}

// Compile-time assertion that IdentityFileStore implements domain.IdentityStore.
var _ domain.IdentityStore = (*IdentityFileStore)(nil)
