package store

import (
	"path/filepath"
	"sync"

	"ciphera/internal/domain"
)

const (
	spkPairsFile   = "spk_pairs.json"
	opkPairsFile   = "opk_pairs.json"
	prekeyMetaFile = "prekey_meta.json"
)

// PrekeyFileStore persists signed and one-time pre-key material to disk.
type PrekeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPrekeyFileStore returns a PrekeyFileStore rooted at dir.
func NewPrekeyFileStore(dir string) *PrekeyFileStore {
	return &PrekeyFileStore{dir: dir}
}

type spkRecord struct {
	Priv domain.X25519Private `json:"priv"`
	Pub  domain.X25519Public  `json:"pub"`
	Sig  []byte               `json:"sig"`
}

type opkRecord struct {
	Priv domain.X25519Private `json:"priv"`
	Pub  domain.X25519Public  `json:"pub"`
}

type prekeyMeta struct {
	CurrentSignedPreKeyID domain.SignedPreKeyID `json:"current_signed_pre_key_id"`
}

// SaveSignedPreKey stores a signed pre-key by id, alongside its detached
// signature over the public half (see x3dh.VerifySPK for verification).
func (s *PrekeyFileStore) SaveSignedPreKey(
	id domain.SignedPreKeyID,
	priv domain.X25519Private,
	pub domain.X25519Public,
	sig []byte,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPreKeyID]spkRecord{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	m[id] = spkRecord{Priv: priv, Pub: pub, Sig: sig}
	return writeJSON(path, m, 0o600)
}

// LoadSignedPreKey retrieves a signed pre-key by id.
func (s *PrekeyFileStore) LoadSignedPreKey(
	id domain.SignedPreKeyID,
) (priv domain.X25519Private, pub domain.X25519Public, sig []byte, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPreKeyID]spkRecord{}
	if err = readJSON(path, &m); err != nil {
		return priv, pub, nil, false, err
	}
	r, ok := m[id]
	if !ok {
		return priv, pub, nil, false, nil
	}
	return r.Priv, r.Pub, r.Sig, true, nil
}

// allSignedPreKeys returns every stored signed pre-key, keyed by id.
func (s *PrekeyFileStore) allSignedPreKeys() (map[domain.SignedPreKeyID]spkRecord, error) {
	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPreKeyID]spkRecord{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteSignedPreKeysExcept removes every signed pre-key not in keep.
func (s *PrekeyFileStore) DeleteSignedPreKeysExcept(keep map[domain.SignedPreKeyID]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.allSignedPreKeys()
	if err != nil {
		return err
	}
	for id := range m {
		if !keep[id] {
			delete(m, id)
		}
	}
	return writeJSON(filepath.Join(s.dir, spkPairsFile), m, 0o600)
}

// SaveOneTimePreKeys merges the given one-time pre-key pairs into the pool.
func (s *PrekeyFileStore) SaveOneTimePreKeys(pairs []domain.OneTimePreKeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, opkPairsFile)
	m := map[domain.OneTimePreKeyID]opkRecord{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	for _, p := range pairs {
		m[p.ID] = opkRecord{Priv: p.Priv, Pub: p.Pub}
	}
	return writeJSON(path, m, 0o600)
}

// ConsumeOneTimePreKey removes and returns a single one-time pre-key by id.
// A missing id is not an error: it is the "ran out" signal the handshake
// engine falls back to three-DH mode on.
func (s *PrekeyFileStore) ConsumeOneTimePreKey(
	id domain.OneTimePreKeyID,
) (priv domain.X25519Private, pub domain.X25519Public, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, opkPairsFile)
	m := map[domain.OneTimePreKeyID]opkRecord{}
	if err = readJSON(path, &m); err != nil {
		return priv, pub, false, err
	}
	r, ok := m[id]
	if !ok {
		return priv, pub, false, nil
	}
	delete(m, id)
	if err = writeJSON(path, m, 0o600); err != nil {
		return priv, pub, false, err
	}
	return r.Priv, r.Pub, true, nil
}

// ListOneTimePreKeyPublics exposes only the public halves, for bundling and
// for pool-size checks ahead of top-up.
func (s *PrekeyFileStore) ListOneTimePreKeyPublics() ([]domain.OneTimePreKeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, opkPairsFile)
	m := map[domain.OneTimePreKeyID]opkRecord{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}

	out := make([]domain.OneTimePreKeyPublic, 0, len(m))
	for id, r := range m {
		out = append(out, domain.OneTimePreKeyPublic{ID: id, Pub: r.Pub})
	}
	return out, nil
}

// SetCurrentSignedPreKeyID records which signed pre-key id is current.
func (s *PrekeyFileStore) SetCurrentSignedPreKeyID(id domain.SignedPreKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, prekeyMetaFile)
	return writeJSON(path, prekeyMeta{CurrentSignedPreKeyID: id}, 0o600)
}

// CurrentSignedPreKeyID returns the recorded current signed pre-key id.
func (s *PrekeyFileStore) CurrentSignedPreKeyID() (domain.SignedPreKeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, prekeyMetaFile)
	var meta prekeyMeta
	if err := readJSON(path, &meta); err != nil {
		return "", false, err
	}
	if meta.CurrentSignedPreKeyID == "" {
		return "", false, nil
	}
	return meta.CurrentSignedPreKeyID, true, nil
}

// Compile-time assertion that PrekeyFileStore implements domain.PreKeyStore.
var _ domain.PreKeyStore = (*PrekeyFileStore)(nil)
