package store

import (
	"path/filepath"
	"sync"

	"ciphera/internal/domain"
)

const sessionsFile = "sessions.json"

// SessionFileStore persists X3DH-derived sessions, one per peer username.
type SessionFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewSessionFileStore returns a SessionFileStore rooted at dir.
func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{dir: dir}
}

// SaveSession stores or replaces the session for peer.
func (s *SessionFileStore) SaveSession(peer domain.Username, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFile)
	m := map[domain.Username]domain.Session{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	m[peer] = session
	return writeJSON(path, m, 0o600)
}

// LoadSession retrieves the session for peer, if one exists.
func (s *SessionFileStore) LoadSession(peer domain.Username) (domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFile)
	m := map[domain.Username]domain.Session{}
	if err := readJSON(path, &m); err != nil {
		return domain.Session{}, false, err
	}
	session, ok := m[peer]
	return session, ok, nil
}

// Compile-time assertion that SessionFileStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionFileStore)(nil)
