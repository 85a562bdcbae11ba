package store

import (
	"path/filepath"
	"sync"

	"ciphera/internal/domain"
)

const convFile = "conversations.json"

// RatchetFileStore persists Double Ratchet state per conversation.
type RatchetFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewRatchetFileStore returns a RatchetFileStore rooted at dir.
func NewRatchetFileStore(dir string) *RatchetFileStore { return &RatchetFileStore{dir: dir} }

// SaveConversation stores or replaces a peer's ratchet state.
func (s *RatchetFileStore) SaveConversation(peer domain.ConversationID, conv domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, convFile)
	m := map[domain.ConversationID]domain.Conversation{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	m[peer] = conv
	return writeJSON(path, m, 0o600)
}

// LoadConversation retrieves a peer's ratchet state, if any is stored.
func (s *RatchetFileStore) LoadConversation(peer domain.ConversationID) (domain.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, convFile)
	m := map[domain.ConversationID]domain.Conversation{}
	if err := readJSON(path, &m); err != nil {
		return domain.Conversation{}, false, err
	}
	c, ok := m[peer]
	return c, ok, nil
}

// AllConversations returns every stored conversation.
func (s *RatchetFileStore) AllConversations() (map[domain.ConversationID]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, convFile)
	m := map[domain.ConversationID]domain.Conversation{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Compile-time assertion that RatchetFileStore implements domain.RatchetStore.
var _ domain.RatchetStore = (*RatchetFileStore)(nil)
