package store

import (
	"path/filepath"
	"sync"

	"ciphera/internal/domain"
)

const devicesFile = "devices.json"

// DeviceFileStore persists each username's device registry.
type DeviceFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewDeviceFileStore returns a DeviceFileStore rooted at dir.
func NewDeviceFileStore(dir string) *DeviceFileStore { return &DeviceFileStore{dir: dir} }

// SaveDevices replaces the full device list for owner.
func (s *DeviceFileStore) SaveDevices(owner domain.Username, devices []domain.DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, devicesFile)
	m := map[domain.Username][]domain.DeviceRecord{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	m[owner] = devices
	return writeJSON(path, m, 0o600)
}

// LoadDevices returns owner's registered devices, if any.
func (s *DeviceFileStore) LoadDevices(owner domain.Username) ([]domain.DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, devicesFile)
	m := map[domain.Username][]domain.DeviceRecord{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	return m[owner], nil
}

// Compile-time assertion that DeviceFileStore implements domain.DeviceRegistryStore.
var _ domain.DeviceRegistryStore = (*DeviceFileStore)(nil)
