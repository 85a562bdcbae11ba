package app

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ciphera/internal/domain"
)

const deviceIDFile = "device_id"

// LoadOrCreateDeviceID returns the stable device id for this installation,
// generating and persisting a fresh one under homeDir on first run. Unlike
// the identity key, the device id is not secret: it only labels which
// installation a conversation binding targets.
func LoadOrCreateDeviceID(homeDir string) (domain.DeviceID, error) {
	path := filepath.Join(homeDir, deviceIDFile)

	if b, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(b)); id != "" {
			return domain.DeviceID(id), nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return domain.DeviceID(id), nil
}
