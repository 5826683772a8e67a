package connection

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/crypto"
)

// KeyStore persists the session keys a pairing handshake derived, so a
// later process restart can Connect without re-pairing. Rotation replaces
// both copies atomically (§5: "rotation replaces both copies atomically
// during the maintenance tick").
type KeyStore interface {
	Load(deviceID string) (*crypto.SessionKeys, error)
	Save(deviceID string, keys crypto.SessionKeys) error
}

// GormKeyStore persists session keys in PairedDevice.EncryptedSessionKeys.
// The column name anticipates at-rest encryption of the library database
// file itself (handled by the platform's disk encryption, out of this
// package's scope); this store serializes the key material as JSON into
// that column, matching how pkg/catalog already treats other blob columns
// on PairedDevice (KnownAddresses).
type GormKeyStore struct {
	db *gorm.DB
}

func NewGormKeyStore(db *gorm.DB) *GormKeyStore {
	return &GormKeyStore{db: db}
}

func (s *GormKeyStore) Load(deviceID string) (*crypto.SessionKeys, error) {
	var device catalog.PairedDevice
	if err := s.db.Where("device_id = ?", deviceID).First(&device).Error; err != nil {
		return nil, fmt.Errorf("load paired device %s: %w", deviceID, err)
	}
	if len(device.EncryptedSessionKeys) == 0 {
		return nil, fmt.Errorf("no session keys recorded for device %s", deviceID)
	}
	var keys crypto.SessionKeys
	if err := json.Unmarshal(device.EncryptedSessionKeys, &keys); err != nil {
		return nil, fmt.Errorf("decode session keys for device %s: %w", deviceID, err)
	}
	return &keys, nil
}

func (s *GormKeyStore) Save(deviceID string, keys crypto.SessionKeys) error {
	encoded, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("encode session keys for device %s: %w", deviceID, err)
	}
	return s.db.Model(&catalog.PairedDevice{}).
		Where("device_id = ?", deviceID).
		Update("encrypted_session_keys", encoded).Error
}

// MemoryKeyStore is an in-process KeyStore, used in tests and for the
// ephemeral-only case where no library database is attached yet.
type MemoryKeyStore struct {
	keys map[string]crypto.SessionKeys
}

func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]crypto.SessionKeys)}
}

func (s *MemoryKeyStore) Load(deviceID string) (*crypto.SessionKeys, error) {
	keys, ok := s.keys[deviceID]
	if !ok {
		return nil, fmt.Errorf("no session keys recorded for device %s", deviceID)
	}
	return &keys, nil
}

func (s *MemoryKeyStore) Save(deviceID string, keys crypto.SessionKeys) error {
	s.keys[deviceID] = keys
	return nil
}
