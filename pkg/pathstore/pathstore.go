// Package pathstore implements the Content-Addressed Path Store (§4.A): it
// keeps indexing from writing the full absolute directory path on every
// entry row by interning shared parent directories into a small PathPrefix
// table.
package pathstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
)

// Store interns (device_id, parent_path) pairs into PathPrefix rows, caching
// lookups for the duration of one indexing run. A single run's Intern calls
// may be issued from multiple goroutines.
type Store struct {
	mu    sync.Mutex
	cache map[cacheKey]uint64 // (deviceID, parent dir) -> prefix row id
}

type cacheKey struct {
	deviceID string
	prefix   string
}

// New returns a Store with an empty per-run cache.
func New() *Store {
	return &Store{cache: make(map[cacheKey]uint64)}
}

// Intern resolves fullPath's parent directory under deviceID to a
// PathPrefix row, inserting one if none exists yet, and returns the prefix
// id plus fullPath with that prefix stripped and any leading separator
// removed (§4.A). A path equal to its own parent prefix — the root entry of
// a location, whose path was registered as the prefix itself — yields
// relative = "".
//
// Callers must run this inside the same transaction that inserts the
// dependent Entry row: on rollback and retry, interning is idempotent
// because the lookup-then-insert happens again against the same tx.
func (s *Store) Intern(tx *gorm.DB, deviceID, fullPath string) (prefixID uint64, relative string, err error) {
	parent := filepath.Dir(fullPath)

	id, err := s.lookupOrInsert(tx, deviceID, parent)
	if err != nil {
		return 0, "", err
	}

	return id, Relative(parent, fullPath), nil
}

// InternRoot interns rootPath itself (rather than its parent) as a
// PathPrefix row, for the single root Entry of a location: its relative
// path is always "" per the convention documented on Intern.
func (s *Store) InternRoot(tx *gorm.DB, deviceID, rootPath string) (prefixID uint64, err error) {
	return s.lookupOrInsert(tx, deviceID, rootPath)
}

func (s *Store) lookupOrInsert(tx *gorm.DB, deviceID, parent string) (uint64, error) {
	key := cacheKey{deviceID: deviceID, prefix: parent}

	s.mu.Lock()
	if id, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var prefix catalog.PathPrefix
	err := tx.Where("device_id = ? AND prefix = ?", deviceID, parent).First(&prefix).Error
	switch {
	case err == nil:
		// found
	case err == gorm.ErrRecordNotFound:
		prefix = catalog.PathPrefix{DeviceID: deviceID, Prefix: parent}
		if err := tx.Create(&prefix).Error; err != nil {
			return 0, fmt.Errorf("insert path prefix: %w", err)
		}
	default:
		return 0, fmt.Errorf("lookup path prefix: %w", err)
	}

	s.mu.Lock()
	s.cache[key] = prefix.ID
	s.mu.Unlock()

	return prefix.ID, nil
}

// Relative computes the relative form of fullPath once prefix has already
// been interned: fullPath with prefix stripped and any leading separator
// removed. fullPath equal to prefix yields "".
func Relative(prefix, fullPath string) string {
	if fullPath == prefix {
		return ""
	}
	rel := strings.TrimPrefix(fullPath, prefix)
	return strings.TrimPrefix(rel, "/")
}
