package content

import (
	badgerdb "github.com/dgraph-io/badger/v4"
)

// ShadowCache is a fast cas_id -> content_identity_id lookup sitting in front
// of the library database. Indexing a large library means hashing a large
// number of files and checking "have we seen this content before" on every
// one of them; a badger-backed cache keeps that check off the SQL hot path.
// It is a cache, not a source of truth: a miss here always falls back to a
// catalog query, and the catalog write wins on any disagreement.
//
// Grounded on pkg/metadata/store/badger/server.go's db.Update/db.View
// transaction idiom and key-encoding-function style.
type ShadowCache struct {
	db *badgerdb.DB
}

// OpenShadowCache opens (creating if absent) the badger database rooted at
// dir. Badger's own background compaction and value-log GC run on its
// default schedule; shelf does not tune badger options beyond the directory.
func OpenShadowCache(dir string) (*ShadowCache, error) {
	opts := badgerdb.DefaultOptions(dir).WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, err
	}
	return &ShadowCache{db: db}, nil
}

// Close releases the underlying badger handle.
func (c *ShadowCache) Close() error {
	return c.db.Close()
}

func casKey(casID string) []byte {
	return append([]byte("cas:"), []byte(casID)...)
}

// Lookup returns the content_identity id previously recorded for casID, and
// whether an entry existed.
func (c *ShadowCache) Lookup(casID string) (contentID uint64, found bool, err error) {
	err = c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(casKey(casID))
		if err == badgerdb.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			contentID = decodeUint64(val)
			return nil
		})
	})
	return contentID, found, err
}

// Record associates casID with contentID for future lookups.
func (c *ShadowCache) Record(casID string, contentID uint64) error {
	return c.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(casKey(casID), encodeUint64(contentID))
	})
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(n >> (8 * (7 - i)))
	}
	return buf
}

func decodeUint64(buf []byte) uint64 {
	var n uint64
	for i := 0; i < 8 && i < len(buf); i++ {
		n = n<<8 | uint64(buf[i])
	}
	return n
}
