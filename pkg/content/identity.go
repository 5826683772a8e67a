package content

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
)

// Resolver maps a file on disk to its durable ContentIdentity row, creating
// one on first sight and bumping entry_count/last_verified_at on repeats
// (§4.B: "a repeat sighting of the same cas_id increments entry_count and
// refreshes last_verified_at rather than inserting a new row").
type Resolver struct {
	db    *gorm.DB
	cache *ShadowCache // optional; nil disables the fast path
}

// NewResolver builds a Resolver. cache may be nil to run without the shadow
// cache (every lookup then hits the catalog database directly).
func NewResolver(db *gorm.DB, cache *ShadowCache) *Resolver {
	return &Resolver{db: db, cache: cache}
}

// Resolve computes path's cas_id and returns the ContentIdentity it belongs
// to, creating or updating that row as needed.
func (r *Resolver) Resolve(path string) (*catalog.ContentIdentity, error) {
	casID, size, err := GenerateCasID(path)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if id, found, cerr := r.cache.Lookup(casID); cerr == nil && found {
			var identity catalog.ContentIdentity
			if err := r.db.First(&identity, id).Error; err == nil {
				return r.touch(&identity)
			}
			// Cache pointed at a row that no longer exists; fall through to
			// the authoritative catalog lookup below.
		}
	}

	var identity catalog.ContentIdentity
	err = r.db.Where("cas_id = ?", casID).First(&identity).Error
	switch {
	case err == nil:
		if r.cache != nil {
			_ = r.cache.Record(casID, identity.ID)
		}
		return r.touch(&identity)
	case err == gorm.ErrRecordNotFound:
		identity = catalog.ContentIdentity{
			UUID:           uuid.NewString(),
			CasID:          casID,
			CasVersion:     CasVersion,
			TotalSize:      size,
			EntryCount:     1,
			FirstSeenAt:    time.Now(),
			LastVerifiedAt: time.Now(),
			Kind:           catalog.ContentKindGeneric,
		}
		if err := r.db.Create(&identity).Error; err != nil {
			return nil, err
		}
		if r.cache != nil {
			_ = r.cache.Record(casID, identity.ID)
		}
		return &identity, nil
	default:
		return nil, err
	}
}

func (r *Resolver) touch(identity *catalog.ContentIdentity) (*catalog.ContentIdentity, error) {
	identity.EntryCount++
	identity.LastVerifiedAt = time.Now()
	if err := r.db.Model(identity).Updates(map[string]any{
		"entry_count":      identity.EntryCount,
		"last_verified_at": identity.LastVerifiedAt,
	}).Error; err != nil {
		return nil, err
	}
	return identity, nil
}
