package sidecar

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/crypto"
	"github.com/shelffs/shelf/pkg/scheduler"
	"github.com/shelffs/shelf/pkg/shelferr"
	"github.com/shelffs/shelf/pkg/sidecar/blobstore"
)

// GenerateFunc produces the bytes of one sidecar artifact. Registered per
// Kind; a single function may branch on req.Variant for kinds that produce
// more than one size/quality variant (e.g. thumb at several resolutions).
type GenerateFunc func(ctx context.Context, req GenerationRequest) ([]byte, error)

// Manager implements the Sidecar Manager (§4.H): addressing, existence
// checks, generate-on-demand enqueueing with at-most-one-in-flight
// deduplication, and bootstrap reconciliation against filesystem truth.
type Manager struct {
	db      *gorm.DB
	backend blobstore.Backend
	pool    *scheduler.Pool

	mu         sync.Mutex
	generators map[catalog.SidecarKind]GenerateFunc
	inflight   map[string]struct{}
}

// NewManager builds a Manager. pool may be nil if the caller only ever
// calls RecordSidecar/CreateReferenceSidecar/Exists (e.g. a read-only
// replica) and never GetOrEnqueue.
func NewManager(db *gorm.DB, backend blobstore.Backend, pool *scheduler.Pool) *Manager {
	return &Manager{
		db:         db,
		backend:    backend,
		pool:       pool,
		generators: make(map[catalog.SidecarKind]GenerateFunc),
		inflight:   make(map[string]struct{}),
	}
}

// RegisterGenerator wires the producer for one sidecar kind. Must be called
// before any GetOrEnqueue request for that kind.
func (m *Manager) RegisterGenerator(kind catalog.SidecarKind, fn GenerateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generators[kind] = fn
}

// Exists inspects filesystem truth for one artifact (§4.H: "exists(..)
// inspects filesystem truth"), independent of what the database row says.
func (m *Manager) Exists(ctx context.Context, contentUUID string, kind catalog.SidecarKind, variant, format string) (bool, error) {
	relPath, err := ContentPath(contentUUID, kind, variant, format)
	if err != nil {
		return false, err
	}
	return m.backend.Exists(ctx, relPath)
}

// GetOrEnqueue returns Ready(path) if the artifact file exists AND its DB
// row is ready; otherwise it enqueues a generation job (deduplicated by the
// at-most-one-in-flight invariant), inserts or confirms a pending row, and
// returns Pending (§4.H).
func (m *Manager) GetOrEnqueue(ctx context.Context, req GenerationRequest) (LookupResult, error) {
	relPath, err := ContentPath(req.ContentUUID, req.Kind, req.Variant, req.Format)
	if err != nil {
		return LookupResult{}, err
	}

	var row catalog.Sidecar
	rowErr := m.db.WithContext(ctx).
		Where("content_uuid = ? AND kind = ? AND variant = ?", req.ContentUUID, req.Kind, req.Variant).
		First(&row).Error

	switch {
	case rowErr == nil && row.Status == catalog.SidecarStatusReady:
		exists, err := m.backend.Exists(ctx, relPath)
		if err != nil {
			return LookupResult{}, err
		}
		if exists {
			return LookupResult{Outcome: OutcomeReady, Path: relPath}, nil
		}
		// DB says ready but the file is gone: fall through and re-enqueue,
		// the same recovery path the bootstrap scan takes for a missing
		// file.
		if err := m.markFailed(ctx, row.ID, "sidecar file missing on disk"); err != nil {
			return LookupResult{}, err
		}

	case rowErr == nil && row.Status == catalog.SidecarStatusPending:
		// Another caller's request is already in flight (or was, before a
		// restart lost the in-memory inflight set); don't double-enqueue.
		return LookupResult{Outcome: OutcomePending}, nil

	case rowErr != nil && !errors.Is(rowErr, gorm.ErrRecordNotFound):
		return LookupResult{}, shelferr.Wrap(shelferr.Fatal, "query sidecar row", rowErr)
	}

	if err := m.enqueue(ctx, req); err != nil {
		return LookupResult{}, err
	}
	return LookupResult{Outcome: OutcomePending}, nil
}

func (m *Manager) enqueue(ctx context.Context, req GenerationRequest) error {
	m.mu.Lock()
	key := req.key()
	if _, inFlight := m.inflight[key]; inFlight {
		m.mu.Unlock()
		return nil
	}
	generate, ok := m.generators[req.Kind]
	if !ok {
		m.mu.Unlock()
		return shelferr.Invalidf("no generator registered for sidecar kind %q", req.Kind)
	}
	m.inflight[key] = struct{}{}
	m.mu.Unlock()

	if err := m.upsertPendingRow(ctx, req); err != nil {
		m.clearInflight(key)
		return err
	}

	if m.pool == nil {
		m.clearInflight(key)
		return shelferr.Invalidf("sidecar manager has no job pool configured")
	}

	job := &generationJob{manager: m, req: req, generate: generate}
	if _, err := m.pool.Submit(ctx, scheduler.Descriptor{
		Name:      "sidecar-generate",
		Kind:      string(req.Kind),
		Persisted: true,
		Priority:  scheduler.PriorityLow,
	}, job); err != nil {
		m.clearInflight(key)
		return shelferr.Wrap(shelferr.Fatal, "submit sidecar generation job", err)
	}
	return nil
}

// upsertPendingRow inserts a fresh pending row, or flips an existing
// failed/ready-but-missing row back to pending for a retry.
func (m *Manager) upsertPendingRow(ctx context.Context, req GenerationRequest) error {
	res := m.db.WithContext(ctx).Model(&catalog.Sidecar{}).
		Where("content_uuid = ? AND kind = ? AND variant = ?", req.ContentUUID, req.Kind, req.Variant).
		Updates(map[string]any{"format": req.Format, "status": catalog.SidecarStatusPending})
	if res.Error != nil {
		return shelferr.Wrap(shelferr.Fatal, "reset sidecar row to pending", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	row := catalog.Sidecar{
		ContentUUID: req.ContentUUID,
		Kind:        req.Kind,
		Variant:     req.Variant,
		Format:      req.Format,
		Status:      catalog.SidecarStatusPending,
		Version:     1,
	}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		return shelferr.Wrap(shelferr.Fatal, "insert pending sidecar row", err)
	}
	return nil
}

func (m *Manager) clearInflight(key string) {
	m.mu.Lock()
	delete(m.inflight, key)
	m.mu.Unlock()
}

// RecordSidecar upserts a ready row with size/checksum after generation
// succeeds and updates the local device's availability row (§4.H).
func (m *Manager) RecordSidecar(ctx context.Context, req GenerationRequest, data []byte, localDeviceUUID string) error {
	relPath, err := ContentPath(req.ContentUUID, req.Kind, req.Variant, req.Format)
	if err != nil {
		return err
	}
	if err := m.backend.Write(ctx, relPath, data); err != nil {
		return err
	}
	hash := crypto.ContentHash(data)
	checksum := hex.EncodeToString(hash[:])

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&catalog.Sidecar{}).
			Where("content_uuid = ? AND kind = ? AND variant = ?", req.ContentUUID, req.Kind, req.Variant).
			Updates(map[string]any{
				"format":   req.Format,
				"rel_path": relPath,
				"size":     uint64(len(data)),
				"checksum": checksum,
				"status":   catalog.SidecarStatusReady,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			row := catalog.Sidecar{
				ContentUUID: req.ContentUUID,
				Kind:        req.Kind,
				Variant:     req.Variant,
				Format:      req.Format,
				RelPath:     relPath,
				Size:        uint64(len(data)),
				Checksum:    checksum,
				Status:      catalog.SidecarStatusReady,
				Version:     1,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		if localDeviceUUID == "" {
			return nil
		}
		return upsertAvailability(tx, req, localDeviceUUID, uint64(len(data)), checksum)
	})
	if err != nil {
		return shelferr.Wrap(shelferr.Fatal, "record sidecar", err)
	}
	return nil
}

func upsertAvailability(tx *gorm.DB, req GenerationRequest, deviceUUID string, size uint64, checksum string) error {
	res := tx.Model(&catalog.SidecarAvailability{}).
		Where("content_uuid = ? AND kind = ? AND variant = ? AND device_uuid = ?",
			req.ContentUUID, req.Kind, req.Variant, deviceUUID).
		Updates(map[string]any{"has": true, "size": size, "checksum": checksum, "last_seen_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return tx.Create(&catalog.SidecarAvailability{
		ContentUUID: req.ContentUUID,
		Kind:        req.Kind,
		Variant:     req.Variant,
		DeviceUUID:  deviceUUID,
		Has:         true,
		Size:        size,
		Checksum:    checksum,
		LastSeenAt:  time.Now(),
	}).Error
}

// CreateReferenceSidecar creates a ready row whose file lives inside the
// source entry rather than under the sidecar tree — used when an existing
// file (e.g. an embedded thumbnail, a sidecar .xmp the OS already wrote)
// already satisfies the artifact contract without copying it (§4.H).
func (m *Manager) CreateReferenceSidecar(ctx context.Context, req GenerationRequest, sourceRelPath string, size uint64, checksum string) error {
	row := catalog.Sidecar{
		ContentUUID: req.ContentUUID,
		Kind:        req.Kind,
		Variant:     req.Variant,
		Format:      req.Format,
		RelPath:     sourceRelPath,
		Size:        size,
		Checksum:    checksum,
		Status:      catalog.SidecarStatusReady,
		Source:      "reference",
		Version:     1,
	}
	if err := m.db.WithContext(ctx).Create(&row).Error; err != nil {
		return shelferr.Wrap(shelferr.Fatal, "create reference sidecar row", err)
	}
	return nil
}

func (m *Manager) markFailed(ctx context.Context, id uint64, reason string) error {
	err := m.db.WithContext(ctx).Model(&catalog.Sidecar{}).
		Where("id = ?", id).
		Update("status", catalog.SidecarStatusFailed).Error
	if err != nil {
		return shelferr.Wrap(shelferr.Fatal, "mark sidecar failed", err)
	}
	logger.Warn("sidecar: marked failed", "sidecar_id", id, "reason", reason)
	return nil
}
