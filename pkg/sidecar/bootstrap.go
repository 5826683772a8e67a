package sidecar

import (
	"context"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/shelferr"
)

// BootstrapResult summarizes one reconciliation pass.
type BootstrapResult struct {
	Checked     int
	MarkedFailed int
	Reenqueued  int
}

// BootstrapScan walks the sidecar tree and reconciles filesystem truth
// against the database (§4.H: "on library open, walk the sidecar directory,
// reconcile presence with the DB, and mark missing-file rows as failed or
// re-enqueue"). A row whose file is missing is re-enqueued when a
// generator is registered for its kind and a job pool is configured;
// otherwise it is simply marked failed for the caller to surface.
func (m *Manager) BootstrapScan(ctx context.Context) (BootstrapResult, error) {
	present := make(map[string]struct{})
	err := m.backend.Walk(ctx, "sidecars/content", func(relPath string) error {
		present[relPath] = struct{}{}
		return nil
	})
	if err != nil {
		return BootstrapResult{}, err
	}

	var ready []catalog.Sidecar
	if err := m.db.WithContext(ctx).
		Where("status = ?", catalog.SidecarStatusReady).
		Find(&ready).Error; err != nil {
		return BootstrapResult{}, shelferr.Wrap(shelferr.Fatal, "list ready sidecars", err)
	}

	result := BootstrapResult{Checked: len(ready)}
	for _, row := range ready {
		if _, ok := present[row.RelPath]; ok {
			continue
		}
		// A reference sidecar's file lives outside the managed tree, so its
		// absence from the Walk is expected, not a reconciliation failure.
		if row.Source == "reference" {
			continue
		}

		if err := m.markFailed(ctx, row.ID, "missing at bootstrap scan"); err != nil {
			return result, err
		}
		result.MarkedFailed++

		m.mu.Lock()
		_, hasGenerator := m.generators[row.Kind]
		m.mu.Unlock()
		if hasGenerator && m.pool != nil {
			req := GenerationRequest{ContentUUID: row.ContentUUID, Kind: row.Kind, Variant: row.Variant, Format: row.Format}
			if err := m.enqueue(ctx, req); err != nil {
				logger.Warn("sidecar: bootstrap re-enqueue failed", "content_uuid", row.ContentUUID, "kind", row.Kind, "error", err)
				continue
			}
			result.Reenqueued++
		}
	}
	return result, nil
}
