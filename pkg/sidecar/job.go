package sidecar

import (
	"context"

	"github.com/shelffs/shelf/pkg/scheduler"
)

// generationJob runs one GenerateFunc under the job pool and records the
// result, clearing the in-flight slot regardless of outcome so a later
// request for the same (content_uuid, kind, variant) can retry.
type generationJob struct {
	manager  *Manager
	req      GenerationRequest
	generate GenerateFunc
}

func (j *generationJob) Run(ctx context.Context, jc *scheduler.Context) error {
	defer j.manager.clearInflight(j.req.key())

	if err := jc.CheckInterrupt(); err != nil {
		return err
	}

	data, err := j.generate(ctx, j.req)
	if err != nil {
		if markErr := j.manager.markFailed(ctx, j.rowID(ctx), err.Error()); markErr != nil {
			return markErr
		}
		return err
	}

	return j.manager.RecordSidecar(ctx, j.req, data, "")
}

// rowID looks up the pending row's id for markFailed; a miss is tolerated
// since markFailed is best-effort bookkeeping, not the source of truth for
// whether generation failed.
func (j *generationJob) rowID(ctx context.Context) uint64 {
	var row struct{ ID uint64 }
	j.manager.db.WithContext(ctx).Table("sidecars").
		Select("id").
		Where("content_uuid = ? AND kind = ? AND variant = ?", j.req.ContentUUID, j.req.Kind, j.req.Variant).
		Scan(&row)
	return row.ID
}

// generationJob has no meaningful pause/resume/cancel semantics: generation
// is a single bounded call, not a long-running walk with internal
// checkpoints, so OnResume restarts Run from the top and OnPause/OnCancel
// leave the pending row as-is for a later retry.
func (j *generationJob) OnResume(ctx context.Context, jc *scheduler.Context) error { return nil }
func (j *generationJob) OnPause(ctx context.Context, jc *scheduler.Context) error  { return nil }
func (j *generationJob) OnCancel(ctx context.Context, jc *scheduler.Context) error { return nil }
