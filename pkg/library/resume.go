package library

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/indexer"
)

// resumeInterruptedJobs reconstructs an Indexer from each indexer job left
// running or paused by a prior process (crash, SIGKILL, or a cooperative
// pause that was never explicitly resumed) and hands it to Pool.Resume, so
// §4.C's "resume mid-discovery" contract is reachable outside tests. A
// rescan job's reconstructed Indexer is safe to re-enter: ensureRootEntry
// and the front-drained queues in State make Run idempotent regardless of
// how far the prior process got.
func (l *Library) resumeInterruptedJobs(ctx context.Context) error {
	var jobs []catalog.Job
	err := l.DB.WithContext(ctx).
		Where("kind = ? AND resumable = ? AND state IN ?", "indexer", true,
			[]catalog.JobState{catalog.JobStateRunning, catalog.JobStatePaused}).
		Find(&jobs).Error
	if err != nil {
		return fmt.Errorf("list interruptible jobs: %w", err)
	}

	for _, job := range jobs {
		state := &indexer.State{}
		if err := json.Unmarshal(job.CheckpointBlob, state); err != nil {
			logger.Warn("library: dropping unresumable job, corrupt checkpoint", "job", job.UUID, "error", err)
			continue
		}

		ix := indexer.New(l.DB, l.Paths, l.Content, nil, state)
		if err := l.Pool.Resume(ctx, job.UUID, ix); err != nil {
			logger.Warn("library: failed to resume indexer job", "job", job.UUID, "error", err)
			continue
		}
		logger.Info("library: resumed indexer job", "job", job.UUID, "phase", string(state.Phase))
	}

	return nil
}
