package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/eventbus"
)

// ErrPaused is returned by CheckInterrupt (and therefore by any checkpoint)
// when a pause signal was observed. Handlers should propagate it from Run
// unchanged so the pool can transition the job to "paused". Distinct
// sentinel identity (not shelferr.Error, whose Is compares by Kind alone)
// is required so errors.Is can tell it apart from ErrCancelled.
var ErrPaused = errors.New("job paused")

// ErrCancelled is returned by CheckInterrupt when a cancel signal was
// observed. Handlers should propagate it from Run unchanged.
var ErrCancelled = errors.New("job cancelled")

// Progress is the structured record a job reports via Context.Progress
// (§4.C "progress reporting").
type Progress struct {
	Phase         string
	CurrentPath   string
	FilesSeen     uint64
	DirsSeen      uint64
	SymlinksSeen  uint64
	BytesSeen     uint64
	RatePerSecond float64
	EstRemaining  *time.Duration
}

// Context is the per-job handle a Handler uses to yield, checkpoint,
// report progress, and accumulate non-critical errors (§4.D).
type Context struct {
	jobID string
	desc  Descriptor
	store Store
	bus   *eventbus.Bus
	ctrl  chan signal

	mu         sync.Mutex
	paused     bool
	cancelled  bool
	nonCritErr []string

	lastProgress   time.Time
	progressWindow time.Duration // minimum spacing between emitted progress records
}

// JobID returns the id of the job this Context belongs to.
func (c *Context) JobID() string { return c.jobID }

// CheckInterrupt is the single yield point observing pause/cancel signals
// (§4.D). It must be called periodically by long-running handler loops.
func (c *Context) CheckInterrupt() error {
	select {
	case s := <-c.ctrl:
		switch s {
		case signalPause:
			c.mu.Lock()
			c.paused = true
			c.mu.Unlock()
			return ErrPaused
		case signalCancel:
			c.mu.Lock()
			c.cancelled = true
			c.mu.Unlock()
			return ErrCancelled
		}
	default:
	}
	return nil
}

// Progress emits a progress record on the event bus (rate-limited so UIs
// never see more than a handful per second, §4.C) and persists it if the
// job is Persisted.
func (c *Context) Progress(ctx context.Context, p Progress) {
	c.mu.Lock()
	if time.Since(c.lastProgress) < c.progressWindow {
		c.mu.Unlock()
		return
	}
	c.lastProgress = time.Now()
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(eventbus.KindIndexing, eventbus.IndexingProgress{
			JobID:         c.jobID,
			Phase:         p.Phase,
			CurrentPath:   p.CurrentPath,
			FilesSeen:     p.FilesSeen,
			DirsSeen:      p.DirsSeen,
			SymlinksSeen:  p.SymlinksSeen,
			BytesSeen:     p.BytesSeen,
			RatePerSecond: p.RatePerSecond,
			EstRemaining:  p.EstRemaining,
		})
	}

	if c.desc.Persisted {
		if encoded, err := json.Marshal(p); err == nil {
			if err := c.store.SaveProgress(ctx, c.jobID, encoded); err != nil {
				logger.Warn("failed to persist job progress", "job", c.jobID, "error", err)
			}
		}
	}
}

// Checkpoint flushes the job row (state, non-critical errors) without
// changing the checkpoint blob. CheckInterrupt is implicit.
func (c *Context) Checkpoint(ctx context.Context) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}
	return c.flush(ctx, nil)
}

// CheckpointWithState serializes state and flushes it plus the job row
// transactionally. CheckInterrupt is implicit.
func (c *Context) CheckpointWithState(ctx context.Context, state any) error {
	if err := c.CheckInterrupt(); err != nil {
		return err
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return c.flush(ctx, blob)
}

func (c *Context) flush(ctx context.Context, blob []byte) error {
	c.mu.Lock()
	errs := append([]string(nil), c.nonCritErr...)
	c.mu.Unlock()

	encodedErrs, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	return c.store.Checkpoint(ctx, c.jobID, blob, encodedErrs)
}

// AddNonCriticalError accumulates e without failing the job (§4.D). Only the
// 100 most recent messages are kept; older ones are dropped.
func (c *Context) AddNonCriticalError(e error) {
	const maxNonCriticalErrors = 100
	c.mu.Lock()
	c.nonCritErr = append(c.nonCritErr, e.Error())
	if len(c.nonCritErr) > maxNonCriticalErrors {
		c.nonCritErr = c.nonCritErr[len(c.nonCritErr)-maxNonCriticalErrors:]
	}
	c.mu.Unlock()
}

// NonCriticalErrors returns the errors accumulated so far.
func (c *Context) NonCriticalErrors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.nonCritErr...)
}

// Log attaches a human-readable log line to the job.
func (c *Context) Log(msg string, args ...any) {
	logger.Info(msg, append([]any{"job", c.jobID}, args...)...)
}
