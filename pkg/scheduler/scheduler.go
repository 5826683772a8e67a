// Package scheduler runs named, resumable jobs under a bounded worker pool
// (§4.D). One job has one handler; handlers are polymorphic over
// {Run, OnResume, OnPause, OnCancel}. Each job gets a Context used to yield
// at interrupt points, checkpoint state transactionally, and report
// progress on the event bus.
//
// Grounded on the teacher's pkg/payload/offloader/offloader.go concurrency
// idioms (a semaphore channel bounding concurrent work, sync.WaitGroup
// tracking in-flight tasks, a graceful Close with a shutdown timeout), but
// the concurrency bound is a golang.org/x/sync/semaphore rather than a
// hand-rolled channel semaphore: x/sync is already in the teacher's go.mod
// and unused in the kept tree, so this is a "wire it" resolution rather
// than a dropped dependency.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/shelferr"
)

// Handler is the polymorphic contract a job implements (§4.D).
type Handler interface {
	// Run executes the job body, yielding at Context.CheckInterrupt.
	Run(ctx context.Context, jc *Context) error
	// OnResume is invoked before Run when a job restarts from a checkpoint.
	// It may validate or adjust the restored state before Run begins.
	OnResume(ctx context.Context, jc *Context) error
	// OnPause is invoked when a pause request is observed, before Run
	// returns control to the scheduler.
	OnPause(ctx context.Context, jc *Context) error
	// OnCancel is invoked when a cancel request is observed.
	OnCancel(ctx context.Context, jc *Context) error
}

// Descriptor declares a job's scheduling flags and identity.
type Descriptor struct {
	Name       string
	Kind       string
	Resumable  bool
	Persisted  bool
	Priority   Priority
}

// Priority labels a job's importance. Pool does not read it: queued jobs
// take free slots in the order they asked for them, and a running job is
// never preempted.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// signal is the cooperative control state observed at CheckInterrupt.
type signal int

const (
	signalNone signal = iota
	signalPause
	signalCancel
)

// Pool runs jobs under a bounded concurrency limit, backed by a persistence
// Store for checkpointing and the Library's event bus for progress.
type Pool struct {
	sem   *semaphore.Weighted
	store Store
	bus   *eventbus.Bus

	mu      sync.Mutex
	running map[string]*handle // jobID -> handle
	wg      sync.WaitGroup

	shutdownTimeout time.Duration
}

type handle struct {
	cancel context.CancelFunc
	ctrl   chan signal
	done   chan struct{}
}

// NewPool builds a Pool allowing at most maxConcurrent jobs to run at once.
func NewPool(maxConcurrent int64, store Store, bus *eventbus.Bus) *Pool {
	return &Pool{
		sem:             semaphore.NewWeighted(maxConcurrent),
		store:           store,
		bus:             bus,
		running:         make(map[string]*handle),
		shutdownTimeout: 30 * time.Second,
	}
}

// Submit starts desc under handler, persisting a Job row and starting a
// goroutine that waits for a pool slot. Submit returns once the row exists;
// the job itself runs asynchronously and reports completion via the event bus.
func (p *Pool) Submit(ctx context.Context, desc Descriptor, handler Handler) (jobID string, err error) {
	job, err := p.store.CreateJob(ctx, desc)
	if err != nil {
		return "", fmt.Errorf("create job row: %w", err)
	}

	p.startLocked(ctx, job.UUID, desc, handler, false)
	return job.UUID, nil
}

// Resume restarts a previously checkpointed, resumable job.
func (p *Pool) Resume(ctx context.Context, jobID string, handler Handler) error {
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if !job.Resumable {
		return shelferr.Invalidf("job %s is not resumable", jobID)
	}

	desc := Descriptor{Name: job.Name, Kind: job.Kind, Resumable: job.Resumable, Persisted: job.Persisted}
	p.startLocked(ctx, job.UUID, desc, handler, true)
	return nil
}

func (p *Pool) startLocked(parent context.Context, jobID string, desc Descriptor, handler Handler, resumed bool) {
	runCtx, cancel := context.WithCancel(parent)
	h := &handle{
		cancel: cancel,
		ctrl:   make(chan signal, 1),
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	p.running[jobID] = h
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(runCtx, jobID, desc, handler, resumed, h)
}

func (p *Pool) run(ctx context.Context, jobID string, desc Descriptor, handler Handler, resumed bool, h *handle) {
	defer p.wg.Done()
	defer close(h.done)
	defer func() {
		p.mu.Lock()
		delete(p.running, jobID)
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.fail(ctx, jobID, desc, fmt.Errorf("acquire worker slot: %w", err))
		return
	}
	defer p.sem.Release(1)

	jc := &Context{
		jobID:          jobID,
		desc:           desc,
		store:          p.store,
		bus:            p.bus,
		ctrl:           h.ctrl,
		progressWindow: 200 * time.Millisecond,
	}

	p.transition(ctx, jobID, desc.Name, "pending", "running")

	if resumed {
		if err := handler.OnResume(ctx, jc); err != nil {
			p.fail(ctx, jobID, desc, fmt.Errorf("on_resume: %w", err))
			return
		}
	}

	err := handler.Run(ctx, jc)
	switch {
	case err == nil:
		p.complete(ctx, jobID, desc, jc)
	case errors.Is(err, ErrPaused):
		if perr := handler.OnPause(ctx, jc); perr != nil {
			logger.Warn("on_pause handler failed", "job", jobID, "error", perr)
		}
		if serr := p.store.FinishJob(ctx, jobID, "paused"); serr != nil {
			logger.Warn("failed to persist job pause", "job", jobID, "error", serr)
		}
		p.transition(ctx, jobID, desc.Name, "running", "paused")
	case errors.Is(err, ErrCancelled):
		if cerr := handler.OnCancel(ctx, jc); cerr != nil {
			logger.Warn("on_cancel handler failed", "job", jobID, "error", cerr)
		}
		if serr := p.store.FinishJob(ctx, jobID, "cancelled"); serr != nil {
			logger.Warn("failed to persist job cancellation", "job", jobID, "error", serr)
		}
		p.transition(ctx, jobID, desc.Name, "running", "cancelled")
	default:
		p.fail(ctx, jobID, desc, err)
	}
}

func (p *Pool) complete(ctx context.Context, jobID string, desc Descriptor, jc *Context) {
	if err := p.store.FinishJob(ctx, jobID, "completed"); err != nil {
		logger.Warn("failed to persist job completion", "job", jobID, "error", err)
	}
	p.transition(ctx, jobID, desc.Name, "running", "completed")
}

func (p *Pool) fail(ctx context.Context, jobID string, desc Descriptor, cause error) {
	logger.Warn("job failed", "job", jobID, "error", cause)
	if err := p.store.FinishJob(ctx, jobID, "failed"); err != nil {
		logger.Warn("failed to persist job failure", "job", jobID, "error", err)
	}
	p.transition(ctx, jobID, desc.Name, "running", "failed")
}

func (p *Pool) transition(_ context.Context, jobID, name, from, to string) {
	if p.bus != nil {
		p.bus.Publish(eventbus.KindJob, eventbus.JobStateChanged{
			JobID: jobID,
			Name:  name,
			From:  from,
			To:    to,
		})
	}
}

// Pause requests a cooperative pause of jobID; the job observes it at its
// next CheckInterrupt or checkpoint.
func (p *Pool) Pause(jobID string) error {
	return p.signal(jobID, signalPause)
}

// Cancel requests cooperative cancellation of jobID.
func (p *Pool) Cancel(jobID string) error {
	return p.signal(jobID, signalCancel)
}

func (p *Pool) signal(jobID string, s signal) error {
	p.mu.Lock()
	h, ok := p.running[jobID]
	p.mu.Unlock()
	if !ok {
		return shelferr.NotFoundf("job", jobID)
	}
	select {
	case h.ctrl <- s:
	default:
		// A signal is already pending; the job will observe it shortly.
	}
	return nil
}

// ForceAbort cancels jobID's context without waiting for cooperative
// shutdown and marks its row failed (§4.D "force abort").
func (p *Pool) ForceAbort(ctx context.Context, jobID string) error {
	p.mu.Lock()
	h, ok := p.running[jobID]
	p.mu.Unlock()
	if !ok {
		return shelferr.NotFoundf("job", jobID)
	}
	h.cancel()
	return p.store.FinishJob(ctx, jobID, "failed")
}

// RunningCount returns the number of started jobs that have not finished,
// including any still waiting for a pool slot.
func (p *Pool) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// Shutdown cancels every running job and waits up to the pool's shutdown
// timeout for them to unwind.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	handles := make([]*handle, 0, len(p.running))
	for _, h := range p.running {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		select {
		case h.ctrl <- signalCancel:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.shutdownTimeout):
		for _, h := range handles {
			h.cancel()
		}
		<-done
	}
}
