package watcher

import (
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/shelferr"
)

// FSNotify is a Watcher built on fsnotify's native OS notification APIs.
// fsnotify itself only watches individual directories, not subtrees, so
// Add walks root once to register every subdirectory, and a Create event
// for a new directory triggers registering it too — the same manual
// recursive-watch idiom fsnotify's own documentation recommends, grounded
// on the teacher's select-loop-over-Events/Errors usage in its log
// follower (cmd/dittofs/commands/logs.go).
type FSNotify struct {
	inner *fsnotify.Watcher

	events chan Event
	errors chan error
	done   chan struct{}

	mu    sync.Mutex
	roots map[string]struct{}
}

// NewFSNotify constructs an FSNotify adapter and starts its translation
// goroutine. Call Close when done to release the underlying OS watch.
func NewFSNotify() (*FSNotify, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, shelferr.Wrap(shelferr.Fatal, "create fsnotify watcher", err)
	}

	w := &FSNotify{
		inner:  inner,
		events: make(chan Event, 256),
		errors: make(chan error, 16),
		done:   make(chan struct{}),
		roots:  make(map[string]struct{}),
	}
	go w.run()
	return w, nil
}

func (w *FSNotify) Add(root string) error {
	w.mu.Lock()
	w.roots[root] = struct{}{}
	w.mu.Unlock()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.inner.Add(path)
	})
}

func (w *FSNotify) Remove(root string) error {
	w.mu.Lock()
	delete(w.roots, root)
	w.mu.Unlock()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // best-effort: root may already be gone
		}
		if !d.IsDir() {
			return nil
		}
		_ = w.inner.Remove(path)
		return nil
	})
}

func (w *FSNotify) Events() <-chan Event { return w.events }
func (w *FSNotify) Errors() <-chan error { return w.errors }

func (w *FSNotify) Close() error {
	err := w.inner.Close()
	close(w.done)
	return err
}

func (w *FSNotify) run() {
	defer close(w.events)
	defer close(w.errors)

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			w.translate(ev)

		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			w.dispatchError(err)
		}
	}
}

func (w *FSNotify) translate(ev fsnotify.Event) {
	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		w.dispatch(Event{Kind: EventCreate, Path: ev.Name})
		w.watchIfNewDir(ev.Name)

	case ev.Op&fsnotify.Write == fsnotify.Write, ev.Op&fsnotify.Chmod == fsnotify.Chmod:
		w.dispatch(Event{Kind: EventUpdate, Path: ev.Name})

	case ev.Op&fsnotify.Rename == fsnotify.Rename:
		// fsnotify reports a rename as the old path vanishing; it cannot
		// correlate it with the corresponding create at the new path, so
		// this is surfaced as a delete of the old path (see Event's doc
		// comment on EventRename).
		w.dispatch(Event{Kind: EventDelete, Path: ev.Name})

	case ev.Op&fsnotify.Remove == fsnotify.Remove:
		w.dispatch(Event{Kind: EventDelete, Path: ev.Name})
	}
}

func (w *FSNotify) watchIfNewDir(path string) {
	info, err := statDir(path)
	if err != nil || !info {
		return
	}
	if err := w.inner.Add(path); err != nil {
		w.dispatchError(shelferr.Wrap(shelferr.Transient, "watch newly created directory "+path, err))
	}
}

func (w *FSNotify) dispatch(ev Event) {
	select {
	case w.events <- ev:
	default:
		logger.Warn("watcher: event channel full, dropping event", "path", ev.Path, "kind", ev.Kind)
	}
}

func (w *FSNotify) dispatchError(err error) {
	select {
	case w.errors <- err:
	default:
	}
}
