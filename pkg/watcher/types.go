// Package watcher defines the filesystem-watch contract named in §6 as a
// black box ("emits Create|Update|Rename|Delete(path, kind) events") and
// one concrete adapter, FSNotify. The Indexer (§4.C) may optionally
// subscribe to a Watcher to enqueue incremental re-walks of changed
// subtrees between full indexing runs.
package watcher

// EventKind enumerates the filesystem change kinds §6 names.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventUpdate EventKind = "update"
	EventRename EventKind = "rename"
	EventDelete EventKind = "delete"
)

// Event is one observed filesystem change. For EventRename, OldPath is the
// path the entry was known at before the rename and Path is its new path;
// adapters that cannot correlate a rename's two halves (most native APIs
// report it as a pair of otherwise-unlinked events) may instead emit a
// Delete for OldPath followed by a Create for Path.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
}

// Watcher is the black-box contract §6 names. Implementations run their
// own goroutine(s) internally; Events must be drained promptly by the
// caller or, like the event bus (§4.J), the adapter may drop events rather
// than block the filesystem notification source.
type Watcher interface {
	// Add begins watching root and its subtree.
	Add(root string) error
	// Remove stops watching root.
	Remove(root string) error
	// Events returns the channel events are delivered on. Closed when
	// Close is called.
	Events() <-chan Event
	// Errors returns the channel non-fatal watch errors are delivered on.
	Errors() <-chan error
	// Close stops the watcher and releases its resources.
	Close() error
}
