// Package indexer implements the Indexer Pipeline (§4.C): a three-phase,
// resumable job that walks a Location's root path, interns entries into the
// catalog, and (when the location's index mode calls for it) resolves
// content identities.
package indexer

import (
	"time"

	"github.com/shelffs/shelf/pkg/catalog"
)

// Phase is one of the indexer's state-machine states.
type Phase string

const (
	PhaseDiscovery             Phase = "discovery"
	PhaseProcessing            Phase = "processing"
	PhaseContentIdentification Phase = "content_identification"
	PhaseComplete              Phase = "complete"
)

// discoveredEntry is one filesystem object found during Discovery, queued
// for Processing.
type discoveredEntry struct {
	Path       string          `json:"path"`
	Name       string          `json:"name"`
	Kind       catalog.EntryKind `json:"kind"`
	Size       uint64          `json:"size"`
	ModifiedAt time.Time       `json:"modified_at"`
}

// contentTask is one (entry, path) pair awaiting content identification.
type contentTask struct {
	EntryID uint64 `json:"entry_id"`
	Path    string `json:"path"`
}

// State is the entire serializable checkpoint for one indexing run (§4.C:
// "its checkpoint is the entire IndexerState").
type State struct {
	Phase      Phase           `json:"phase"`
	LocationID uint64          `json:"location_id"`
	DeviceID   string          `json:"device_id"`
	RootPath   string          `json:"root_path"`
	IndexMode  catalog.IndexMode `json:"index_mode"`

	// RootEntryID is the catalog.Entry id of RootPath's own directory row,
	// created once by ensureRootEntry before Discovery begins (§3's
	// Location.root_entry_id).
	RootEntryID uint64 `json:"root_entry_id"`
	// DirEntryIDs maps an already-processed directory's absolute path to its
	// catalog.Entry id, so stepProcessing can set a child's parent_id.
	// Discovery always places a directory's own discoveredEntry ahead of its
	// children's in DiscoveredBatches, so the parent is guaranteed present
	// here by the time a child is processed.
	DirEntryIDs map[string]uint64 `json:"dir_entry_ids"`

	DirsToWalk []string            `json:"dirs_to_walk"`
	SeenPaths  map[string]struct{} `json:"seen_paths"`

	PendingEntries    []discoveredEntry   `json:"pending_entries"`
	DiscoveredBatches [][]discoveredEntry `json:"discovered_batches"`
	ContentQueue      []contentTask       `json:"content_queue"`

	FilesDiscovered    uint64 `json:"files_discovered"`
	DirsDiscovered     uint64 `json:"dirs_discovered"`
	SymlinksDiscovered uint64 `json:"symlinks_discovered"`
	BytesDiscovered    uint64 `json:"bytes_discovered"`

	EntriesProcessed  uint64 `json:"entries_processed"`
	ContentIdentified uint64 `json:"content_identified"`

	StartedAt time.Time `json:"started_at"`
}

// NewState seeds a fresh indexing run rooted at rootPath.
func NewState(locationID uint64, deviceID, rootPath string, mode catalog.IndexMode) *State {
	return &State{
		Phase:      PhaseDiscovery,
		LocationID: locationID,
		DeviceID:   deviceID,
		RootPath:   rootPath,
		IndexMode:  mode,
		DirsToWalk:  []string{rootPath},
		SeenPaths:   map[string]struct{}{rootPath: {}},
		DirEntryIDs: make(map[string]uint64),
		StartedAt:   time.Now(),
	}
}

const (
	// discoveryBatchSize is how many discovered entries (files and
	// directories) accumulate in a batch
	// before being moved into DiscoveredBatches for Processing (§4.C).
	discoveryBatchSize = 1000
	// discoveryCheckpointEvery is the discovered-file count between
	// Discovery-phase checkpoints (§4.C).
	discoveryCheckpointEvery = 5000
	// contentChunkSize is how many content tasks are resolved per
	// ContentIdentification iteration before checking for a checkpoint (§4.C).
	contentChunkSize = 100
	// contentCheckpointEvery is the content-identified count between
	// ContentIdentification-phase checkpoints (§4.C).
	contentCheckpointEvery = 1000
)
