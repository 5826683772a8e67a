package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"github.com/shelffs/shelf/internal/telemetry"
	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/content"
	"github.com/shelffs/shelf/pkg/pathstore"
	"github.com/shelffs/shelf/pkg/scheduler"
)

// Indexer walks one Location's root path and populates the catalog,
// implementing scheduler.Handler so it runs under the job Pool (§4.C, §4.D).
type Indexer struct {
	db       *gorm.DB
	paths    *pathstore.Store
	content  *content.Resolver
	rules    Rules
	state    *State
}

// New builds an Indexer for a fresh run starting at state.
func New(db *gorm.DB, paths *pathstore.Store, resolver *content.Resolver, rules Rules, state *State) *Indexer {
	if rules == nil {
		rules = AllowAll{}
	}
	return &Indexer{db: db, paths: paths, content: resolver, rules: rules, state: state}
}

// State returns the indexer's current (possibly in-progress) checkpoint.
func (ix *Indexer) State() *State { return ix.state }

// Run drives the Discovery -> Processing -> ContentIdentification ->
// Complete state machine, yielding at every scheduler.Context.CheckInterrupt.
func (ix *Indexer) Run(ctx context.Context, jc *scheduler.Context) error {
	if err := ix.ensureRootEntry(ctx); err != nil {
		return fmt.Errorf("ensure root entry: %w", err)
	}

	for {
		if err := jc.CheckInterrupt(); err != nil {
			return err
		}

		switch ix.state.Phase {
		case PhaseDiscovery:
			spanCtx, span := telemetry.StartIndexSpan(ctx, string(PhaseDiscovery), ix.state.LocationID)
			done, err := ix.stepDiscovery(spanCtx, jc)
			span.End()
			if err != nil {
				return err
			}
			if done {
				ix.flushPending()
				ix.state.Phase = PhaseProcessing
				if err := jc.CheckpointWithState(ctx, ix.state); err != nil {
					return err
				}
			}

		case PhaseProcessing:
			spanCtx, span := telemetry.StartIndexSpan(ctx, string(PhaseProcessing), ix.state.LocationID)
			done, err := ix.stepProcessing(spanCtx, jc)
			span.End()
			if err != nil {
				return err
			}
			if done {
				if ix.state.IndexMode.AtLeast(catalog.IndexModeContent) && len(ix.state.ContentQueue) > 0 {
					ix.state.Phase = PhaseContentIdentification
				} else {
					ix.state.Phase = PhaseComplete
					if err := ix.finalizeLocation(ctx); err != nil {
						return err
					}
				}
				if err := jc.CheckpointWithState(ctx, ix.state); err != nil {
					return err
				}
			}

		case PhaseContentIdentification:
			spanCtx, span := telemetry.StartIndexSpan(ctx, string(PhaseContentIdentification), ix.state.LocationID)
			done, err := ix.stepContentIdentification(spanCtx, jc)
			span.End()
			if err != nil {
				return err
			}
			if done {
				ix.state.Phase = PhaseComplete
				if err := ix.finalizeLocation(ctx); err != nil {
					return err
				}
				if err := jc.CheckpointWithState(ctx, ix.state); err != nil {
					return err
				}
			}

		case PhaseComplete:
			return nil

		default:
			return fmt.Errorf("indexer: unknown phase %q", ix.state.Phase)
		}
	}
}

// OnResume re-enters at the persisted phase; Run is idempotent with respect
// to already-committed rows because Processing/ContentIdentification only
// ever consume from the front of their queues, never re-derive them.
func (ix *Indexer) OnResume(ctx context.Context, jc *scheduler.Context) error {
	jc.Log("resuming indexer", "phase", string(ix.state.Phase), "location", ix.state.LocationID)
	return nil
}

// OnPause is a no-op: the entire state is already checkpointed at the next
// CheckInterrupt boundary by construction of Run's loop.
func (ix *Indexer) OnPause(ctx context.Context, jc *scheduler.Context) error {
	return nil
}

// OnCancel is a no-op; partial catalog rows already committed are left in
// place, matching §4.C's "run MUST be idempotent" resume contract.
func (ix *Indexer) OnCancel(ctx context.Context, jc *scheduler.Context) error {
	return nil
}

// finalizeLocation writes the run's totals onto the Location row once
// Processing (and, if applicable, ContentIdentification) has drained.
func (ix *Indexer) finalizeLocation(ctx context.Context) error {
	return ix.db.WithContext(ctx).Model(&catalog.Location{}).
		Where("id = ?", ix.state.LocationID).
		Updates(map[string]any{
			"total_file_count": ix.state.FilesDiscovered,
			"total_byte_size":  ix.state.BytesDiscovered,
		}).Error
}

// ensureRootEntry creates the Entry row for the location's root directory
// and links Location.root_entry_id to it (§3: "A Location's entries are
// exactly those reachable from root_entry_id via parent_id"). It is a
// no-op once RootEntryID is known, whether from an earlier run of the same
// process or a reloaded checkpoint, so a rescan never double-inserts the
// root.
func (ix *Indexer) ensureRootEntry(ctx context.Context) error {
	if ix.state.RootEntryID != 0 {
		return nil
	}
	if ix.state.DirEntryIDs == nil {
		ix.state.DirEntryIDs = make(map[string]uint64)
	}

	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var loc catalog.Location
		if err := tx.Select("id", "root_entry_id").First(&loc, ix.state.LocationID).Error; err != nil {
			return fmt.Errorf("load location: %w", err)
		}
		if loc.RootEntryID != nil {
			ix.state.RootEntryID = *loc.RootEntryID
			ix.state.DirEntryIDs[ix.state.RootPath] = ix.state.RootEntryID
			return nil
		}

		prefixID, err := ix.paths.InternRoot(tx, ix.state.DeviceID, ix.state.RootPath)
		if err != nil {
			return fmt.Errorf("intern root path: %w", err)
		}

		meta := catalog.UserMetadata{}
		if err := tx.Create(&meta).Error; err != nil {
			return fmt.Errorf("create root metadata: %w", err)
		}

		modifiedAt := time.Now()
		if info, statErr := os.Stat(ix.state.RootPath); statErr == nil {
			modifiedAt = info.ModTime()
		}

		locationID := ix.state.LocationID
		root := catalog.Entry{
			PrefixID:     prefixID,
			RelativePath: "",
			Name:         filepath.Base(ix.state.RootPath),
			Kind:         catalog.EntryKindDirectory,
			ModifiedAt:   modifiedAt,
			MetadataID:   meta.ID,
			LocationID:   &locationID,
		}
		if err := tx.Create(&root).Error; err != nil {
			return fmt.Errorf("create root entry: %w", err)
		}

		if err := tx.Model(&catalog.Location{}).Where("id = ?", locationID).
			Update("root_entry_id", root.ID).Error; err != nil {
			return fmt.Errorf("set location root entry: %w", err)
		}

		ix.state.RootEntryID = root.ID
		ix.state.DirEntryIDs[ix.state.RootPath] = root.ID
		return nil
	})
}

func (ix *Indexer) flushPending() {
	if len(ix.state.PendingEntries) == 0 {
		return
	}
	ix.state.DiscoveredBatches = append(ix.state.DiscoveredBatches, ix.state.PendingEntries)
	ix.state.PendingEntries = nil
}

// stepDiscovery pops one directory from the front of DirsToWalk and reads
// its children, applying the indexer-rules hook and the symlink-loop guard.
func (ix *Indexer) stepDiscovery(ctx context.Context, jc *scheduler.Context) (done bool, err error) {
	if len(ix.state.DirsToWalk) == 0 {
		return true, nil
	}

	dir := ix.state.DirsToWalk[0]
	ix.state.DirsToWalk = ix.state.DirsToWalk[1:]

	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		jc.AddNonCriticalError(fmt.Errorf("read directory %s: %w", dir, readErr))
		return len(ix.state.DirsToWalk) == 0, nil
	}

	for _, entry := range entries {
		childPath := filepath.Join(dir, entry.Name())
		info, infoErr := entry.Info()
		if infoErr != nil {
			jc.AddNonCriticalError(fmt.Errorf("stat %s: %w", childPath, infoErr))
			continue
		}

		if !ix.rules.ShouldIndex(childPath, info) {
			continue
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			ix.state.SymlinksDiscovered++

		case info.IsDir():
			if _, seen := ix.state.SeenPaths[childPath]; seen {
				continue
			}
			ix.state.SeenPaths[childPath] = struct{}{}
			ix.state.DirsToWalk = append(ix.state.DirsToWalk, childPath)
			ix.state.DirsDiscovered++

			ix.state.PendingEntries = append(ix.state.PendingEntries, discoveredEntry{
				Path:       childPath,
				Name:       entry.Name(),
				Kind:       catalog.EntryKindDirectory,
				ModifiedAt: info.ModTime(),
			})

			if len(ix.state.PendingEntries) >= discoveryBatchSize {
				ix.flushPending()
			}

		default:
			ix.state.PendingEntries = append(ix.state.PendingEntries, discoveredEntry{
				Path:       childPath,
				Name:       entry.Name(),
				Kind:       catalog.EntryKindFile,
				Size:       uint64(info.Size()),
				ModifiedAt: info.ModTime(),
			})
			ix.state.FilesDiscovered++
			ix.state.BytesDiscovered += uint64(info.Size())

			if len(ix.state.PendingEntries) >= discoveryBatchSize {
				ix.flushPending()
			}
		}
	}

	jc.Progress(ctx, scheduler.Progress{
		Phase:       string(PhaseDiscovery),
		CurrentPath: dir,
		FilesSeen:   ix.state.FilesDiscovered,
		DirsSeen:    ix.state.DirsDiscovered,
		SymlinksSeen: ix.state.SymlinksDiscovered,
		BytesSeen:   ix.state.BytesDiscovered,
	})

	if ix.state.FilesDiscovered > 0 && ix.state.FilesDiscovered%discoveryCheckpointEvery == 0 {
		if err := jc.CheckpointWithState(ctx, ix.state); err != nil {
			return false, err
		}
	}

	return len(ix.state.DirsToWalk) == 0, nil
}

// stepProcessing consumes one batch of discovered entries: interns each
// entry's parent path, creates its UserMetadata and Entry rows, and queues
// files for content identification when the location's index mode calls
// for it.
func (ix *Indexer) stepProcessing(ctx context.Context, jc *scheduler.Context) (done bool, err error) {
	if len(ix.state.DiscoveredBatches) == 0 {
		return true, nil
	}

	batch := ix.state.DiscoveredBatches[0]
	ix.state.DiscoveredBatches = ix.state.DiscoveredBatches[1:]

	err = ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, de := range batch {
			prefixID, relative, err := ix.paths.Intern(tx, ix.state.DeviceID, de.Path)
			if err != nil {
				jc.AddNonCriticalError(fmt.Errorf("intern %s: %w", de.Path, err))
				continue
			}

			meta := catalog.UserMetadata{}
			if err := tx.Create(&meta).Error; err != nil {
				jc.AddNonCriticalError(fmt.Errorf("create metadata for %s: %w", de.Path, err))
				continue
			}

			var parentID *uint64
			if id, ok := ix.state.DirEntryIDs[filepath.Dir(de.Path)]; ok {
				parentID = &id
			} else {
				jc.AddNonCriticalError(fmt.Errorf("parent entry for %s not yet indexed", de.Path))
			}

			locationID := ix.state.LocationID
			row := catalog.Entry{
				PrefixID:     prefixID,
				RelativePath: relative,
				Name:         de.Name,
				Kind:         de.Kind,
				Size:         de.Size,
				ModifiedAt:   de.ModifiedAt,
				MetadataID:   meta.ID,
				LocationID:   &locationID,
				ParentID:     parentID,
			}
			if err := tx.Create(&row).Error; err != nil {
				jc.AddNonCriticalError(fmt.Errorf("create entry for %s: %w", de.Path, err))
				continue
			}

			ix.state.EntriesProcessed++

			if de.Kind == catalog.EntryKindDirectory {
				ix.state.DirEntryIDs[de.Path] = row.ID
			}

			if ix.state.IndexMode.AtLeast(catalog.IndexModeContent) && de.Kind == catalog.EntryKindFile {
				ix.state.ContentQueue = append(ix.state.ContentQueue, contentTask{EntryID: row.ID, Path: de.Path})
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("process entry batch: %w", err)
	}

	jc.Progress(ctx, scheduler.Progress{
		Phase:     string(PhaseProcessing),
		FilesSeen: ix.state.EntriesProcessed,
	})

	if err := jc.CheckpointWithState(ctx, ix.state); err != nil {
		return false, err
	}

	return len(ix.state.DiscoveredBatches) == 0, nil
}

// stepContentIdentification resolves a chunk of queued (entry, path) pairs
// to ContentIdentity rows and links Entry.content_id.
func (ix *Indexer) stepContentIdentification(ctx context.Context, jc *scheduler.Context) (done bool, err error) {
	if len(ix.state.ContentQueue) == 0 {
		return true, nil
	}

	chunkSize := contentChunkSize
	if chunkSize > len(ix.state.ContentQueue) {
		chunkSize = len(ix.state.ContentQueue)
	}
	chunk := ix.state.ContentQueue[:chunkSize]
	ix.state.ContentQueue = ix.state.ContentQueue[chunkSize:]

	for _, task := range chunk {
		identity, err := ix.content.Resolve(task.Path)
		if err != nil {
			jc.AddNonCriticalError(fmt.Errorf("content identify %s: %w", task.Path, err))
			continue
		}

		contentID := identity.ID
		if err := ix.db.WithContext(ctx).Model(&catalog.Entry{}).
			Where("id = ?", task.EntryID).
			Update("content_id", &contentID).Error; err != nil {
			jc.AddNonCriticalError(fmt.Errorf("link content for entry %d: %w", task.EntryID, err))
			continue
		}

		ix.state.ContentIdentified++
	}

	jc.Progress(ctx, scheduler.Progress{
		Phase:     string(PhaseContentIdentification),
		FilesSeen: ix.state.ContentIdentified,
	})

	if ix.state.ContentIdentified > 0 && ix.state.ContentIdentified%contentCheckpointEvery == 0 {
		if err := jc.CheckpointWithState(ctx, ix.state); err != nil {
			return false, err
		}
	}

	return len(ix.state.ContentQueue) == 0, nil
}
