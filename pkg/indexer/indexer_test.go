package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/content"
	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/pathstore"
	"github.com/shelffs/shelf/pkg/scheduler"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(catalog.AllModels()...))
	return db
}

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))
	return root
}

func runToCompletion(t *testing.T, db *gorm.DB, ix *Indexer) {
	t.Helper()
	bus := eventbus.New(8)
	pool := scheduler.NewPool(1, scheduler.NewGormStore(db), bus)

	jobID, err := pool.Submit(context.Background(), scheduler.Descriptor{Name: "index", Kind: "indexer"}, ix)
	require.NoError(t, err)

	deadline := make(chan struct{})
	go func() {
		for {
			var job catalog.Job
			if err := db.Where("uuid = ?", jobID).First(&job).Error; err == nil {
				if job.State == catalog.JobStateCompleted || job.State == catalog.JobStateFailed {
					close(deadline)
					return
				}
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	select {
	case <-deadline:
	case <-time.After(5 * time.Second):
		t.Fatal("indexer job did not finish in time")
	}

	var job catalog.Job
	require.NoError(t, db.Where("uuid = ?", jobID).First(&job).Error)
	require.Equal(t, catalog.JobStateCompleted, job.State)
}

func TestIndexerShallowDiscoversAllEntries(t *testing.T) {
	db := openTestDB(t)
	root := buildTree(t)

	loc := &catalog.Location{UUID: "loc-1", DeviceID: "dev-1", Name: "test", RootPath: root, IndexMode: catalog.IndexModeShallow}
	require.NoError(t, db.Create(loc).Error)

	state := NewState(loc.ID, "dev-1", root, catalog.IndexModeShallow)
	ix := New(db, pathstore.New(), nil, nil, state)

	runToCompletion(t, db, ix)

	var count int64
	require.NoError(t, db.Model(&catalog.Entry{}).Count(&count).Error)
	require.EqualValues(t, 4, count) // root, sub, a.txt, sub/b.txt

	var refreshed catalog.Location
	require.NoError(t, db.First(&refreshed, loc.ID).Error)
	require.EqualValues(t, 2, refreshed.TotalFileCount)
	require.NotNil(t, refreshed.RootEntryID)

	var sub catalog.Entry
	require.NoError(t, db.Where("name = ?", "sub").First(&sub).Error)
	require.Equal(t, catalog.EntryKindDirectory, sub.Kind)
	require.NotNil(t, sub.ParentID)
	require.EqualValues(t, *refreshed.RootEntryID, *sub.ParentID)

	var bFile catalog.Entry
	require.NoError(t, db.Where("name = ?", "b.txt").First(&bFile).Error)
	require.NotNil(t, bFile.ParentID)
	require.EqualValues(t, sub.ID, *bFile.ParentID)
}

func TestIndexerContentModeLinksContentIdentity(t *testing.T) {
	db := openTestDB(t)
	root := buildTree(t)

	loc := &catalog.Location{UUID: "loc-2", DeviceID: "dev-1", Name: "test", RootPath: root, IndexMode: catalog.IndexModeContent}
	require.NoError(t, db.Create(loc).Error)

	state := NewState(loc.ID, "dev-1", root, catalog.IndexModeContent)
	resolver := content.NewResolver(db, nil)
	ix := New(db, pathstore.New(), resolver, nil, state)

	runToCompletion(t, db, ix)

	var entries []catalog.Entry
	require.NoError(t, db.Where("kind = ?", catalog.EntryKindFile).Find(&entries).Error)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.NotNil(t, e.ContentID)
	}

	var identityCount int64
	require.NoError(t, db.Model(&catalog.ContentIdentity{}).Count(&identityCount).Error)
	require.EqualValues(t, 2, identityCount)
}

func TestIndexerSharesPathPrefixAcrossSiblings(t *testing.T) {
	db := openTestDB(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "two.txt"), []byte("2"), 0o644))

	loc := &catalog.Location{UUID: "loc-3", DeviceID: "dev-1", Name: "test", RootPath: root, IndexMode: catalog.IndexModeShallow}
	require.NoError(t, db.Create(loc).Error)

	state := NewState(loc.ID, "dev-1", root, catalog.IndexModeShallow)
	ix := New(db, pathstore.New(), nil, nil, state)

	runToCompletion(t, db, ix)

	var prefixCount int64
	require.NoError(t, db.Model(&catalog.PathPrefix{}).Count(&prefixCount).Error)
	require.EqualValues(t, 1, prefixCount)
}
