package library

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/config"
	"github.com/shelffs/shelf/pkg/indexer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(dir, "library.db")
	cfg.Cache.Path = filepath.Join(dir, "cache")
	cfg.Sidecars.Backend = "fs"
	cfg.Sidecars.RootPath = filepath.Join(dir, "sidecars")
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func buildTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0o644))
	return root
}

func waitForJobDone(t *testing.T, lib *Library, jobID string) catalog.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var job catalog.Job
		if err := lib.DB.Where("uuid = ?", jobID).First(&job).Error; err == nil {
			if job.State == catalog.JobStateCompleted || job.State == catalog.JobStateFailed {
				return job
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish in time", jobID)
	return catalog.Job{}
}

func TestAddLocationIndexesTree(t *testing.T) {
	cfg := testConfig(t)
	lib, err := Open(context.Background(), "device-1", cfg, Options{})
	require.NoError(t, err)
	defer lib.Close()

	root := buildTree(t)
	loc, jobID, err := lib.AddLocation(context.Background(), "test", root, catalog.IndexModeShallow)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	job := waitForJobDone(t, lib, jobID)
	assert.Equal(t, catalog.JobStateCompleted, job.State)

	var entries []catalog.Entry
	require.NoError(t, lib.DB.Where("location_id = ?", loc.ID).Find(&entries).Error)
	assert.Len(t, entries, 4) // root, sub, a.txt, sub/b.txt

	var refreshed catalog.Location
	require.NoError(t, lib.DB.First(&refreshed, loc.ID).Error)
	require.NotNil(t, refreshed.RootEntryID)

	var root catalog.Entry
	require.NoError(t, lib.DB.First(&root, *refreshed.RootEntryID).Error)
	assert.Equal(t, catalog.EntryKindDirectory, root.Kind)
	assert.Nil(t, root.ParentID)
}

func TestListAndRemoveLocation(t *testing.T) {
	cfg := testConfig(t)
	lib, err := Open(context.Background(), "device-1", cfg, Options{})
	require.NoError(t, err)
	defer lib.Close()

	root := buildTree(t)
	loc, jobID, err := lib.AddLocation(context.Background(), "test", root, catalog.IndexModeShallow)
	require.NoError(t, err)
	waitForJobDone(t, lib, jobID)

	locs, err := lib.ListLocations(context.Background())
	require.NoError(t, err)
	assert.Len(t, locs, 1)

	require.NoError(t, lib.RemoveLocation(context.Background(), loc.UUID))

	var count int64
	require.NoError(t, lib.DB.Model(&catalog.Entry{}).Where("location_id = ?", loc.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	var gone catalog.Location
	err = lib.DB.Where("uuid = ?", loc.UUID).First(&gone).Error
	assert.Error(t, err)
}

func TestRemoveLocationDecrementsSharedContentIdentityCount(t *testing.T) {
	cfg := testConfig(t)
	lib, err := Open(context.Background(), "device-1", cfg, Options{})
	require.NoError(t, err)
	defer lib.Close()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "one.txt"), []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "two.txt"), []byte("same bytes"), 0o644))

	loc, jobID, err := lib.AddLocation(context.Background(), "content-test", root, catalog.IndexModeContent)
	require.NoError(t, err)
	waitForJobDone(t, lib, jobID)

	var entries []catalog.Entry
	require.NoError(t, lib.DB.Where("location_id = ? AND kind = ?", loc.ID, catalog.EntryKindFile).Find(&entries).Error)
	require.Len(t, entries, 2)
	require.NotNil(t, entries[0].ContentID)
	require.Equal(t, *entries[0].ContentID, *entries[1].ContentID)

	var identity catalog.ContentIdentity
	require.NoError(t, lib.DB.First(&identity, *entries[0].ContentID).Error)
	require.EqualValues(t, 2, identity.EntryCount)

	require.NoError(t, lib.RemoveLocation(context.Background(), loc.UUID))

	var afterIdentity catalog.ContentIdentity
	require.NoError(t, lib.DB.First(&afterIdentity, *entries[0].ContentID).Error)
	assert.EqualValues(t, 0, afterIdentity.EntryCount)
}

func TestOpenResumesInterruptedIndexerJob(t *testing.T) {
	cfg := testConfig(t)
	root := buildTree(t)

	lib, err := Open(context.Background(), "device-1", cfg, Options{})
	require.NoError(t, err)

	loc := &catalog.Location{UUID: "loc-resume", DeviceID: "device-1", Name: "resume-test", RootPath: root, IndexMode: catalog.IndexModeShallow}
	require.NoError(t, lib.DB.Create(loc).Error)

	// Simulate a job left mid-discovery by a process that crashed before
	// completing: a Job row in "running" state carrying a fresh checkpoint,
	// with no corresponding entries yet in the catalog.
	state := indexer.NewState(loc.ID, "device-1", root, catalog.IndexModeShallow)
	blob, err := json.Marshal(state)
	require.NoError(t, err)

	job := &catalog.Job{
		UUID:           "job-resume-1",
		Name:           "index-location-resume",
		Kind:           "indexer",
		State:          catalog.JobStateRunning,
		Resumable:      true,
		Persisted:      true,
		CheckpointBlob: blob,
	}
	require.NoError(t, lib.DB.Create(job).Error)
	require.NoError(t, lib.Close())

	lib2, err := Open(context.Background(), "device-1", cfg, Options{})
	require.NoError(t, err)
	defer lib2.Close()

	resumedJob := waitForJobDone(t, lib2, job.UUID)
	assert.Equal(t, catalog.JobStateCompleted, resumedJob.State)

	var entries []catalog.Entry
	require.NoError(t, lib2.DB.Where("location_id = ?", loc.ID).Find(&entries).Error)
	assert.Len(t, entries, 4) // root, sub, a.txt, sub/b.txt
}

func TestRescanResubmitsIndexJob(t *testing.T) {
	cfg := testConfig(t)
	lib, err := Open(context.Background(), "device-1", cfg, Options{})
	require.NoError(t, err)
	defer lib.Close()

	root := buildTree(t)
	loc, jobID, err := lib.AddLocation(context.Background(), "test", root, catalog.IndexModeShallow)
	require.NoError(t, err)
	waitForJobDone(t, lib, jobID)

	secondJobID, err := lib.Rescan(context.Background(), loc.UUID)
	require.NoError(t, err)
	assert.NotEqual(t, jobID, secondJobID)
	waitForJobDone(t, lib, secondJobID)
}
