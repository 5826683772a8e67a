package sidecar

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/scheduler"
	"github.com/shelffs/shelf/pkg/sidecar/blobstore"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(catalog.AllModels()...))
	return db
}

func waitForSidecarStatus(t *testing.T, db *gorm.DB, contentUUID string, kind catalog.SidecarKind, variant string, want catalog.SidecarStatus) catalog.Sidecar {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var row catalog.Sidecar
		err := db.Where("content_uuid = ? AND kind = ? AND variant = ?", contentUUID, kind, variant).First(&row).Error
		if err == nil && row.Status == want {
			return row
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sidecar %s/%s/%s never reached status %s", contentUUID, kind, variant, want)
	return catalog.Sidecar{}
}

func TestGetOrEnqueueGeneratesThenReturnsReady(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	pool := scheduler.NewPool(2, scheduler.NewGormStore(db), eventbus.New(8))
	mgr := NewManager(db, backend, pool)

	var generated int
	mgr.RegisterGenerator(catalog.SidecarKindThumb, func(ctx context.Context, req GenerationRequest) ([]byte, error) {
		generated++
		return []byte("thumbnail-bytes"), nil
	})

	req := GenerationRequest{ContentUUID: "11112222-0000-0000-0000-000000000000", Kind: catalog.SidecarKindThumb, Variant: "256", Format: "jpg"}

	result, err := mgr.GetOrEnqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, result.Outcome)

	waitForSidecarStatus(t, db, req.ContentUUID, req.Kind, req.Variant, catalog.SidecarStatusReady)
	assert.Equal(t, 1, generated)

	result, err = mgr.GetOrEnqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, result.Outcome)
	assert.NotEmpty(t, result.Path)

	exists, err := mgr.Exists(context.Background(), req.ContentUUID, req.Kind, req.Variant, req.Format)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetOrEnqueueDoesNotDoubleEnqueueWhilePending(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	pool := scheduler.NewPool(1, scheduler.NewGormStore(db), eventbus.New(8))
	mgr := NewManager(db, backend, pool)

	release := make(chan struct{})
	var generated int
	mgr.RegisterGenerator(catalog.SidecarKindThumb, func(ctx context.Context, req GenerationRequest) ([]byte, error) {
		generated++
		<-release
		return []byte("bytes"), nil
	})

	req := GenerationRequest{ContentUUID: "33334444-0000-0000-0000-000000000000", Kind: catalog.SidecarKindThumb, Variant: "256", Format: "jpg"}

	_, err := mgr.GetOrEnqueue(context.Background(), req)
	require.NoError(t, err)

	// Second request while the first is still in flight must observe the
	// pending row and must not start a second generator invocation.
	result, err := mgr.GetOrEnqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, result.Outcome)

	close(release)
	waitForSidecarStatus(t, db, req.ContentUUID, req.Kind, req.Variant, catalog.SidecarStatusReady)
	assert.Equal(t, 1, generated)
}

func TestRecordSidecarUpdatesAvailability(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	mgr := NewManager(db, backend, nil)

	req := GenerationRequest{ContentUUID: "55556666-0000-0000-0000-000000000000", Kind: catalog.SidecarKindProxy, Variant: "1080p", Format: "mp4"}
	require.NoError(t, mgr.RecordSidecar(context.Background(), req, []byte("proxy video bytes"), "device-local"))

	var row catalog.Sidecar
	require.NoError(t, db.Where("content_uuid = ? AND kind = ? AND variant = ?", req.ContentUUID, req.Kind, req.Variant).First(&row).Error)
	assert.Equal(t, catalog.SidecarStatusReady, row.Status)
	assert.NotEmpty(t, row.Checksum)
	assert.EqualValues(t, len("proxy video bytes"), row.Size)

	var avail catalog.SidecarAvailability
	require.NoError(t, db.Where("content_uuid = ? AND device_uuid = ?", req.ContentUUID, "device-local").First(&avail).Error)
	assert.True(t, avail.Has)
}

func TestCreateReferenceSidecarDoesNotTouchBlobstore(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	mgr := NewManager(db, backend, nil)

	req := GenerationRequest{ContentUUID: "77778888-0000-0000-0000-000000000000", Kind: catalog.SidecarKindLivePhotoVideo, Variant: "original", Format: "mov"}
	require.NoError(t, mgr.CreateReferenceSidecar(context.Background(), req, "entries/IMG_0001.mov", 12345, "deadbeef"))

	var row catalog.Sidecar
	require.NoError(t, db.Where("content_uuid = ? AND kind = ? AND variant = ?", req.ContentUUID, req.Kind, req.Variant).First(&row).Error)
	assert.Equal(t, catalog.SidecarStatusReady, row.Status)
	assert.Equal(t, "reference", row.Source)
	assert.Equal(t, "entries/IMG_0001.mov", row.RelPath)

	exists, err := backend.Exists(context.Background(), "entries/IMG_0001.mov")
	require.NoError(t, err)
	assert.False(t, exists, "reference sidecar file lives outside the managed blobstore tree")
}

func TestBootstrapScanMarksMissingFilesFailed(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	mgr := NewManager(db, backend, nil)

	req := GenerationRequest{ContentUUID: "99990000-0000-0000-0000-000000000000", Kind: catalog.SidecarKindThumb, Variant: "256", Format: "jpg"}
	require.NoError(t, mgr.RecordSidecar(context.Background(), req, []byte("bytes"), ""))

	relPath, err := ContentPath(req.ContentUUID, req.Kind, req.Variant, req.Format)
	require.NoError(t, err)
	require.NoError(t, backend.Delete(context.Background(), relPath))

	result, err := mgr.BootstrapScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Checked)
	assert.Equal(t, 1, result.MarkedFailed)

	var row catalog.Sidecar
	require.NoError(t, db.Where("content_uuid = ? AND kind = ? AND variant = ?", req.ContentUUID, req.Kind, req.Variant).First(&row).Error)
	assert.Equal(t, catalog.SidecarStatusFailed, row.Status)
}

func TestBootstrapScanIgnoresReferenceSidecars(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	mgr := NewManager(db, backend, nil)

	req := GenerationRequest{ContentUUID: "aaaa0000-0000-0000-0000-000000000000", Kind: catalog.SidecarKindLivePhotoVideo, Variant: "original", Format: "mov"}
	require.NoError(t, mgr.CreateReferenceSidecar(context.Background(), req, "entries/clip.mov", 1, "hash"))

	result, err := mgr.BootstrapScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.MarkedFailed)

	var row catalog.Sidecar
	require.NoError(t, db.Where("content_uuid = ?", req.ContentUUID).First(&row).Error)
	assert.Equal(t, catalog.SidecarStatusReady, row.Status)
}

func TestGetOrEnqueueRejectsUnregisteredKind(t *testing.T) {
	db := openTestDB(t)
	backend := blobstore.NewFSBackend(t.TempDir())
	pool := scheduler.NewPool(1, scheduler.NewGormStore(db), eventbus.New(8))
	mgr := NewManager(db, backend, pool)

	req := GenerationRequest{ContentUUID: "bbbb0000-0000-0000-0000-000000000000", Kind: catalog.SidecarKindOCR, Variant: "default", Format: "txt"}
	_, err := mgr.GetOrEnqueue(context.Background(), req)
	assert.Error(t, err)
}
