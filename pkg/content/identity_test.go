package content

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(catalog.AllModels()...))
	return db
}

func TestResolverCreatesIdentityOnFirstSight(t *testing.T) {
	db := openTestDB(t)
	resolver := NewResolver(db, nil)

	path := writeTempFile(t, "first.bin", []byte("hello world"))
	identity, err := resolver.Resolve(path)
	require.NoError(t, err)
	require.NotZero(t, identity.ID)
	require.EqualValues(t, 1, identity.EntryCount)
}

func TestResolverDedupesRepeatSighting(t *testing.T) {
	db := openTestDB(t)
	resolver := NewResolver(db, nil)

	pathA := writeTempFile(t, "a.bin", []byte("same content"))
	pathB := writeTempFile(t, "b.bin", []byte("same content"))

	first, err := resolver.Resolve(pathA)
	require.NoError(t, err)
	second, err := resolver.Resolve(pathB)
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.EqualValues(t, 2, second.EntryCount)
}

func TestResolverUsesShadowCache(t *testing.T) {
	db := openTestDB(t)
	cache, err := OpenShadowCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	resolver := NewResolver(db, cache)

	path := writeTempFile(t, "cached.bin", []byte("cache me"))
	first, err := resolver.Resolve(path)
	require.NoError(t, err)

	id, found, err := cache.Lookup(first.CasID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, first.ID, id)

	second, err := resolver.Resolve(path)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.EqualValues(t, 2, second.EntryCount)
}
