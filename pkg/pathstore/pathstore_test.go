package pathstore

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

func TestInternCreatesPrefixOnce(t *testing.T) {
	db := openTestDB(t)
	store := New()

	id1, rel1, err := store.Intern(db, "dev-1", "/home/user/docs/a.txt")
	require.NoError(t, err)
	require.Equal(t, "a.txt", rel1)

	id2, rel2, err := store.Intern(db, "dev-1", "/home/user/docs/b.txt")
	require.NoError(t, err)
	require.Equal(t, "b.txt", rel2)

	require.Equal(t, id1, id2)

	var count int64
	require.NoError(t, db.Model(&catalog.PathPrefix{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestInternDifferentDevicesDoNotShare(t *testing.T) {
	db := openTestDB(t)
	store := New()

	id1, _, err := store.Intern(db, "dev-1", "/home/user/docs/a.txt")
	require.NoError(t, err)
	id2, _, err := store.Intern(db, "dev-2", "/home/user/docs/a.txt")
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
}

func TestInternCachesAcrossCalls(t *testing.T) {
	db := openTestDB(t)
	store := New()

	_, _, err := store.Intern(db, "dev-1", "/a/b/one.txt")
	require.NoError(t, err)

	var before int64
	require.NoError(t, db.Model(&catalog.PathPrefix{}).Count(&before).Error)

	_, _, err = store.Intern(db, "dev-1", "/a/b/two.txt")
	require.NoError(t, err)

	var after int64
	require.NoError(t, db.Model(&catalog.PathPrefix{}).Count(&after).Error)
	require.Equal(t, before, after)
}

func TestRelativeEqualToPrefixIsEmpty(t *testing.T) {
	require.Equal(t, "", Relative("/a/b", "/a/b"))
}

func TestRelativeStripsLeadingSeparator(t *testing.T) {
	require.Equal(t, "c.txt", Relative("/a/b", "/a/b/c.txt"))
}
