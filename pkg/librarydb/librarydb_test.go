package librarydb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/config"
)

func TestOpenSQLiteAutoMigrates(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "library.db"),
	}

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	for _, model := range catalog.AllModels() {
		require.True(t, db.Migrator().HasTable(model))
	}
}

func TestOpenSQLiteRoundTripsEntry(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "library.db"),
	}

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	prefix := &catalog.PathPrefix{DeviceID: "dev-1", Prefix: "/home/user"}
	require.NoError(t, db.Create(prefix).Error)

	meta := &catalog.UserMetadata{UUID: "meta-uuid-1"}
	require.NoError(t, db.Create(meta).Error)

	entry := &catalog.Entry{
		UUID:         "entry-uuid-1",
		PrefixID:     prefix.ID,
		RelativePath: "docs/a.txt",
		Name:         "a.txt",
		Kind:         catalog.EntryKindFile,
		MetadataID:   meta.ID,
	}
	require.NoError(t, db.Create(entry).Error)

	var fetched catalog.Entry
	require.NoError(t, db.First(&fetched, "uuid = ?", "entry-uuid-1").Error)
	require.Equal(t, "a.txt", fetched.Name)
}
