//go:build integration

package librarydb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/config"
)

// startPostgresContainer brings up a disposable postgres instance for this
// test binary's run, mirroring the teacher's shared-container pattern but
// scoped to a single test (this package has too few postgres tests to
// justify a TestMain-managed shared container).
func startPostgresContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("shelf_test"),
		postgres.WithUsername("shelf_test"),
		postgres.WithPassword("shelf_test"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestOpenPostgresMigratesAndRoundTripsEntry(t *testing.T) {
	dsn := startPostgresContainer(t)

	cfg := config.DatabaseConfig{Driver: "postgres", DSN: dsn}
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)

	for _, model := range catalog.AllModels() {
		require.True(t, db.Migrator().HasTable(model))
	}

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

	// Re-opening against the same DSN must be idempotent: golang-migrate
	// should see every migration already applied and apply none again.
	db2, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	var count int64
	require.NoError(t, db2.Model(&catalog.Entry{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}
