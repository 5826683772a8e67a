// Package library wires one library's components together: its database,
// path store, content resolver, sidecar manager, job scheduler, pairing and
// connection managers, and event bus. It is the top-level aggregate the
// rest of the system is built from (§3: "A Library exclusively owns its
// database and sidecar directory").
package library

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/internal/logger"
	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/config"
	"github.com/shelffs/shelf/pkg/connection"
	"github.com/shelffs/shelf/pkg/content"
	"github.com/shelffs/shelf/pkg/eventbus"
	"github.com/shelffs/shelf/pkg/indexer"
	"github.com/shelffs/shelf/pkg/librarydb"
	"github.com/shelffs/shelf/pkg/pairing"
	"github.com/shelffs/shelf/pkg/pathstore"
	"github.com/shelffs/shelf/pkg/scheduler"
	"github.com/shelffs/shelf/pkg/shelferr"
	"github.com/shelffs/shelf/pkg/sidecar"
	"github.com/shelffs/shelf/pkg/sidecar/blobstore"
	"github.com/shelffs/shelf/pkg/volume"
)

// Library is one opened library instance: a database, a sidecar tree, and
// every component that mutates or reads them.
type Library struct {
	DeviceID string
	Config   *config.Config

	DB      *gorm.DB
	Bus     *eventbus.Bus
	Pool    *scheduler.Pool
	Paths   *pathstore.Store
	Content *content.Resolver
	Cache   *content.ShadowCache
	Sidecar *sidecar.Manager
	Volumes *volume.Manager
	Pairing *pairing.Manager
	Conn    *connection.Manager

	connCancel context.CancelFunc
}

// Options configures pieces of Open that the caller must supply because
// they depend on the deployment (a real network transport) or would
// otherwise create an import cycle with cmd/shelfd.
type Options struct {
	// Transport backs the connection manager's outbound dials. Required
	// unless the caller only needs local (indexing/sidecar) operations.
	Transport connection.Transport

	// RequestHandler answers inbound RPC-style requests from paired peers.
	RequestHandler connection.RequestHandler
}

// Open loads configuration-described storage (database, sidecar
// blobstore, CAS shadow cache) and constructs every component that reads
// or writes it, but starts no background actors beyond the scheduler pool
// and, if a Transport is supplied, the connection manager's run loop.
func Open(ctx context.Context, deviceID string, cfg *config.Config, opts Options) (*Library, error) {
	db, err := librarydb.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).AutoMigrate(catalog.AllModels()...); err != nil {
		return nil, shelferr.Wrap(shelferr.Fatal, "migrate library schema", err)
	}

	cache, err := content.OpenShadowCache(cfg.Cache.Path)
	if err != nil {
		return nil, err
	}

	backend, err := openSidecarBackend(ctx, cfg.Sidecars)
	if err != nil {
		cache.Close()
		return nil, err
	}

	bus := eventbus.New(eventbus.DefaultQueueSize)
	pool := scheduler.NewPool(int64(schedulerConcurrency(cfg.Scheduler)), scheduler.NewGormStore(db), bus)
	sidecarMgr := sidecar.NewManager(db, backend, pool)
	pairingMgr := pairing.NewManager(deviceID, cfg.Network.PairingChallengeTTL, cfg.Network.PairingSessionTTL, bus)

	lib := &Library{
		DeviceID: deviceID,
		Config:   cfg,
		DB:       db,
		Bus:      bus,
		Pool:     pool,
		Paths:    pathstore.New(),
		Content:  content.NewResolver(db, cache),
		Cache:    cache,
		Sidecar:  sidecarMgr,
		Volumes:  volume.NewManager(),
		Pairing:  pairingMgr,
	}

	if opts.Transport != nil {
		connCfg := connection.Config{
			KeepaliveInterval: cfg.Network.KeepaliveInterval,
			RequestTTL:        cfg.Network.PairingChallengeTTL,
			RetryTick:         cfg.Network.RetryBaseDelay,
		}
		keys := connection.NewGormKeyStore(db)
		lib.Conn = connection.NewManager(deviceID, opts.Transport, keys, bus, connCfg)
		if opts.RequestHandler != nil {
			lib.Conn.SetHandler(opts.RequestHandler)
		}
		connCtx, connCancel := context.WithCancel(ctx)
		lib.connCancel = connCancel
		go lib.Conn.Run(connCtx)
	}

	if err := sidecarMgr.BootstrapScan(ctx); err != nil {
		logger.Warn("library: sidecar bootstrap scan failed", "error", err)
	}

	if err := lib.resumeInterruptedJobs(ctx); err != nil {
		logger.Warn("library: resume interrupted jobs failed", "error", err)
	}

	return lib, nil
}

func openSidecarBackend(ctx context.Context, cfg config.SidecarsConfig) (blobstore.Backend, error) {
	switch cfg.Backend {
	case "s3":
		return blobstore.NewS3Backend(ctx, blobstore.S3Config{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathSt,
		})
	default:
		return blobstore.NewFSBackend(cfg.RootPath), nil
	}
}

func schedulerConcurrency(cfg config.SchedulerConfig) int {
	if cfg.MaxConcurrentJobs > 0 {
		return cfg.MaxConcurrentJobs
	}
	return 4
}

// Close shuts down the job pool (cancelling running jobs and waiting up to
// its shutdown timeout for them to unwind), then releases the library's own
// resources.
func (l *Library) Close() error {
	l.Pool.Shutdown()
	if l.connCancel != nil {
		l.connCancel()
	}
	if err := l.Cache.Close(); err != nil {
		return err
	}
	sqlDB, err := l.DB.DB()
	if err != nil {
		return shelferr.Wrap(shelferr.Fatal, "access underlying sql.DB", err)
	}
	return sqlDB.Close()
}

// AddLocation registers a new Location rooted at rootPath and enqueues an
// indexer job for it (§4.C data-flow: "A location is added => Indexer
// walks it").
func (l *Library) AddLocation(ctx context.Context, name, rootPath string, mode catalog.IndexMode) (*catalog.Location, string, error) {
	loc := &catalog.Location{
		UUID:      uuid.NewString(),
		DeviceID:  l.DeviceID,
		Name:      name,
		RootPath:  rootPath,
		IndexMode: mode,
	}
	if err := l.DB.WithContext(ctx).Create(loc).Error; err != nil {
		return nil, "", shelferr.Wrap(shelferr.Fatal, "create location", err)
	}

	jobID, err := l.submitIndexJob(ctx, loc)
	if err != nil {
		return loc, "", err
	}
	return loc, jobID, nil
}

// Rescan re-runs the indexer for an existing Location from scratch.
func (l *Library) Rescan(ctx context.Context, locationUUID string) (string, error) {
	var loc catalog.Location
	if err := l.DB.WithContext(ctx).Where("uuid = ?", locationUUID).First(&loc).Error; err != nil {
		return "", shelferr.Wrap(shelferr.NotFound, "find location", err)
	}
	return l.submitIndexJob(ctx, &loc)
}

func (l *Library) submitIndexJob(ctx context.Context, loc *catalog.Location) (string, error) {
	state := indexer.NewState(loc.ID, l.DeviceID, loc.RootPath, loc.IndexMode)
	ix := indexer.New(l.DB, l.Paths, l.Content, nil, state)

	jobID, err := l.Pool.Submit(ctx, scheduler.Descriptor{
		Name:      fmt.Sprintf("index-location-%d", loc.ID),
		Kind:      "indexer",
		Resumable: true,
		Persisted: true,
		Priority:  scheduler.PriorityNormal,
	}, ix)
	if err != nil {
		return "", shelferr.Wrap(shelferr.Fatal, "submit indexer job", err)
	}
	return jobID, nil
}

// RemoveLocation deletes a Location and cascades to its Entries (§3
// ownership rules). ContentIdentity rows whose entry_count reaches zero
// are left for garbage collection rather than deleted inline here.
func (l *Library) RemoveLocation(ctx context.Context, locationUUID string) error {
	return l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var loc catalog.Location
		if err := tx.Where("uuid = ?", locationUUID).First(&loc).Error; err != nil {
			return shelferr.Wrap(shelferr.NotFound, "find location", err)
		}

		var counts []struct {
			ContentID uint64
			N         int64
		}
		if err := tx.Model(&catalog.Entry{}).
			Select("content_id, count(*) as n").
			Where("location_id = ? AND content_id IS NOT NULL", loc.ID).
			Group("content_id").Scan(&counts).Error; err != nil {
			return shelferr.Wrap(shelferr.Fatal, "count affected content identities", err)
		}

		if err := tx.Where("location_id = ?", loc.ID).Delete(&catalog.Entry{}).Error; err != nil {
			return shelferr.Wrap(shelferr.Fatal, "delete entries", err)
		}
		for _, c := range counts {
			if err := tx.Model(&catalog.ContentIdentity{}).
				Where("id = ?", c.ContentID).
				UpdateColumn("entry_count", gorm.Expr("entry_count - ?", c.N)).Error; err != nil {
				return shelferr.Wrap(shelferr.Fatal, "decrement content identity entry count", err)
			}
		}

		return tx.Delete(&loc).Error
	})
}

// ListLocations returns every Location this library knows about.
func (l *Library) ListLocations(ctx context.Context) ([]catalog.Location, error) {
	var locs []catalog.Location
	if err := l.DB.WithContext(ctx).Order("created_at").Find(&locs).Error; err != nil {
		return nil, shelferr.Wrap(shelferr.Fatal, "list locations", err)
	}
	return locs, nil
}
