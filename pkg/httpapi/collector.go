package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/scheduler"
)

// libraryCollector is a prometheus.Collector pulling gauges directly from
// the catalog database and the job pool at scrape time, rather than
// pushing updates through the event bus: metrics are a pull-model surface
// distinct from every other state-transition consumer of the bus.
type libraryCollector struct {
	db   *gorm.DB
	pool *scheduler.Pool

	entries   *prometheus.Desc
	locations *prometheus.Desc
	devices   *prometheus.Desc
	jobsByState *prometheus.Desc
	runningJobs *prometheus.Desc
}

func newLibraryCollector(db *gorm.DB, pool *scheduler.Pool) *libraryCollector {
	return &libraryCollector{
		db:   db,
		pool: pool,
		entries: prometheus.NewDesc(
			"shelf_catalog_entries_total", "Number of indexed catalog entries.", nil, nil),
		locations: prometheus.NewDesc(
			"shelf_catalog_locations_total", "Number of registered locations.", nil, nil),
		devices: prometheus.NewDesc(
			"shelf_paired_devices_total", "Number of paired devices.", []string{"trust_level"}, nil),
		jobsByState: prometheus.NewDesc(
			"shelf_jobs_total", "Number of catalog jobs by state.", []string{"state"}, nil),
		runningJobs: prometheus.NewDesc(
			"shelf_scheduler_running_jobs", "Number of started scheduler jobs not yet finished, including jobs waiting for a slot.", nil, nil),
	}
}

func (c *libraryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.locations
	ch <- c.devices
	ch <- c.jobsByState
	ch <- c.runningJobs
}

func (c *libraryCollector) Collect(ch chan<- prometheus.Metric) {
	var entryCount, locationCount int64
	c.db.Model(&catalog.Entry{}).Count(&entryCount)
	c.db.Model(&catalog.Location{}).Count(&locationCount)
	ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(entryCount))
	ch <- prometheus.MustNewConstMetric(c.locations, prometheus.GaugeValue, float64(locationCount))

	for _, level := range []catalog.TrustLevel{catalog.TrustUntrusted, catalog.TrustTrusted, catalog.TrustRevoked} {
		var count int64
		c.db.Model(&catalog.PairedDevice{}).Where("trust_level = ?", level).Count(&count)
		ch <- prometheus.MustNewConstMetric(c.devices, prometheus.GaugeValue, float64(count), string(level))
	}

	for _, state := range []catalog.JobState{
		catalog.JobStatePending, catalog.JobStateRunning, catalog.JobStatePaused,
		catalog.JobStateCompleted, catalog.JobStateFailed, catalog.JobStateCancelled,
	} {
		var count int64
		c.db.Model(&catalog.Job{}).Where("state = ?", state).Count(&count)
		ch <- prometheus.MustNewConstMetric(c.jobsByState, prometheus.GaugeValue, float64(count), string(state))
	}

	ch <- prometheus.MustNewConstMetric(c.runningJobs, prometheus.GaugeValue, float64(c.pool.RunningCount()))
}
