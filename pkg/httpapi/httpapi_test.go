package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/config"
	"github.com/shelffs/shelf/pkg/librarydb"
	"github.com/shelffs/shelf/pkg/scheduler"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := librarydb.Open(context.Background(), config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "httpapi.db"),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(catalog.AllModels()...))
	return db
}

func TestHealthLivenessReturnsOK(t *testing.T) {
	db := testDB(t)
	handler := newHealthHandler(db, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.Liveness(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestRouterServesHealthzAndMetrics(t *testing.T) {
	db := testDB(t)
	pool := scheduler.NewPool(1, nil, nil)
	router := newRouter(db, pool, time.Now())

	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metricsResp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
}

func TestMetricsEndpointReflectsCatalogState(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&catalog.Location{
		UUID: "loc-1", DeviceID: "dev-1", Name: "test", RootPath: "/tmp", IndexMode: catalog.IndexModeShallow,
	}).Error)

	pool := scheduler.NewPool(1, nil, nil)
	router := newRouter(db, pool, time.Now())
	server := httptest.NewServer(router)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "shelf_catalog_locations_total 1"))
	assert.True(t, strings.Contains(text, "shelf_scheduler_running_jobs 0"))
}
