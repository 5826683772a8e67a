package httpapi

import (
	"net/http"
	"time"

	"gorm.io/gorm"
)

type healthData struct {
	Service   string `json:"service"`
	StartedAt string `json:"started_at"`
	Uptime    string `json:"uptime"`
	UptimeSec int64  `json:"uptime_sec"`
}

type healthHandler struct {
	db        *gorm.DB
	startedAt time.Time
}

func newHealthHandler(db *gorm.DB, startedAt time.Time) *healthHandler {
	return &healthHandler{db: db, startedAt: startedAt}
}

// Liveness confirms the catalog database is reachable. There is no
// separate readiness probe: the library has nothing to warm up between
// "process started" and "database reachable".
func (h *healthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}

	uptime := time.Since(h.startedAt)
	data := healthData{
		Service:   "shelfd",
		StartedAt: h.startedAt.UTC().Format(time.RFC3339),
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}

	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, response{
			Status:    "unhealthy",
			Timestamp: time.Now().UTC(),
			Data:      data,
			Error:     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}
