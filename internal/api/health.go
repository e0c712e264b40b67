package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/database"
	"github.com/satfleet/wsc-engine/internal/endpoint"
	"github.com/satfleet/wsc-engine/internal/notify"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
	Sessions      int               `json:"sessions"`
	NotifyDepth   int               `json:"notify_queue_depth"`
}

// HealthHandler reports on the four long-lived subsystems the satellite
// coordination server depends on: the config store's database connection,
// the active command endpoint, the connection manager, and the notify
// queue.
type HealthHandler struct {
	db        *database.DB
	conns     *connmgr.Manager
	queue     *notify.Queue
	factory   *endpoint.Factory
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, conns *connmgr.Manager, queue *notify.Queue, factory *endpoint.Factory, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		conns:     conns,
		queue:     queue,
		factory:   factory,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["config_store"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["config_store"] = "ok"
	}

	if h.factory.Active() != nil {
		checks["command_endpoint"] = "ok"
	} else {
		checks["command_endpoint"] = "not_configured"
		if status == "healthy" {
			status = "degraded"
		}
	}

	checks["connmgr"] = "ok"
	checks["notify_queue"] = "ok"

	resp := HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
		Sessions:      h.conns.Count(),
		NotifyDepth:   h.queue.Depth(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(resp)
}
