package api

import (
	"net/http"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/notify"
)

// StatusHandler implements GET /api/status (§6): a read-only diagnostic
// snapshot of the server's live state, with no business logic of its own.
type StatusHandler struct {
	conns *connmgr.Manager
	queue *notify.Queue
	log   zerolog.Logger
}

func NewStatusHandler(conns *connmgr.Manager, queue *notify.Queue, log zerolog.Logger) *StatusHandler {
	return &StatusHandler{conns: conns, queue: queue, log: log.With().Str("component", "status_api").Logger()}
}

type sessionSnapshot struct {
	Handle       string `json:"handle"`
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
	MAC          string `json:"mac_addr"`
	NotifyActive int64  `json:"notify_active"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("type") {
	case "connmgr":
		sessions := h.conns.All()
		rows := make([]sessionSnapshot, 0, len(sessions))
		for _, s := range sessions {
			rows = append(rows, sessionSnapshot{
				Handle:       s.Handle(),
				Hostname:     s.Hostname(),
				Platform:     s.Platform(),
				MAC:          s.MAC(),
				NotifyActive: s.NotifyActive(),
			})
		}
		WriteJSON(w, http.StatusOK, map[string]any{"sessions": rows, "count": len(rows)})

	case "notify_queue":
		WriteJSON(w, http.StatusOK, map[string]any{"depth": h.queue.Depth()})

	case "asyncio_tasks":
		WriteJSON(w, http.StatusOK, map[string]any{
			"goroutines": runtime.NumGoroutine(),
		})

	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "type must be asyncio_tasks, connmgr, or notify_queue")
	}
}
