package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/configstore"
	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/notify"
)

// ClientHandler implements GET/POST /api/client (§6): the connected-device
// roster, joined with stored labels, plus the device-action proxy that
// forwards restart/update/identify/notify commands to a named satellite.
type ClientHandler struct {
	conns *connmgr.Manager
	store *configstore.Store
	queue *notify.Queue
	log   zerolog.Logger

	httpClient *http.Client
}

func NewClientHandler(conns *connmgr.Manager, store *configstore.Store, queue *notify.Queue, log zerolog.Logger) *ClientHandler {
	return &ClientHandler{
		conns:      conns,
		store:      store,
		queue:      queue,
		log:        log.With().Str("component", "client_api").Logger(),
		httpClient: &http.Client{Timeout: 30 * time.Second, Transport: &http.Transport{DialContext: (&net.Dialer{Timeout: time.Second}).DialContext}},
	}
}

// clientRow is one entry of the joined client list (§6 GET /api/client).
type clientRow struct {
	Hostname string `json:"hostname"`
	Platform string `json:"platform"`
	MAC      string `json:"mac_addr"`
	IP       string `json:"ip,omitempty"`
	Version  string `json:"version,omitempty"`
	Label    string `json:"label,omitempty"`
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	labels, err := h.store.ListClientLabels(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "read client labels failed")
		return
	}
	byMAC := make(map[string]string, len(labels))
	for _, l := range labels {
		byMAC[l.MAC] = l.Label
	}

	rows := make([]clientRow, 0, h.conns.Count())
	haveLabels := true
	for _, sess := range h.conns.All() {
		ip, _, _ := net.SplitHostPort(sess.RemoteAddr)
		if ip == "" {
			ip = sess.RemoteAddr
		}
		label := byMAC[sess.MAC()]
		if label == "" {
			haveLabels = false
		}
		rows = append(rows, clientRow{
			Hostname: sess.Hostname(),
			Platform: sess.Platform(),
			MAC:      sess.MAC(),
			IP:       ip,
			Version:  strings.TrimPrefix(sess.UserAgent, "Willow/"),
			Label:    label,
		})
	}

	// Sort by label when every connected client has one; otherwise fall
	// back to hostname (§6 "sorted by label, fallback hostname").
	if haveLabels {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Label < rows[j].Label })
	} else {
		sort.Slice(rows, func(i, j int) bool { return rows[i].Hostname < rows[j].Hostname })
	}

	WriteJSON(w, http.StatusOK, rows)
}

// clientActionRequest is the POST /api/client body; fields are interpreted
// according to action.
type clientActionRequest struct {
	Hostname  string          `json:"hostname,omitempty"`
	MAC       string          `json:"mac_addr,omitempty"`
	Label     string          `json:"label,omitempty"`
	OTAURL    string          `json:"ota_url,omitempty"`
	WisTTSURL string          `json:"wis_tts_url,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (h *ClientHandler) Post(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	var req clientActionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	switch action {
	case "restart", "update", "identify":
		h.forwardCommand(w, r.Context(), action, req)
	case "config":
		h.upsertLabel(w, r.Context(), req)
	case "notify":
		h.enqueueNotify(w, r.Context(), req)
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "action must be restart, update, config, identify, or notify")
	}
}

// forwardCommand sends a command frame to the session identified by
// hostname (§6 "restart/update/identify ⇒ forward command frame").
func (h *ClientHandler) forwardCommand(w http.ResponseWriter, ctx context.Context, action string, req clientActionRequest) {
	sess := h.conns.ByHostname(req.Hostname)
	if sess == nil {
		WriteError(w, http.StatusNotFound, "client not connected")
		return
	}

	var frame string
	switch action {
	case "update":
		frame = fmt.Sprintf(`{"cmd":"ota_start","ota_url":%q}`, req.OTAURL)
	default:
		frame = fmt.Sprintf(`{"cmd":%q}`, action)
	}

	if err := sess.SendText(frame); err != nil {
		h.log.Warn().Err(err).Str("hostname", req.Hostname).Str("action", action).Msg("client command send failed")
		WriteError(w, http.StatusBadGateway, "send to client failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ClientHandler) upsertLabel(w http.ResponseWriter, ctx context.Context, req clientActionRequest) {
	if req.MAC == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "mac_addr is required")
		return
	}
	if err := h.store.UpsertClientLabel(ctx, req.MAC, req.Label); err != nil {
		WriteError(w, http.StatusInternalServerError, "upsert client label failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ClientHandler) enqueueNotify(w http.ResponseWriter, ctx context.Context, req clientActionRequest) {
	var n notify.Notification
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &n); err != nil {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid notification payload")
			return
		}
	}
	n.Hostname = req.Hostname

	if req.WisTTSURL != "" {
		h.warmTTS(ctx, req.WisTTSURL)
	}

	if err := h.queue.Add(n); err != nil {
		if apperr.Is(err, apperr.KindConfig) {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, "enqueue notification failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// warmTTS issues a best-effort GET to prime the TTS server's cache before
// the notification reaches the satellite (§6 "warming TTS via GET to
// wis_tts_url if applicable").
func (h *ClientHandler) warmTTS(ctx context.Context, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.log.Debug().Err(err).Str("url", url).Msg("tts warm request failed")
		return
	}
	resp.Body.Close()
}
