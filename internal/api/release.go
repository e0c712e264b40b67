package api

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/release"
)

// ReleaseHandler implements GET/POST /api/release (§6): list the merged
// upstream/local release catalog, delete a cached asset, or pre-fetch one
// by admin action.
type ReleaseHandler struct {
	cache *release.Cache
	log   zerolog.Logger
}

func NewReleaseHandler(cache *release.Cache, log zerolog.Logger) *ReleaseHandler {
	return &ReleaseHandler{cache: cache, log: log.With().Str("component", "release_api").Logger()}
}

func (h *ReleaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	assets, err := h.cache.ListReleases(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list releases failed")
		return
	}
	WriteJSON(w, http.StatusOK, assets)
}

type releaseActionRequest struct {
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Path     string `json:"path,omitempty"`
}

func (h *ReleaseHandler) Post(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	var req releaseActionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	switch action {
	case "cache":
		if req.Version == "" || req.Platform == "" || req.URL == "" {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "version, platform, and url are required")
			return
		}
		if err := h.cache.Cache(r.Context(), req.Version, req.Platform, req.URL, req.Size); err != nil {
			writeReleaseErr(w, h.log, err)
			return
		}
	case "delete":
		if req.Path == "" {
			WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "path is required")
			return
		}
		if err := h.cache.Delete(req.Path); err != nil {
			writeReleaseErr(w, h.log, err)
			return
		}
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "action must be cache or delete")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeReleaseErr(w http.ResponseWriter, log zerolog.Logger, err error) {
	if apperr.Is(err, apperr.KindPathUnsafe) {
		log.Warn().Err(err).Msg("rejected unsafe release path")
		WriteError(w, http.StatusBadRequest, "invalid path")
		return
	}
	WriteError(w, http.StatusInternalServerError, "release operation failed")
}
