package api

import (
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/release"
)

// OTAHandler implements GET /api/ota (§6): serve a firmware binary, cached
// or upstream-fetched, through the Release Cache.
type OTAHandler struct {
	cache *release.Cache
	log   zerolog.Logger
}

func NewOTAHandler(cache *release.Cache, log zerolog.Logger) *OTAHandler {
	return &OTAHandler{cache: cache, log: log.With().Str("component", "ota_api").Logger()}
}

func (h *OTAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")
	platform := r.URL.Query().Get("platform")
	if version == "" || platform == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "version and platform are required")
		return
	}

	var size int64
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			size = n
		}
	}

	data, err := h.cache.Get(r.Context(), version, platform, size)
	if err != nil {
		if apperr.Is(err, apperr.KindPathUnsafe) {
			h.log.Warn().Err(err).Str("version", version).Str("platform", platform).Msg("rejected unsafe ota path")
			WriteError(w, http.StatusBadRequest, "invalid version or platform")
			return
		}
		WriteError(w, http.StatusNotFound, "release not found")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
