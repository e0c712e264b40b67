package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
)

// AssetHandler serves admin-managed binary assets from ASSET_ROOT
// (§6 GET /api/asset): artwork, sound effects, and similar files pushed to
// satellites by reference rather than over the protocol itself.
type AssetHandler struct {
	root string
	log  zerolog.Logger
}

func NewAssetHandler(root string, log zerolog.Logger) *AssetHandler {
	return &AssetHandler{root: root, log: log.With().Str("component", "asset").Logger()}
}

// allowedAudioExt gates on file extension rather than the exact
// Content-Type string a sniffer reports for it — mimetype's own subtype
// spelling for flac/wav has shifted across versions, and stdlib's
// http.DetectContentType doesn't recognize flac at all, so comparing
// against a single hardcoded MIME string is the wrong invariant to check.
var allowedAudioExt = map[string]bool{
	".flac": true,
	".wav":  true,
}

// assetPath resolves type/name to an absolute path under root, rejecting
// any attempt to escape it (same safePath shape as the release cache).
func assetPath(root, assetType, name string) (string, error) {
	full := filepath.Join(root, filepath.FromSlash(assetType), filepath.FromSlash(name))
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", apperr.PathUnsafe("cannot resolve path")
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.PathUnsafe("cannot resolve root")
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	}
	if !strings.HasPrefix(abs, base+string(filepath.Separator)) && abs != base {
		return "", apperr.PathUnsafe("asset path escapes asset root")
	}
	return abs, nil
}

// ServeHTTP implements GET /api/asset?asset=<name>&type=audio|image|other.
func (h *AssetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("asset")
	assetType := r.URL.Query().Get("type")
	if name == "" || assetType == "" {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "asset and type are required")
		return
	}
	switch assetType {
	case "audio", "image", "other":
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "type must be audio, image, or other")
		return
	}

	path, err := assetPath(h.root, assetType, name)
	if err != nil {
		h.log.Warn().Err(err).Str("asset", name).Str("type", assetType).Msg("rejected unsafe asset path")
		WriteError(w, http.StatusBadRequest, "invalid asset path")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			WriteError(w, http.StatusNotFound, "asset not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "asset read failed")
		return
	}

	detected := mimetype.Detect(data)
	if assetType == "audio" && !allowedAudioExt[detected.Extension()] {
		WriteErrorWithCode(w, http.StatusUnsupportedMediaType, ErrUnsupportedMediaType, "audio assets must be flac or wav")
		return
	}

	w.Header().Set("Content-Type", detected.String())
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
