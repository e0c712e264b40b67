// Package release implements the Release Cache (§4.B): fetch-once,
// path-traversal-safe serving of firmware binaries under OTA_ROOT, with
// atomic writes (temp file then rename). A cached file is reused when no
// size is requested or its size matches; fetched binaries are not checked
// against a checksum, and sha256 values are only computed for the local
// assets listed by ListReleases.
package release

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/metrics"
)

const assetWarmTimeout = 60 * time.Second

// Asset describes one release binary (§3 Release Asset).
type Asset struct {
	Tag       string `json:"tag"`
	Platform  string `json:"platform"`
	Size      int64  `json:"size"`
	SHA256    string `json:"sha256"`
	LocalPath string `json:"local_path,omitempty"`
	Cached    bool   `json:"cached"`
	WASURL    string `json:"was_url,omitempty"`
}

// UpstreamCatalog fetches the published release catalog. Implemented by
// the component wiring the upstream release-index URL (injected so this
// package stays free of any one vendor's catalog format).
type UpstreamCatalog interface {
	List(ctx context.Context) ([]Asset, error)
	AssetURL(tag, platform string) (string, error)
}

// Cache is the Release Cache's single entry point.
type Cache struct {
	root     string
	upstream UpstreamCatalog
	wasURL   string // satellite-facing WAS URL, for was_url annotation
	client   *http.Client
	log      zerolog.Logger
}

// New constructs a Cache rooted at root. wasURL is the configured WAS URL
// (ws/wss scheme) used to synthesize each asset's was_url annotation.
func New(root string, upstream UpstreamCatalog, wasURL string, log zerolog.Logger) *Cache {
	return &Cache{
		root:     root,
		upstream: upstream,
		wasURL:   wasURL,
		client:   &http.Client{Timeout: assetWarmTimeout},
		log:      log.With().Str("component", "release_cache").Logger(),
	}
}

// safePath resolves version/platform.bin to an absolute path under root,
// rejecting any traversal attempt (§4.B step 2, §8 property 1). Every
// externally supplied version or platform passes through here.
func (c *Cache) safePath(version, platform string) (string, error) {
	full := filepath.Join(c.root, filepath.FromSlash(version), platform+".bin")
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", apperr.PathUnsafe("cannot resolve path")
	}
	base, err := filepath.Abs(c.root)
	if err != nil {
		return "", apperr.PathUnsafe("cannot resolve root")
	}
	resolved, err := filepath.EvalSymlinks(filepath.Dir(abs))
	if err == nil {
		abs = filepath.Join(resolved, filepath.Base(abs))
	}
	if !strings.HasPrefix(abs, base+string(filepath.Separator)) && abs != base {
		return "", apperr.PathUnsafe(fmt.Sprintf("path escapes ota root: %q/%q", version, platform))
	}
	return abs, nil
}

// SafeLocalPath resolves an arbitrary admin-supplied path under root,
// used by the release-delete operation (§4.B "delete(path)").
func (c *Cache) SafeLocalPath(relPath string) (string, error) {
	full := filepath.Join(c.root, filepath.FromSlash(relPath))
	abs, err := filepath.Abs(full)
	if err != nil {
		return "", apperr.PathUnsafe("cannot resolve path")
	}
	base, err := filepath.Abs(c.root)
	if err != nil {
		return "", apperr.PathUnsafe("cannot resolve root")
	}
	if !strings.HasPrefix(abs, base+string(filepath.Separator)) && abs != base {
		return "", apperr.PathUnsafe(fmt.Sprintf("path escapes ota root: %q", relPath))
	}
	return abs, nil
}

// Get implements get(version, platform) → bytes (§4.B). If the cached
// file already exists and, when size is non-zero, its size matches, it is
// returned without any upstream call (§8 idempotence property). Otherwise
// the asset is fetched once from upstream and written atomically.
func (c *Cache) Get(ctx context.Context, version, platform string, size int64) ([]byte, error) {
	path, err := c.safePath(version, platform)
	if err != nil {
		return nil, err
	}

	if info, statErr := os.Stat(path); statErr == nil {
		if size == 0 || info.Size() == size {
			data, readErr := os.ReadFile(path)
			if readErr == nil {
				metrics.ReleaseFetchesTotal.WithLabelValues("hit").Inc()
				return data, nil
			}
		}
	}

	assetURL, err := c.upstream.AssetURL(version, platform)
	if err != nil {
		metrics.ReleaseFetchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("release: resolve upstream url: %w", err)
	}

	data, err := c.fetch(ctx, assetURL)
	if err != nil {
		metrics.ReleaseFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := c.writeAtomic(path, data); err != nil {
		metrics.ReleaseFetchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ReleaseFetchesTotal.WithLabelValues("miss").Inc()
	return data, nil
}

// Cache is the admin pre-fetch operation (§4.B "cache(version, platform,
// url, size)"): force a fetch from an explicit URL regardless of what the
// upstream catalog would resolve.
func (c *Cache) Cache(ctx context.Context, version, platform, assetURL string, size int64) error {
	path, err := c.safePath(version, platform)
	if err != nil {
		return err
	}

	if info, statErr := os.Stat(path); statErr == nil && (size == 0 || info.Size() == size) {
		return nil
	}

	data, err := c.fetch(ctx, assetURL)
	if err != nil {
		return err
	}
	return c.writeAtomic(path, data)
}

func (c *Cache) fetch(ctx context.Context, assetURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, fmt.Errorf("release: build fetch request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release: fetch upstream asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("release: upstream asset not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("release: upstream returned %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// writeAtomic writes data to path using the temp-file-then-rename pattern:
// the version directory is created first, then a sibling temp file is
// written and renamed into place so readers never observe a partial file.
func (c *Cache) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("release: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".release-*.tmp")
	if err != nil {
		return fmt.Errorf("release: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("release: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("release: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("release: rename into place: %w", err)
	}
	return nil
}

// Delete implements delete(path) (§4.B), rejecting any path outside root.
func (c *Cache) Delete(relPath string) error {
	abs, err := c.SafeLocalPath(relPath)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release: delete %s: %w", relPath, err)
	}
	return nil
}

// ListReleases merges the upstream catalog with a locally-scanned
// OTA_ROOT/local/*.bin catalog (§4.B step 5), computing each local asset's
// sha256 on read and annotating was_url/cached for every entry.
func (c *Cache) ListReleases(ctx context.Context) ([]Asset, error) {
	var assets []Asset

	upstream, err := c.upstream.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("upstream release catalog fetch failed")
	} else {
		assets = append(assets, upstream...)
	}

	localDir := filepath.Join(c.root, "local")
	entries, err := os.ReadDir(localDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
				continue
			}
			full := filepath.Join(localDir, e.Name())
			info, err := e.Info()
			if err != nil {
				continue
			}
			sum, err := sha256File(full)
			if err != nil {
				c.log.Warn().Err(err).Str("file", e.Name()).Msg("sha256 computation failed")
				continue
			}
			platform := strings.TrimSuffix(e.Name(), ".bin")
			assets = append(assets, Asset{
				Tag:       "local",
				Platform:  platform,
				Size:      info.Size(),
				SHA256:    sum,
				LocalPath: full,
			})
		}
	}

	for i := range assets {
		path, err := c.safePath(assets[i].Tag, assets[i].Platform)
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				assets[i].Cached = true
			}
		}
		assets[i].WASURL = c.synthesizeWASURL(assets[i].Tag, assets[i].Platform)
	}

	return assets, nil
}

// synthesizeWASURL builds the server-local OTA URL for an asset, preserving
// the scheme family of the configured WAS URL (ws↔http, wss↔https), per
// §4.B.
func (c *Cache) synthesizeWASURL(tag, platform string) string {
	u, err := url.Parse(c.wasURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/api/ota"
	u.RawQuery = url.Values{"version": {tag}, "platform": {platform}}.Encode()
	return u.String()
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
