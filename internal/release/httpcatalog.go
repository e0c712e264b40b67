package release

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// HTTPCatalog is the default UpstreamCatalog: a JSON index served over
// HTTPS, fetched with a plain http.Client with a short timeout, decoded
// into an anonymous struct, logging and continuing on failure.
type HTTPCatalog struct {
	indexURL string
	client   *http.Client
	log      zerolog.Logger

	entries []catalogEntry // cached from the most recent List, used by AssetURL
}

// NewHTTPCatalog constructs a catalog client against indexURL, a JSON
// document of the form {"assets":[{"tag":...,"platform":...,"url":...,
// "size":...}]}. Empty indexURL disables upstream fetches entirely; List
// then returns an empty catalog and AssetURL always errors, so the Cache
// falls back to whatever is already on local disk.
func NewHTTPCatalog(indexURL string, timeout time.Duration, log zerolog.Logger) *HTTPCatalog {
	return &HTTPCatalog{
		indexURL: indexURL,
		client:   &http.Client{Timeout: timeout},
		log:      log.With().Str("component", "release_catalog").Logger(),
	}
}

type catalogEntry struct {
	Tag      string `json:"tag"`
	Platform string `json:"platform"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

func (c *HTTPCatalog) List(ctx context.Context) ([]Asset, error) {
	if c.indexURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("release: build catalog request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release: fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release: catalog returned status %d", resp.StatusCode)
	}

	var body struct {
		Assets []catalogEntry `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("release: decode catalog: %w", err)
	}

	out := make([]Asset, 0, len(body.Assets))
	for _, e := range body.Assets {
		out = append(out, Asset{Tag: e.Tag, Platform: e.Platform})
	}
	c.entries = body.Assets
	return out, nil
}

func (c *HTTPCatalog) AssetURL(tag, platform string) (string, error) {
	for _, e := range c.entries {
		if e.Tag == tag && e.Platform == platform {
			if _, err := url.Parse(e.URL); err != nil {
				return "", fmt.Errorf("release: catalog entry has invalid url: %w", err)
			}
			return e.URL, nil
		}
	}
	return "", fmt.Errorf("release: no catalog entry for %s/%s", tag, platform)
}
