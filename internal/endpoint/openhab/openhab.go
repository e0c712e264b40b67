// Package openhab implements the openHAB command endpoint variant (§4.C):
// REST to /rest/voice/interpreters with basic auth, sending raw text.
package openhab

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
)

const (
	interpretersPath = "/rest/voice/interpreters"
	connectTimeout   = 1 * time.Second
	readTimeout      = 30 * time.Second
)

// Config describes one openHAB instance. Token is sent as the basic-auth
// username per §4.C.
type Config struct {
	BaseURL string
	Token   string
}

// Endpoint talks to openHAB's voice interpreter REST API.
type Endpoint struct {
	url    string
	token  string
	client *http.Client
	log    zerolog.Logger
}

// New validates cfg and constructs an openHAB endpoint.
func New(cfg Config, log zerolog.Logger) (*Endpoint, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, apperr.EndpointConfig("openhab endpoint requires base_url and token", nil)
	}
	return &Endpoint{
		url:   strings.TrimRight(cfg.BaseURL, "/") + interpretersPath,
		token: cfg.Token,
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		log: log.With().Str("endpoint", "openhab").Logger(),
	}, nil
}

var _ endpoint.Endpoint = (*Endpoint)(nil)

// Send posts raw intent text and returns the interpreter's plain-text reply
// as speech.
func (e *Endpoint) Send(ctx context.Context, payload map[string]any, _ endpoint.Session) (*endpoint.Response, error) {
	text, _ := payload["text"].(string)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader([]byte(text)))
	if err != nil {
		return nil, apperr.EndpointRuntime("build openhab request", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.SetBasicAuth(e.token, "")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.EndpointRuntime("openhab request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.log.Warn().Int("status", resp.StatusCode).Msg("openhab returned non-2xx")
		r := endpoint.Wrap(endpoint.Result{OK: false, Speech: "Error!"})
		return &r, nil
	}

	r := endpoint.Wrap(endpoint.Result{OK: true, Speech: endpoint.SanitizeSpeech(string(body))})
	return &r, nil
}

// Stop is a no-op: the openHAB variant holds no background task.
func (e *Endpoint) Stop() {}
