// Package restendpoint implements the generic REST command endpoint variant
// (§4.C "REST variant"): POST JSON or text to a fixed URL with one of three
// auth schemes, collapsing the upstream response to the common
// {ok, speech} result contract.
package restendpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
)

// AuthKind selects one of the three supported REST auth schemes.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBasic
	AuthHeader
)

const (
	connectTimeout = 1 * time.Second
	readTimeout    = 30 * time.Second
)

// Config describes one REST variant instance.
type Config struct {
	URL      string
	Auth     AuthKind
	User     string // AuthBasic
	Pass     string // AuthBasic
	Header   string // AuthHeader: full header value, e.g. "Bearer xyz"
	AsJSON   bool   // true: POST application/json; false: POST text/plain
}

// Endpoint is the generic REST command endpoint.
type Endpoint struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
}

// New validates cfg and constructs a REST endpoint. Returns an
// apperr.EndpointConfig error when the URL is empty.
func New(cfg Config, log zerolog.Logger) (*Endpoint, error) {
	if cfg.URL == "" {
		return nil, apperr.EndpointConfig("rest endpoint requires a url", nil)
	}
	return &Endpoint{
		cfg: cfg,
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		log: log.With().Str("endpoint", "rest").Logger(),
	}, nil
}

var _ endpoint.Endpoint = (*Endpoint)(nil)

// Send performs a synchronous POST and returns the result immediately; the
// REST variant never defers to a callback.
func (e *Endpoint) Send(ctx context.Context, payload map[string]any, _ endpoint.Session) (*endpoint.Response, error) {
	var body io.Reader
	contentType := "text/plain"
	if e.cfg.AsJSON {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.EndpointRuntime("marshal rest payload", err)
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	} else if text, ok := payload["text"].(string); ok {
		body = bytes.NewReader([]byte(text))
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, body)
	if err != nil {
		return nil, apperr.EndpointRuntime("build rest request", err)
	}
	req.Header.Set("Content-Type", contentType)
	e.applyAuth(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.EndpointRuntime("rest request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.log.Warn().Int("status", resp.StatusCode).Msg("rest endpoint returned non-2xx")
		r := endpoint.Wrap(endpoint.Result{OK: false, Speech: "Error!"})
		return &r, nil
	}

	r := endpoint.Wrap(endpoint.Result{OK: true, Speech: endpoint.SanitizeSpeech(string(respBody))})
	return &r, nil
}

func (e *Endpoint) applyAuth(req *http.Request) {
	switch e.cfg.Auth {
	case AuthBasic:
		req.SetBasicAuth(e.cfg.User, e.cfg.Pass)
	case AuthHeader:
		req.Header.Set("Authorization", e.cfg.Header)
	}
}

// Stop is a no-op: the REST variant holds no background task.
func (e *Endpoint) Stop() {}
