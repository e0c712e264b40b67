// Package harest implements the HA-REST command endpoint variant (§4.C):
// a REST specialization pointed at Home Assistant's conversation API.
package harest

import (
	"bytes"
	"context"
	"encoding/json"
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
	conversationPath = "/api/conversation/process"
	connectTimeout   = 1 * time.Second
	readTimeout      = 30 * time.Second
)

// Config describes one HA-REST instance.
type Config struct {
	BaseURL string
	Token   string
}

// Endpoint talks to Home Assistant's /api/conversation/process.
type Endpoint struct {
	url    string
	token  string
	client *http.Client
	log    zerolog.Logger
}

// New validates cfg and constructs an HA-REST endpoint.
func New(cfg Config, log zerolog.Logger) (*Endpoint, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, apperr.EndpointConfig("ha-rest endpoint requires base_url and token", nil)
	}
	return &Endpoint{
		url:   strings.TrimRight(cfg.BaseURL, "/") + conversationPath,
		token: cfg.Token,
		client: &http.Client{
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		log: log.With().Str("endpoint", "ha_rest").Logger(),
	}, nil
}

var _ endpoint.Endpoint = (*Endpoint)(nil)

type conversationReply struct {
	Response struct {
		Speech struct {
			Plain struct {
				Speech string `json:"speech"`
			} `json:"plain"`
		} `json:"speech"`
	} `json:"response"`
}

// Send posts the intent text to HA's conversation API and extracts
// response.speech.plain.speech when present.
func (e *Endpoint) Send(ctx context.Context, payload map[string]any, _ endpoint.Session) (*endpoint.Response, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.EndpointRuntime("marshal ha-rest payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(b))
	if err != nil {
		return nil, apperr.EndpointRuntime("build ha-rest request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.EndpointRuntime("ha-rest request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.log.Warn().Int("status", resp.StatusCode).Msg("ha-rest returned non-2xx")
		r := endpoint.Wrap(endpoint.Result{OK: false, Speech: "Error!"})
		return &r, nil
	}

	var reply conversationReply
	speech := ""
	if err := json.Unmarshal(body, &reply); err == nil {
		speech = reply.Response.Speech.Plain.Speech
	}

	r := endpoint.Wrap(endpoint.Result{OK: true, Speech: endpoint.SanitizeSpeech(speech)})
	return &r, nil
}

// Stop is a no-op: the HA-REST variant holds no background task.
func (e *Endpoint) Stop() {}
