// Package haws implements the HA-WS command endpoint variant (§4.C): a
// persistent WebSocket client against Home Assistant's /api/websocket,
// correlating asynchronous intent-end events back to the session that
// issued the request. Transport and reconnect-on-error shape follow the
// same gorilla/websocket client pattern used for the satellite protocol
// transport (internal/satellite).
package haws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
)

const reconnectBackoff = 1 * time.Second

type state int

const (
	stateConnecting state = iota
	stateAuthWait
	stateReady
)

// Config describes one HA-WS instance.
type Config struct {
	BaseURL string // e.g. http://homeassistant.local:8123
	Token   string
}

// Endpoint is the persistent HA-WS client.
type Endpoint struct {
	cfg      Config
	log      zerolog.Logger
	callback endpoint.Callback

	mu          sync.Mutex
	conn        *websocket.Conn
	st          state
	pending     map[int64]endpoint.Session
	deviceIDs   map[string]string // willow_identifier (mac) -> ha_device_id
	deviceListID int64
	nextID      int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an HA-WS endpoint and starts its background connect loop.
// cb is invoked whenever an intent-end event resolves for a pending
// request; the caller (the factory) wires it to deliver over the
// connection manager by session handle.
func New(cfg Config, cb endpoint.Callback, log zerolog.Logger) (*Endpoint, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, apperr.EndpointConfig("ha-ws endpoint requires base_url and token", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		cfg:      cfg,
		log:      log.With().Str("endpoint", "ha_ws").Logger(),
		callback: cb,
		pending:  make(map[int64]endpoint.Session),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go e.run(ctx)

	return e, nil
}

var _ endpoint.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) wsURL() (string, error) {
	u, err := url.Parse(e.cfg.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// run owns the connection for its whole lifetime: connect, handshake,
// message loop, and reconnect-on-error, exactly the long-lived-task shape
// every background client in this server follows.
func (e *Endpoint) run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := e.connectOnce(ctx); err != nil {
			e.log.Warn().Err(err).Msg("ha-ws connection error, reconnecting")
		}

		e.mu.Lock()
		e.conn = nil
		e.st = stateConnecting
		e.pending = make(map[int64]endpoint.Session) // Open Question (b): drop on reconnect
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (e *Endpoint) connectOnce(ctx context.Context) error {
	wsURL, err := e.wsURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		EnableCompression: false, // "deflate disabled" per §4.C
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial ha-ws: %w", err)
	}
	defer conn.Close()

	e.mu.Lock()
	e.conn = conn
	e.st = stateAuthWait
	e.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			e.log.Warn().Err(err).Msg("ha-ws malformed frame")
			continue
		}

		if err := e.handleFrame(conn, frame); err != nil {
			return err
		}
	}
}

func (e *Endpoint) handleFrame(conn *websocket.Conn, frame map[string]any) error {
	typ, _ := frame["type"].(string)

	e.mu.Lock()
	st := e.st
	e.mu.Unlock()

	switch {
	case st == stateAuthWait && typ == "auth_required":
		return conn.WriteJSON(map[string]any{"type": "auth", "access_token": e.cfg.Token})

	case st == stateAuthWait && typ == "auth_ok":
		e.mu.Lock()
		e.deviceListID = e.allocID()
		id := e.deviceListID
		e.st = stateReady
		e.mu.Unlock()
		return conn.WriteJSON(map[string]any{"id": id, "type": "config/device_registry/list"})

	case st == stateReady && typ == "result":
		e.handleResult(frame)

	case st == stateReady && typ == "event":
		e.handleEvent(frame)
	}

	return nil
}

func (e *Endpoint) handleResult(frame map[string]any) {
	idF, _ := frame["id"].(float64)
	id := int64(idF)

	e.mu.Lock()
	isDeviceList := id == e.deviceListID
	e.mu.Unlock()
	if !isDeviceList {
		return
	}

	result, _ := frame["result"].([]any)
	devices := make(map[string]string, len(result))
	for _, raw := range result {
		dev, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		devID, _ := dev["id"].(string)
		identifiers, _ := dev["identifiers"].([]any)
		for _, ident := range identifiers {
			pair, ok := ident.([]any)
			if !ok || len(pair) < 2 {
				continue
			}
			if mac, ok := pair[1].(string); ok {
				devices[strings.ToLower(mac)] = devID
			}
		}
	}

	e.mu.Lock()
	e.deviceIDs = devices
	e.mu.Unlock()
}

func (e *Endpoint) handleEvent(frame map[string]any) {
	event, _ := frame["event"].(map[string]any)
	if event == nil {
		return
	}
	if t, _ := event["type"].(string); t != "intent-end" {
		return
	}
	idF, _ := frame["id"].(float64)
	id := int64(idF)

	e.mu.Lock()
	sess, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	responseType, _ := dig(event, "data", "intent_output", "response", "response_type").(string)
	speech, _ := dig(event, "data", "intent_output", "response", "speech", "plain", "speech").(string)

	res := endpoint.Result{
		OK:     responseType == "action_done",
		Speech: endpoint.SanitizeSpeech(speech),
	}
	if e.callback != nil {
		e.callback(sess, res)
	}
}

func dig(m map[string]any, path ...string) any {
	var cur any = m
	for _, p := range path {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = asMap[p]
	}
	return cur
}

func (e *Endpoint) allocID() int64 {
	e.nextID++
	return e.nextID
}

// Send allocates a monotonic id, records the pending correlation, and
// posts an assist_pipeline/run frame. On success it returns (nil, nil): the
// answer arrives later through the callback. It returns an
// EndpointRuntime error when the connection is not ready or the write fails.
func (e *Endpoint) Send(ctx context.Context, payload map[string]any, sess endpoint.Session) (*endpoint.Response, error) {
	e.mu.Lock()
	conn := e.conn
	st := e.st
	if conn == nil || st != stateReady {
		e.mu.Unlock()
		return nil, apperr.EndpointRuntime("ha-ws not ready", nil)
	}
	id := e.allocIDMonotonic()
	e.pending[id] = sess

	frame := map[string]any{
		"id":          id,
		"type":        "assist_pipeline/run",
		"start_stage": "intent",
		"end_stage":   "intent",
		"input":       payload,
	}
	if devID, ok := e.deviceIDs[strings.ToLower(sess.MAC())]; ok && devID != "" {
		frame["device_id"] = devID
	}
	e.mu.Unlock()

	if err := conn.WriteJSON(frame); err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return nil, apperr.EndpointRuntime("ha-ws send failed", err)
	}

	return nil, nil
}

// allocIDMonotonic allocates a request id from a nanosecond monotonic
// clock reading, per §4.C ("monotonic id") — distinct from the small
// sequential ids used for protocol handshake frames.
func (e *Endpoint) allocIDMonotonic() int64 {
	return clockBase.UnixNano() + time.Since(clockBase).Nanoseconds()
}

// clockBase anchors allocIDMonotonic: time.Since reads Go's monotonic clock,
// so ids never go backwards when the wall clock is adjusted.
var clockBase = time.Now()

// Stop tears down the connection and cancels the background reconnect
// loop, blocking until the run goroutine has exited.
func (e *Endpoint) Stop() {
	e.cancel()
	e.mu.Lock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.mu.Unlock()
	<-e.done
}

// ProbeAssistPipeline checks whether the target HA instance exposes the
// assist_pipeline component via GET /api/components, used by the factory
// to decide between HA-WS and HA-REST (§4.C factory rule).
func ProbeAssistPipeline(ctx context.Context, baseURL, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/components", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("ha /api/components returned %d", resp.StatusCode)
	}

	var components []string
	if err := json.NewDecoder(resp.Body).Decode(&components); err != nil {
		return false, err
	}
	for _, c := range components {
		if c == "assist_pipeline" {
			return true, nil
		}
	}
	return false, nil
}
