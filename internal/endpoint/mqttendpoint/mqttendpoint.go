// Package mqttendpoint implements the MQTT command endpoint variant (§4.C):
// a publish-only client with automatic reconnect and no response
// correlation, built on paho.mqtt.golang's connect/auto-reconnect options.
package mqttendpoint

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
)

// AuthKind selects the MQTT variant's auth scheme.
type AuthKind int

const (
	AuthNoneKind AuthKind = iota
	AuthUserPW
)

// Config describes one MQTT command-endpoint instance.
type Config struct {
	Host     string
	Port     int // default 8883
	TLS      bool
	Topic    string
	Auth     AuthKind
	Username string
	Password string
}

// Endpoint publishes intent payloads to a fixed MQTT topic. It never
// correlates a response: Send always returns a synchronous {ok:true}
// once the publish is accepted by the client library, or an
// EndpointRuntimeError if the client is not currently connected.
type Endpoint struct {
	conn      mqtt.Client
	topic     string
	connected atomic.Bool
	log       zerolog.Logger
}

// New validates cfg (user+pass required when Auth is AuthUserPW) and
// connects asynchronously with automatic reconnect.
func New(cfg Config, log zerolog.Logger) (*Endpoint, error) {
	if cfg.Auth == AuthUserPW && (cfg.Username == "" || cfg.Password == "") {
		return nil, apperr.EndpointConfig("mqtt endpoint with userpw auth requires username and password", nil)
	}
	if cfg.Topic == "" {
		return nil, apperr.EndpointConfig("mqtt endpoint requires a topic", nil)
	}
	port := cfg.Port
	if port == 0 {
		port = 8883
	}

	e := &Endpoint{
		topic: cfg.Topic,
		log:   log.With().Str("endpoint", "mqtt").Logger(),
	}

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port)

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("wsc-engine-endpoint-%d", time.Now().UnixNano())).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(e.onConnect).
		SetConnectionLostHandler(e.onConnectionLost)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if cfg.Auth == AuthUserPW {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	e.conn = mqtt.NewClient(opts)
	token := e.conn.Connect()
	// Connecting asynchronously per §4.C; we don't block startup on the
	// broker being reachable, matching automatic-reconnect semantics.
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			e.log.Warn().Err(err).Msg("mqtt endpoint initial connect failed, will retry")
		}
	}()

	return e, nil
}

var _ endpoint.Endpoint = (*Endpoint)(nil)

func (e *Endpoint) onConnect(mqtt.Client) {
	e.connected.Store(true)
	e.log.Info().Str("topic", e.topic).Msg("mqtt endpoint connected")
}

func (e *Endpoint) onConnectionLost(_ mqtt.Client, err error) {
	e.connected.Store(false)
	e.log.Warn().Err(err).Msg("mqtt endpoint connection lost, will auto-reconnect")
}

// Send publishes payload's "text" string, as the raw message body, to the
// configured topic; other payload keys are not sent.
// There is no response correlation; the returned Response is always
// synchronous.
func (e *Endpoint) Send(ctx context.Context, payload map[string]any, _ endpoint.Session) (*endpoint.Response, error) {
	if !e.connected.Load() {
		return nil, apperr.EndpointRuntime("mqtt endpoint not connected", nil)
	}

	text, _ := payload["text"].(string)
	token := e.conn.Publish(e.topic, 0, false, text)

	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		return nil, apperr.EndpointRuntime("mqtt publish cancelled", ctx.Err())
	case <-done:
	}

	if err := token.Error(); err != nil {
		return nil, apperr.EndpointRuntime("mqtt publish failed", err)
	}

	r := endpoint.Wrap(endpoint.Result{OK: true, Speech: ""})
	return &r, nil
}

// Stop disconnects the MQTT client, releasing its background reconnect
// loop.
func (e *Endpoint) Stop() {
	e.log.Info().Msg("disconnecting mqtt endpoint")
	e.conn.Disconnect(1000)
}
