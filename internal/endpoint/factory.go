package endpoint

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/endpoint/harest"
	"github.com/satfleet/wsc-engine/internal/endpoint/haws"
	"github.com/satfleet/wsc-engine/internal/endpoint/mqttendpoint"
	"github.com/satfleet/wsc-engine/internal/endpoint/openhab"
	"github.com/satfleet/wsc-engine/internal/endpoint/restendpoint"
)

// Selector names one of the four command-endpoint selector values, matching
// the configstore Config.CommandEndpoint selector field. SelectorHA covers two
// variants: buildHA picks HA-WS or HA-REST.
type Selector string

const (
	SelectorHA       Selector = "ha"
	SelectorOpenHAB  Selector = "openhab"
	SelectorREST     Selector = "rest"
	SelectorMQTT     Selector = "mqtt"
)

// Credentials carries the subset of the Typed Config needed to construct
// whichever variant Selector names.
type Credentials struct {
	HAHost  string
	HAPort  int
	HATLS   bool
	HAToken string

	OpenHABURL   string
	OpenHABToken string

	RESTURL    string
	RESTAuth   restendpoint.AuthKind
	RESTUser   string
	RESTPass   string
	RESTHeader string

	MQTTHost     string
	MQTTPort     int
	MQTTTLS      bool
	MQTTTopic    string
	MQTTAuth     mqttendpoint.AuthKind
	MQTTUsername string
	MQTTPassword string
}

// Factory holds the currently active Endpoint and swaps it out wholesale
// on configuration change, per §4.C's factory rule and §9's "do not share
// state across cases" design note.
type Factory struct {
	mu       sync.Mutex
	active   Endpoint
	callback Callback
	log      zerolog.Logger

	probeAssistPipeline func(ctx context.Context, baseURL, token string) (bool, error)
}

// New constructs a Factory with no active endpoint. cb is wired to
// whichever variant delivers asynchronous results (today, only HA-WS).
func New(cb Callback, log zerolog.Logger) *Factory {
	return &Factory{
		callback:            cb,
		log:                 log.With().Str("component", "endpoint_factory").Logger(),
		probeAssistPipeline: haws.ProbeAssistPipeline,
	}
}

// Active returns the currently selected endpoint, or nil if none is
// configured or construction failed (§7 EndpointConfigError: "endpoint
// set to null, server keeps running").
func (f *Factory) Active() Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Reconfigure builds the endpoint named by sel from creds and replaces the
// active instance, calling Stop on the prior instance first to release its
// background task (§4.C, §5 cancellation policy).
func (f *Factory) Reconfigure(ctx context.Context, sel Selector, creds Credentials) error {
	next, err := f.build(ctx, sel, creds)
	if err != nil {
		// build may return a typed nil pointer alongside the error; drop it
		// so Active() reports a plain nil.
		next = nil
	}

	f.mu.Lock()
	prev := f.active
	f.active = next
	f.mu.Unlock()

	if prev != nil {
		prev.Stop()
	}

	if err != nil {
		f.log.Warn().Err(err).Str("selector", string(sel)).Msg("endpoint configuration failed, endpoint is nil")
		return err
	}
	return nil
}

func (f *Factory) build(ctx context.Context, sel Selector, creds Credentials) (Endpoint, error) {
	switch sel {
	case SelectorHA:
		return f.buildHA(ctx, creds)
	case SelectorOpenHAB:
		return openhab.New(openhab.Config{BaseURL: creds.OpenHABURL, Token: creds.OpenHABToken}, f.log)
	case SelectorREST:
		return restendpoint.New(restendpoint.Config{
			URL:    creds.RESTURL,
			Auth:   creds.RESTAuth,
			User:   creds.RESTUser,
			Pass:   creds.RESTPass,
			Header: creds.RESTHeader,
			AsJSON: true,
		}, f.log)
	case SelectorMQTT:
		return mqttendpoint.New(mqttendpoint.Config{
			Host:     creds.MQTTHost,
			Port:     creds.MQTTPort,
			TLS:      creds.MQTTTLS,
			Topic:    creds.MQTTTopic,
			Auth:     creds.MQTTAuth,
			Username: creds.MQTTUsername,
			Password: creds.MQTTPassword,
		}, f.log)
	default:
		return nil, nil
	}
}

// buildHA implements the factory rule: prefer HA-WS, falling back to
// HA-REST when the target instance doesn't expose assist_pipeline.
func (f *Factory) buildHA(ctx context.Context, creds Credentials) (Endpoint, error) {
	baseURL := haHTTPBaseURL(creds)

	hasAssist, err := f.probeAssistPipeline(ctx, baseURL, creds.HAToken)
	if err != nil {
		f.log.Warn().Err(err).Msg("ha /api/components probe failed, falling back to ha-rest")
		hasAssist = false
	}

	if hasAssist {
		return haws.New(haws.Config{BaseURL: baseURL, Token: creds.HAToken}, f.callback, f.log)
	}
	return harest.New(harest.Config{BaseURL: baseURL, Token: creds.HAToken}, f.log)
}

func haHTTPBaseURL(creds Credentials) string {
	scheme := "http"
	if creds.HATLS {
		scheme = "https"
	}
	port := creds.HAPort
	if port == 0 {
		port = 8123
	}
	return scheme + "://" + creds.HAHost + ":" + strconv.Itoa(port)
}
