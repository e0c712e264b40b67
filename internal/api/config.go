package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
	"github.com/satfleet/wsc-engine/internal/configstore"
	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/endpoint"
	"github.com/satfleet/wsc-engine/internal/endpoint/mqttendpoint"
	"github.com/satfleet/wsc-engine/internal/endpoint/restendpoint"
)

// ConfigHandler implements GET/POST /api/config (§6): typed reads of the
// Config/NVS records and a handful of derived views (ha_url, ha_token,
// multinet, was, tz), plus the write-and-broadcast-and-reinitialize path.
type ConfigHandler struct {
	store   *configstore.Store
	conns   *connmgr.Manager
	factory *endpoint.Factory
	log     zerolog.Logger
}

func NewConfigHandler(store *configstore.Store, conns *connmgr.Manager, factory *endpoint.Factory, log zerolog.Logger) *ConfigHandler {
	return &ConfigHandler{store: store, conns: conns, factory: factory, log: log.With().Str("component", "config_api").Logger()}
}

func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	useDefault, _ := strconv.ParseBool(r.URL.Query().Get("default"))
	ctx := r.Context()

	// default=true returns the out-of-the-box record rather than what is
	// stored, matching §4.A's "callers treat missing fields as default"
	// without depending on a configured external defaults service.
	cfg := configstore.Config{}
	var err error
	if !useDefault {
		cfg, err = h.store.ReadConfig(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "read config failed")
			return
		}
	}

	switch typ {
	case "config":
		WriteJSON(w, http.StatusOK, cfg)
	case "nvs":
		if useDefault {
			WriteJSON(w, http.StatusOK, configstore.NVS{})
			return
		}
		nvs, err := h.store.ReadNVS(ctx)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "read nvs failed")
			return
		}
		WriteJSON(w, http.StatusOK, nvs)
	case "ha_token":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(cfg.HAToken))
	case "ha_url":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(haURL(cfg)))
	case "multinet":
		WriteJSON(w, http.StatusOK, map[string]any{"inference_servers": splitServers(cfg.InferenceServers)})
	case "was":
		WriteJSON(w, http.StatusOK, map[string]any{"was_mode": cfg.WasMode})
	case "tz":
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(cfg.Timezone))
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "type must be one of config, nvs, ha_url, ha_token, multinet, was, tz")
	}
}

func haURL(cfg configstore.Config) string {
	scheme := "http"
	if cfg.HATLS {
		scheme = "https"
	}
	port := cfg.HAPort
	if port == 0 {
		port = 8123
	}
	return scheme + "://" + cfg.HAHost + ":" + strconv.Itoa(port)
}

func splitServers(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Post implements POST /api/config (§6): persist partial into the named
// record; when apply is set, broadcast the new record to every live
// session and reinitialize the command-endpoint factory (§4.C factory
// rule fires on every config-apply, not just command_endpoint changes,
// since credentials for the active variant may have changed too).
func (h *ConfigHandler) Post(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))

	var partial map[string]any
	if err := DecodeJSON(r, &partial); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid request body")
		return
	}

	ctx := r.Context()
	switch typ {
	case "config":
		if err := h.store.WriteConfig(ctx, partial); err != nil {
			if apperr.Is(err, apperr.KindConfig) {
				WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
				return
			}
			WriteError(w, http.StatusInternalServerError, "write config failed")
			return
		}
	case "nvs":
		if err := h.store.WriteNVS(ctx, partial); err != nil {
			if apperr.Is(err, apperr.KindConfig) {
				WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
				return
			}
			WriteError(w, http.StatusInternalServerError, "write nvs failed")
			return
		}
	default:
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, "type must be config or nvs")
		return
	}

	if apply {
		h.broadcastAndReinit(ctx, typ)
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ConfigHandler) broadcastAndReinit(ctx context.Context, typ string) {
	switch typ {
	case "config":
		cfg, err := h.store.ReadConfig(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("post-apply config read failed, skipping broadcast")
			return
		}
		data, err := marshalNamed("config", cfg)
		if err == nil {
			h.conns.Broadcast(data)
		}
		h.reinitFactory(ctx, cfg)
	case "nvs":
		nvs, err := h.store.ReadNVS(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("post-apply nvs read failed, skipping broadcast")
			return
		}
		data, err := marshalNamed("nvs", nvs)
		if err == nil {
			h.conns.Broadcast(data)
		}
	}
}

// reinitFactory rebuilds the active command endpoint from the freshly
// written Config record (§4.C factory rule, §5 cancellation policy).
func (h *ConfigHandler) reinitFactory(ctx context.Context, cfg configstore.Config) {
	sel := endpoint.Selector(cfg.CommandEndpoint)
	creds := endpoint.Credentials{
		HAHost:  cfg.HAHost,
		HAPort:  cfg.HAPort,
		HATLS:   cfg.HATLS,
		HAToken: cfg.HAToken,

		RESTURL:    cfg.RESTURL,
		RESTAuth:   restAuthKind(cfg.RESTAuth),
		RESTUser:   cfg.RESTUser,
		RESTPass:   cfg.RESTPass,
		RESTHeader: cfg.RESTHeader,

		MQTTHost:     cfg.MQTTHost,
		MQTTPort:     cfg.MQTTPort,
		MQTTTLS:      cfg.MQTTTLS,
		MQTTTopic:    cfg.MQTTTopic,
		MQTTAuth:     mqttAuthKind(cfg.MQTTUsername, cfg.MQTTPassword),
		MQTTUsername: cfg.MQTTUsername,
		MQTTPassword: cfg.MQTTPassword,

		OpenHABURL:   cfg.OpenHABURL,
		OpenHABToken: cfg.OpenHABToken,
	}

	if err := h.factory.Reconfigure(ctx, sel, creds); err != nil {
		h.log.Warn().Err(err).Str("selector", cfg.CommandEndpoint).Msg("command endpoint reconfigure failed")
	}
}

func restAuthKind(s string) restendpoint.AuthKind {
	switch s {
	case "basic":
		return restendpoint.AuthBasic
	case "header":
		return restendpoint.AuthHeader
	default:
		return restendpoint.AuthNone
	}
}

func mqttAuthKind(username, password string) mqttendpoint.AuthKind {
	if username != "" || password != "" {
		return mqttendpoint.AuthUserPW
	}
	return mqttendpoint.AuthNoneKind
}

// marshalNamed wraps v under the given top-level key, matching the
// outbound shapes §6 specifies: {"config": <record>} / {"nvs": <record>}.
func marshalNamed(key string, v any) (string, error) {
	wrapped := map[string]any{key: v}
	data, err := json.Marshal(wrapped)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
