package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	wscengine "github.com/satfleet/wsc-engine"
	"github.com/satfleet/wsc-engine/internal/api"
	"github.com/satfleet/wsc-engine/internal/config"
	"github.com/satfleet/wsc-engine/internal/configstore"
	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/database"
	"github.com/satfleet/wsc-engine/internal/endpoint"
	"github.com/satfleet/wsc-engine/internal/endpoint/mqttendpoint"
	"github.com/satfleet/wsc-engine/internal/endpoint/restendpoint"
	"github.com/satfleet/wsc-engine/internal/notify"
	"github.com/satfleet/wsc-engine/internal/release"
	"github.com/satfleet/wsc-engine/internal/satellite"
	"github.com/satfleet/wsc-engine/internal/wake"
)

// version, commit, and buildTime are injected at build time via ldflags,
// e.g. go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234".
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.OTARoot, "ota-root", "", "Release cache root directory (overrides OTA_ROOT)")
	flag.StringVar(&overrides.AssetRoot, "asset-root", "", "Admin asset root directory (overrides ASSET_ROOT)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("wsc-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config store schema (golang-migrate, §4.A).
	if err := configstore.Migrate(cfg.DatabaseURL, log); err != nil {
		log.Fatal().Err(err).Msg("configstore migration failed")
	}

	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	store := configstore.New(db.Pool, log.With().Str("component", "configstore").Logger())

	if cfg.LegacyConfigFile != "" {
		if _, statErr := os.Stat(cfg.LegacyConfigFile); statErr == nil {
			if err := store.MigrateLegacy(ctx, cfg.LegacyConfigFile); err != nil {
				log.Warn().Err(err).Str("file", cfg.LegacyConfigFile).Msg("legacy config migration failed")
			} else {
				log.Info().Str("file", cfg.LegacyConfigFile).Msg("legacy config migrated")
			}
		}
	}

	if cfg.LegacyWatchDir != "" {
		watcher := configstore.NewWatcher(store, cfg.LegacyWatchDir, log)
		if err := watcher.Start(ctx); err != nil {
			log.Warn().Err(err).Str("dir", cfg.LegacyWatchDir).Msg("legacy config watcher failed to start")
		} else {
			defer watcher.Stop()
		}
	}

	conns := connmgr.New(log.With().Str("component", "connmgr").Logger())

	arbiter := wake.NewWithWindow(ctx, cfg.WakeWindow, log)

	queue := notify.NewWithTiming(ctx, conns, cfg.NotifyDequeueInterval, cfg.NotifyExpiry, log)

	catalog := release.NewHTTPCatalog(cfg.OTACatalogURL, cfg.EndpointReadTimeout, log)
	releaseCache := release.New(cfg.OTARoot, catalog, cfg.WASPublicURL, log)

	// The command-endpoint factory's callback delivers asynchronous
	// results (HA-WS) back to whichever session handle originated the
	// request, routed through the connection manager (§4.C, §4.G).
	endpointCallback := func(sess endpoint.Session, res endpoint.Result) {
		s := conns.ByHandle(sess.Handle())
		if s == nil {
			return
		}
		data, err := marshalResponse(res)
		if err != nil {
			return
		}
		_ = s.SendText(data)
	}
	factory := endpoint.New(endpointCallback, log.With().Str("component", "endpoint_factory").Logger())

	if initialCfg, err := store.ReadConfig(ctx); err != nil {
		log.Warn().Err(err).Msg("initial config read failed, command endpoint starts unconfigured")
	} else if initialCfg.CommandEndpoint != "" {
		if err := applyEndpointConfig(ctx, factory, initialCfg); err != nil {
			log.Warn().Err(err).Str("selector", initialCfg.CommandEndpoint).Msg("initial command endpoint configuration failed")
		}
	}

	satelliteHandler := &satellite.Handler{
		Conns:    conns,
		Arbiter:  arbiter,
		Queue:    queue,
		Store:    store,
		Endpoint: factory.Active,
		Log:      log.With().Str("component", "satellite").Logger(),
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:      cfg,
		DB:          db,
		Store:       store,
		Conns:       conns,
		Queue:       queue,
		Release:     releaseCache,
		Factory:     factory,
		Satellite:   satelliteHandler,
		OpenAPISpec: wscengine.OpenAPISpec,
		Version:     fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime:   startTime,
		Log:         httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("wsc-engine ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("wsc-engine stopped")
}

// marshalResponse wraps a command-endpoint Result in the wire Response
// envelope every parse_response produces (§4.C).
func marshalResponse(res endpoint.Result) (string, error) {
	data, err := json.Marshal(endpoint.Wrap(res))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// applyEndpointConfig builds Credentials from a stored Config record and
// reconfigures the factory, mirroring internal/api.ConfigHandler's
// post-apply path for the startup case (§4.C factory rule).
func applyEndpointConfig(ctx context.Context, factory *endpoint.Factory, cfg configstore.Config) error {
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
	return factory.Reconfigure(ctx, sel, creds)
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
