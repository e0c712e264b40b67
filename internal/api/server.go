package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/satfleet/wsc-engine/internal/config"
	"github.com/satfleet/wsc-engine/internal/configstore"
	"github.com/satfleet/wsc-engine/internal/connmgr"
	"github.com/satfleet/wsc-engine/internal/database"
	"github.com/satfleet/wsc-engine/internal/endpoint"
	"github.com/satfleet/wsc-engine/internal/metrics"
	"github.com/satfleet/wsc-engine/internal/notify"
	"github.com/satfleet/wsc-engine/internal/release"
	"github.com/satfleet/wsc-engine/internal/satellite"
)

// Server is the HTTP surface for the admin API (§4.H, §6) plus the
// satellite WebSocket endpoint, all behind one chi router.
type Server struct {
	http   *http.Server
	log    zerolog.Logger
	health *HealthHandler
}

type ServerOptions struct {
	Config      *config.Config
	DB          *database.DB
	Store       *configstore.Store
	Conns       *connmgr.Manager
	Queue       *notify.Queue
	Release     *release.Cache
	Factory     *endpoint.Factory
	Satellite   *satellite.Handler
	OpenAPISpec []byte // embedded openapi.yaml
	Version     string
	StartTime   time.Time
	Log         zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()

	var corsOrigins []string
	if opts.Config.CORSOrigins != "" {
		for _, o := range strings.Split(opts.Config.CORSOrigins, ",") {
			if s := strings.TrimSpace(o); s != "" {
				corsOrigins = append(corsOrigins, s)
			}
		}
	}

	r.Use(RequestID)
	r.Use(CORSWithOrigins(corsOrigins))
	r.Use(RateLimiter(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))

	// Satellite protocol transport — unauthenticated, its own framing
	// carries whatever identity the device asserts (§4.G).
	r.Get("/ws", opts.Satellite.ServeHTTP)

	health := NewHealthHandler(opts.DB, opts.Conns, opts.Queue, opts.Factory, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	if opts.Config.MetricsEnabled {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}

	r.Get("/api/v1/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(opts.OpenAPISpec)
	})
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/api/v1/openapi.yaml")))

	// Authenticated admin routes (§6 HTTP surface).
	r.Group(func(r chi.Router) {
		r.Use(MaxBodySize(10 << 20))
		if opts.Config.MetricsEnabled {
			r.Use(metrics.InstrumentHandler)
		}
		r.Use(BearerAuth(opts.Config.AuthToken, opts.Config.WriteToken))
		r.Use(WriteAuth(opts.Config.WriteToken))
		r.Use(ResponseTimeout(opts.Config.WriteTimeout))

		r.Route("/api", func(r chi.Router) {
			asset := NewAssetHandler(opts.Config.AssetRoot, opts.Log)
			r.Get("/asset", asset.ServeHTTP)

			client := NewClientHandler(opts.Conns, opts.Store, opts.Queue, opts.Log)
			r.Get("/client", client.List)
			r.Post("/client", client.Post)

			cfg := NewConfigHandler(opts.Store, opts.Conns, opts.Factory, opts.Log)
			r.Get("/config", cfg.Get)
			r.Post("/config", cfg.Post)

			ota := NewOTAHandler(opts.Release, opts.Log)
			r.Get("/ota", ota.ServeHTTP)

			rel := NewReleaseHandler(opts.Release, opts.Log)
			r.Get("/release", rel.Get)
			r.Post("/release", rel.Post)

			status := NewStatusHandler(opts.Conns, opts.Queue, opts.Log)
			r.Get("/status", status.ServeHTTP)
		})
	})

	srv := &http.Server{
		Addr:        opts.Config.HTTPAddr,
		Handler:     r,
		ReadTimeout: opts.Config.ReadTimeout,
		IdleTimeout: opts.Config.IdleTimeout,
		// WriteTimeout 0: the satellite WebSocket connections are long-lived.
		WriteTimeout: 0,
	}

	return &Server{
		http:   srv,
		log:    opts.Log,
		health: health,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
