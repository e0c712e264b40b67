package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds process-wide settings for the satellite coordination server.
// This is distinct from the Typed Config record served to satellites
// (internal/configstore), which is persisted and editable at runtime
// through the admin HTTP API.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthEnabled        bool   `env:"AUTH_ENABLED" envDefault:"true"`
	AuthToken          string `env:"AUTH_TOKEN"`
	AuthTokenGenerated bool   // true when auto-generated (not from env/config)
	WriteToken         string `env:"WRITE_TOKEN"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSOrigins    string  `env:"CORS_ORIGINS"`
	LogLevel       string  `env:"LOG_LEVEL" envDefault:"info"`
	MetricsEnabled bool    `env:"METRICS_ENABLED" envDefault:"true"`

	// OTARoot is the release cache's root directory (§4.B).
	OTARoot string `env:"OTA_ROOT" envDefault:"./ota"`
	// OTACatalogURL is the upstream release-index JSON document merged
	// into list_releases (§4.B step 5); empty disables upstream fetches.
	OTACatalogURL string `env:"OTA_CATALOG_URL"`
	// WASPublicURL is the satellite-facing ws(s):// URL annotated onto
	// each release asset listed by the release cache.
	WASPublicURL string `env:"WAS_PUBLIC_URL"`
	// AssetRoot is the admin-asset root directory (GET /api/asset).
	AssetRoot string `env:"ASSET_ROOT" envDefault:"./assets"`

	// LegacyConfigFile is the one-shot migrate_legacy source (§4.A).
	LegacyConfigFile string `env:"LEGACY_CONFIG_FILE" envDefault:"./config.json"`
	// LegacyWatchDir, if set, is fsnotify-watched for legacy JSON config
	// files dropped in after startup, each ingested as it lands.
	LegacyWatchDir string `env:"LEGACY_WATCH_DIR"`

	// WakeWindow is the wake-arbitration collection window (§4.E); default
	// matches the spec's 200ms.
	WakeWindow time.Duration `env:"WAKE_WINDOW" envDefault:"200ms"`

	// Notify queue tuning (§4.F / §5).
	NotifyDequeueInterval time.Duration `env:"NOTIFY_DEQUEUE_INTERVAL" envDefault:"1s"`
	NotifyExpiry          time.Duration `env:"NOTIFY_EXPIRY" envDefault:"1h"`

	// Upstream timeouts (§5). Only EndpointReadTimeout is wired (as the
	// release catalog's HTTP timeout); the command endpoints, the HA-WS
	// reconnect loop and the release asset fetch use their own fixed
	// values equal to these defaults, and the other three fields are not read.
	EndpointConnectTimeout time.Duration `env:"ENDPOINT_CONNECT_TIMEOUT" envDefault:"1s"`
	EndpointReadTimeout    time.Duration `env:"ENDPOINT_READ_TIMEOUT" envDefault:"30s"`
	AssetWarmTimeout       time.Duration `env:"ASSET_WARM_TIMEOUT" envDefault:"60s"`
	HAWSReconnectBackoff   time.Duration `env:"HA_WS_RECONNECT_BACKOFF" envDefault:"1s"`

	// UpdateCheck and UpdateCheckURL are parsed from the environment; no
	// component reads them, so no update check is performed.
	UpdateCheck    bool   `env:"UPDATE_CHECK" envDefault:"false"`
	UpdateCheckURL string `env:"UPDATE_CHECK_URL"`
}

// Validate checks settings that field-level env parsing alone can't catch.
func (c *Config) Validate() error {
	if c.OTARoot == "" {
		return fmt.Errorf("OTA_ROOT must not be empty")
	}
	if c.AssetRoot == "" {
		return fmt.Errorf("ASSET_ROOT must not be empty")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	OTARoot     string
	AssetRoot   string
}

// Load reads configuration from a .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.OTARoot != "" {
		cfg.OTARoot = overrides.OTARoot
	}
	if overrides.AssetRoot != "" {
		cfg.AssetRoot = overrides.AssetRoot
	}

	// When auth is explicitly disabled, clear any tokens so middleware passes everything through.
	if !cfg.AuthEnabled {
		cfg.AuthToken = ""
		cfg.WriteToken = ""
	} else if cfg.AuthToken == "" {
		// Auto-generate AUTH_TOKEN if not configured so the admin surface is
		// never left open by accident. Set AUTH_TOKEN for a persistent one.
		b := make([]byte, 32)
		if _, err := rand.Read(b); err == nil {
			cfg.AuthToken = base64.URLEncoding.EncodeToString(b)
			cfg.AuthTokenGenerated = true
		}
	}

	return cfg, nil
}
