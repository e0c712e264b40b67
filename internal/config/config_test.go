package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"DATABASE_URL": "postgres://localhost/test",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.OTARoot != "./ota" {
			t.Errorf("OTARoot = %q, want ./ota", cfg.OTARoot)
		}
		if cfg.WakeWindow.String() != "200ms" {
			t.Errorf("WakeWindow = %v, want 200ms", cfg.WakeWindow)
		}
		if cfg.NotifyExpiry.String() != "1h0m0s" {
			t.Errorf("NotifyExpiry = %v, want 1h", cfg.NotifyExpiry)
		}
		if cfg.AuthToken == "" {
			t.Error("AuthToken should be auto-generated when unset")
		}
		if !cfg.AuthTokenGenerated {
			t.Error("AuthTokenGenerated = false, want true")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:     "nonexistent.env",
			HTTPAddr:    ":9090",
			LogLevel:    "debug",
			DatabaseURL: "postgres://override/db",
			OTARoot:     "/tmp/ota",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DatabaseURL != "postgres://override/db" {
			t.Errorf("DatabaseURL = %q, want override", cfg.DatabaseURL)
		}
		if cfg.OTARoot != "/tmp/ota" {
			t.Errorf("OTARoot = %q, want /tmp/ota", cfg.OTARoot)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.DatabaseURL != "postgres://localhost/test" {
			t.Errorf("DatabaseURL = %q, want postgres://localhost/test", cfg.DatabaseURL)
		}
	})

	t.Run("auth_disabled_clears_tokens", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{
			"AUTH_ENABLED": "false",
			"AUTH_TOKEN":   "should-be-cleared",
			"WRITE_TOKEN":  "also-cleared",
		})
		defer cleanup()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.AuthToken != "" {
			t.Errorf("AuthToken = %q, want empty when auth disabled", cfg.AuthToken)
		}
		if cfg.WriteToken != "" {
			t.Errorf("WriteToken = %q, want empty when auth disabled", cfg.WriteToken)
		}
	})
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{"DATABASE_URL": ""})
	defer cleanup()
	os.Unsetenv("DATABASE_URL")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when required env vars are missing")
	}
}

func TestValidate(t *testing.T) {
	t.Run("empty_ota_root_rejected", func(t *testing.T) {
		c := &Config{OTARoot: "", AssetRoot: "./assets"}
		if err := c.Validate(); err == nil {
			t.Error("expected error for empty OTARoot")
		}
	})
	t.Run("empty_asset_root_rejected", func(t *testing.T) {
		c := &Config{OTARoot: "./ota", AssetRoot: ""}
		if err := c.Validate(); err == nil {
			t.Error("expected error for empty AssetRoot")
		}
	})
	t.Run("valid_config_passes", func(t *testing.T) {
		c := &Config{OTARoot: "./ota", AssetRoot: "./assets"}
		if err := c.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
