package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/configstore"
)

// legacyDevice is one entry of the legacy devices.json array: mac_addr may
// be a hex string ("aa:bb:cc:dd:ee:ff") or a 6-element byte array,
// depending on which willow version wrote it.
type legacyDevice struct {
	MACAddr json.RawMessage `json:"mac_addr"`
	Label   string          `json:"label"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: migrate-devices <devices.json>")
		os.Exit(1)
	}
	path := os.Args[1]

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("failed to read legacy devices file")
	}

	var devices []legacyDevice
	if err := json.Unmarshal(data, &devices); err != nil {
		log.Fatal().Err(err).Msg("failed to parse legacy devices file")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	store := configstore.New(pool, log)

	migrated := 0
	for _, d := range devices {
		mac, err := hexMAC(d.MACAddr)
		if err != nil {
			log.Warn().Err(err).Str("label", d.Label).Msg("skipping device with unreadable mac_addr")
			continue
		}
		if err := store.UpsertClientLabel(ctx, mac, d.Label); err != nil {
			log.Warn().Err(err).Str("mac", mac).Msg("failed to upsert client label")
			continue
		}
		migrated++
	}

	log.Info().Int("migrated", migrated).Int("total", len(devices)).Msg("legacy device migration complete")
}

// hexMAC normalizes a mac_addr field into "aa:bb:cc:dd:ee:ff" form,
// accepting either a JSON string or a 6-element byte array — the two
// shapes seen across willow versions.
func hexMAC(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.ToLower(s), nil
	}

	var bytes [6]int
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return "", fmt.Errorf("mac_addr is neither a string nor a 6-byte array: %w", err)
	}
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		bytes[0], bytes[1], bytes[2], bytes[3], bytes[4], bytes[5]), nil
}
