// Package configstore implements the Config Store component (§4.A):
// typed read/write of the Config, NVS, and client-label records, plus
// one-shot legacy-JSON ingestion, over a pgxpool connection pool, with the
// schema managed by golang-migrate (see Migrate).
package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/satfleet/wsc-engine/internal/apperr"
)

const (
	typeConfig = "config"
	typeNVS    = "nvs"
)

// Store is the Config Store's single entry point. Reads run concurrently;
// writes are serialized by writeMu, matching §5's "Config Store: serialized
// writers; concurrent readers permitted."
type Store struct {
	pool    *pgxpool.Pool
	log     zerolog.Logger
	writeMu sync.Mutex
}

// New wraps an existing pool. The caller owns the pool's lifecycle.
func New(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "configstore").Logger()}
}

// ReadConfig returns only the fields that have a stored non-empty value;
// reads never fail on a readable-but-empty store (§4.A "reads never raise").
func (s *Store) ReadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := s.readRecord(ctx, typeConfig, &cfg); err != nil {
		s.log.Warn().Err(err).Msg("read_config failed, returning empty record")
		return Config{}, nil
	}
	return cfg, nil
}

// WriteConfig upserts partial into the Config record. A nil value for a key
// clears that field. Writes that would leave every touched field unchanged
// are no-ops.
func (s *Store) WriteConfig(ctx context.Context, partial map[string]any) error {
	return s.writeRecord(ctx, typeConfig, partial)
}

// ReadNVS returns the stored NVS record (WAS.URL / WIFI.SSID / WIFI.PSK).
func (s *Store) ReadNVS(ctx context.Context) (NVS, error) {
	var nvs NVS
	if err := s.readRecord(ctx, typeNVS, &nvs); err != nil {
		s.log.Warn().Err(err).Msg("read_nvs failed, returning empty record")
		return NVS{}, nil
	}
	return nvs, nil
}

// WriteNVS upserts partial into the NVS record, same clear-on-null and
// no-op-on-equal semantics as WriteConfig. wifi_ssid/wifi_psk are
// length-validated before anything is persisted (§7/§8: SSID in [2,32],
// PSK in [8,63], matching the WPA2 limits NVS ultimately flashes to the
// satellite).
func (s *Store) WriteNVS(ctx context.Context, partial map[string]any) error {
	if err := validateNVS(partial); err != nil {
		return err
	}
	return s.writeRecord(ctx, typeNVS, partial)
}

func validateNVS(partial map[string]any) error {
	if err := validateStringLen(partial, "wifi_ssid", 2, 32); err != nil {
		return err
	}
	return validateStringLen(partial, "wifi_psk", 8, 63)
}

// validateStringLen checks key's length when present and non-nil (nil
// means "clear this field" and is never a length violation).
func validateStringLen(partial map[string]any, key string, min, max int) error {
	v, ok := partial[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return apperr.Config(fmt.Sprintf("%s must be a string", key), nil)
	}
	if n := len(s); n < min || n > max {
		return apperr.Config(fmt.Sprintf("%s must be between %d and %d characters", key, min, max), nil)
	}
	return nil
}

// ListClientLabels returns every (mac, label) pair on file.
func (s *Store) ListClientLabels(ctx context.Context) ([]ClientLabel, error) {
	rows, err := s.pool.Query(ctx, `SELECT mac_addr, label FROM client_labels ORDER BY label`)
	if err != nil {
		s.log.Warn().Err(err).Msg("list_client_labels failed, returning empty list")
		return nil, nil
	}
	defer rows.Close()

	var out []ClientLabel
	for rows.Next() {
		var l ClientLabel
		if err := rows.Scan(&l.MAC, &l.Label); err != nil {
			return nil, fmt.Errorf("configstore: scan client label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertClientLabel sets the label for mac, creating the row if absent.
func (s *Store) UpsertClientLabel(ctx context.Context, mac, label string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_labels (mac_addr, label, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (mac_addr) DO UPDATE SET label = EXCLUDED.label, updated_at = now()
		WHERE client_labels.label IS DISTINCT FROM EXCLUDED.label
	`, mac, label)
	if err != nil {
		return fmt.Errorf("configstore: upsert client label: %w", err)
	}
	return nil
}

// readRecord populates dest (a pointer to Config or NVS) from the stored
// rows of the given config_type, matching each row's config_name against
// dest's `json` struct tags and coercing the stored text back to the
// field's Go type.
func (s *Store) readRecord(ctx context.Context, configType string, dest any) error {
	rows, err := s.pool.Query(ctx, `SELECT config_name, config_value FROM config_entries WHERE config_type = $1`, configType)
	if err != nil {
		return err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return err
	}

	v := reflect.ValueOf(dest).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := jsonFieldName(field)
		stored, ok := values[name]
		if !ok || stored == "" {
			continue
		}
		setFieldFromString(v.Field(i), stored)
	}
	return nil
}

// writeRecord upserts partial's keys into config_entries under configType,
// inside one transaction: a nil value deletes the row (clearing the
// field), an unchanged value is skipped, and any failure rolls back the
// whole write leaving the store unchanged (§4.A invariants).
func (s *Store) writeRecord(ctx context.Context, configType string, partial map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("configstore: begin write tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for name, value := range partial {
		if value == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM config_entries WHERE config_type = $1 AND config_name = $2`, configType, name); err != nil {
				return fmt.Errorf("configstore: clear %s.%s: %w", configType, name, err)
			}
			continue
		}

		text, err := coerceToText(value)
		if err != nil {
			return apperr.Config(fmt.Sprintf("invalid value for %s", name), err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO config_entries (config_type, config_name, config_value, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (config_type, config_name) DO UPDATE
				SET config_value = EXCLUDED.config_value, updated_at = now()
				WHERE config_entries.config_value IS DISTINCT FROM EXCLUDED.config_value
		`, configType, name, text); err != nil {
			return fmt.Errorf("configstore: upsert %s.%s: %w", configType, name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("configstore: commit write tx: %w", err)
	}
	return nil
}

// MigrateLegacy is the one-shot migrate_legacy operation (§4.A): if the
// Config record is currently empty and jsonFile exists, ingest its flat
// key/value pairs as the initial Config record.
func (s *Store) MigrateLegacy(ctx context.Context, jsonFile string) error {
	existing, err := s.ReadConfig(ctx)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(existing, Config{}) {
		return nil // store already populated; never overwrite
	}

	data, err := os.ReadFile(jsonFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("configstore: read legacy file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("configstore: parse legacy file: %w", err)
	}

	if err := s.WriteConfig(ctx, raw); err != nil {
		return fmt.Errorf("configstore: ingest legacy config: %w", err)
	}
	s.log.Info().Str("file", jsonFile).Int("fields", len(raw)).Msg("migrated legacy config into store")
	return nil
}

func jsonFieldName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i]
		}
	}
	if tag == "" {
		return f.Name
	}
	return tag
}

func setFieldFromString(f reflect.Value, s string) {
	switch f.Kind() {
	case reflect.String:
		f.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err == nil {
			f.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			f.SetInt(n)
		}
	}
}

// coerceToText renders an arbitrary JSON-decoded value as the canonical
// textual form stored in config_value (§4.A "strings storing non-string
// types are coerced to a canonical textual form").
func coerceToText(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}
