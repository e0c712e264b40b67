package configstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatcherIngestsDroppedFile(t *testing.T) {
	if os.Getenv("CI_SKIP_EMBEDDED_PG") != "" {
		t.Skip("embedded postgres unavailable in this environment")
	}
	store := newTestStore(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := NewWatcher(store, dir, zerolog.Nop())
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "dropped.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"wake_word":"hey_willow"}`), 0o644))

	require.Eventually(t, func() bool {
		cfg, err := store.ReadConfig(context.Background())
		return err == nil && cfg.WakeWord == "hey_willow"
	}, 2*time.Second, 50*time.Millisecond, "expected the dropped-in file to be ingested")
}
