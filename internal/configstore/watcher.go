package configstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher monitors a directory for dropped-in legacy JSON config files,
// ingesting each one into the Config record as it lands. This is an
// alternative to the one-shot migrate_legacy call for operators who push
// config updates by writing a file rather than calling the HTTP API.
//
// It runs an fsnotify Create|Write event loop with a per-file debounce.
type Watcher struct {
	store    *Store
	watchDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

// NewWatcher constructs a Watcher bound to store. Call Start to begin
// watching; dir must already exist.
func NewWatcher(store *Store, dir string, log zerolog.Logger) *Watcher {
	return &Watcher{
		store:          store,
		watchDir:       dir,
		log:            log.With().Str("component", "configstore_watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start initializes the fsnotify watch and begins processing events on a
// background goroutine bound to ctx.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.watchDir); err != nil {
		fw.Close()
		return err
	}
	w.watcher = fw

	w.log.Info().Str("watch_dir", w.watchDir).Msg("legacy config watcher started")
	go w.loop(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
	}
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(strings.ToLower(event.Name), ".json") {
				continue
			}
			w.scheduleIngest(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleIngest debounces repeated events on the same path by 500ms so a
// file is read only once it has stopped changing.
func (w *Watcher) scheduleIngest(ctx context.Context, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to read dropped-in config file")
		return
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to parse dropped-in config file")
		return
	}

	if err := w.store.WriteConfig(ctx, raw); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to ingest dropped-in config file")
		return
	}

	w.log.Info().Str("path", filepath.Base(path)).Int("fields", len(raw)).Msg("ingested dropped-in config file")
}
