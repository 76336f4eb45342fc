// Package configwatcher monitors the fragship config file for changes
// during a broadcast. Its main job is recovering from a missing stream
// key: upload attempts fail fast as configuration errors until a key
// appears, and writing one into the config file fixes the session
// without a restart.
package configwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fragship/fragship/internal/config"
	"github.com/fragship/fragship/pkg/log"
)

// KeyReceiver accepts a stream key update mid-session.
// *session.Broadcaster satisfies this interface.
type KeyReceiver interface {
	SetStreamKey(key string)
}

// Config holds configuration options for the watcher.
type Config struct {
	// DebounceDelay is the delay to wait after a file change before
	// reloading, coalescing editor write bursts.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 100 * time.Millisecond,
	}
}

// Watcher reloads the config file on change and forwards stream key
// updates to the receiver.
type Watcher struct {
	path     string
	debounce time.Duration
	receiver KeyReceiver
	logger   log.Logger

	mu      sync.Mutex
	lastKey string
}

// New creates a watcher for the given config file path.
func New(cfg Config, path string, receiver KeyReceiver, logger log.Logger) *Watcher {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Watcher{
		path:     path,
		debounce: cfg.DebounceDelay,
		receiver: receiver,
		logger:   logger,
	}
}

// Run watches the config file until the context is canceled. The parent
// directory is watched rather than the file itself so atomic
// rename-into-place saves are observed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("watching config file", log.String("path", w.path))

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", log.Err(err))
		}
	}
}

// reload re-reads the config file and forwards a changed stream key.
func (w *Watcher) reload() {
	fc, err := config.LoadFileConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", log.Err(err))
		return
	}
	if fc.StreamKey == "" {
		return
	}

	w.mu.Lock()
	changed := fc.StreamKey != w.lastKey
	w.lastKey = fc.StreamKey
	w.mu.Unlock()

	if !changed {
		return
	}
	w.logger.Info("stream key updated from config file")
	w.receiver.SetStreamKey(fc.StreamKey)
}
