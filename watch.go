package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// ConfigWatcher reloads the configuration when its file changes on disk.
type ConfigWatcher struct {
	configPath   string
	root         string
	logger       *slog.Logger
	fs           afero.Fs
	debounceTime time.Duration
	onReload     func(Config)
	onError      func(error)

	mu            sync.Mutex
	debounceTimer *time.Timer
	reloads       int
}

// WatchConfig holds configuration for the config watcher
type WatchConfig struct {
	// ConfigPath is the file to watch. Its directory is watched so that
	// editors replacing the file are noticed.
	ConfigPath   string
	Root         string
	Logger       *slog.Logger
	FS           afero.Fs
	DebounceTime time.Duration
	// OnReload receives every successfully loaded config.
	OnReload func(Config)
	// OnError receives load failures. The previous config stays active.
	OnError func(error)
}

// NewConfigWatcher creates a watcher. It does not start watching until Run.
func NewConfigWatcher(cfg WatchConfig) (*ConfigWatcher, error) {
	if cfg.ConfigPath == "" {
		return nil, NewConfigError("no config file to watch", nil)
	}
	if cfg.OnReload == nil {
		return nil, errors.New("config watcher needs a reload callback")
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.DebounceTime == 0 {
		cfg.DebounceTime = 100 * time.Millisecond
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error) {}
	}

	return &ConfigWatcher{
		configPath:   cfg.ConfigPath,
		root:         cfg.Root,
		logger:       ensureLogger(cfg.Logger),
		fs:           cfg.FS,
		debounceTime: cfg.DebounceTime,
		onReload:     cfg.OnReload,
		onError:      cfg.OnError,
	}, nil
}

// Run watches the config file until ctx is done.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(w.configPath)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return NewFSError("failed to watch config directory", err).WithFile(w.configPath)
	}

	w.logger.Info("Watching config file", "path", w.configPath)

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			w.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("Watcher error", "error", err)
		}
	}
}

// handleEvent schedules a reload for events on the config file
func (w *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if !shouldProcessEvent(event) || !w.isConfigFile(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTime, w.reload)
}

// shouldProcessEvent filters events we care about
func shouldProcessEvent(event fsnotify.Event) bool {
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// isConfigFile checks if the event is for the config file
func (w *ConfigWatcher) isConfigFile(path string) bool {
	absConfigPath, _ := filepath.Abs(w.configPath)
	absEventPath, _ := filepath.Abs(path)

	return absConfigPath == absEventPath
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.fs, w.root, w.configPath)
	if err != nil {
		w.logger.Error("Failed to reload config", "path", w.configPath, "error", err)
		w.onError(err)
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Info("Config reloaded", "path", w.configPath, "rules", len(cfg.Rules))
	w.onReload(cfg)
}

func (w *ConfigWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
}

// Reloads returns how many times the config was reloaded successfully
func (w *ConfigWatcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}
