package recon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const watchedConfig = `
rules:
  - name: no-todo
    pattern: TODO
`

type reloadRecorder struct {
	mu      sync.Mutex
	configs []Config
	errs    []error
}

func (r *reloadRecorder) onReload(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
}

func (r *reloadRecorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *reloadRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs), len(r.errs)
}

func watchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewConfigWatcher(t *testing.T) {
	noop := func(Config) {}

	tests := []struct {
		name        string
		config      WatchConfig
		expectError bool
	}{
		{
			name:   "defaults",
			config: WatchConfig{ConfigPath: ".recon.yml", OnReload: noop},
		},
		{
			name:   "custom debounce time",
			config: WatchConfig{ConfigPath: ".recon.yml", OnReload: noop, DebounceTime: 200 * time.Millisecond},
		},
		{
			name:        "no config path",
			config:      WatchConfig{OnReload: noop},
			expectError: true,
		},
		{
			name:        "no reload callback",
			config:      WatchConfig{ConfigPath: ".recon.yml"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewConfigWatcher(tt.config)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, w)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, w.fs)
			assert.NotNil(t, w.onError)
			if tt.config.DebounceTime != 0 {
				assert.Equal(t, tt.config.DebounceTime, w.debounceTime)
			} else {
				assert.Equal(t, 100*time.Millisecond, w.debounceTime)
			}
		})
	}
}

func TestConfigWatcher_ShouldProcessEvent(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected bool
	}{
		{name: "write event", op: fsnotify.Write, expected: true},
		{name: "create event", op: fsnotify.Create, expected: true},
		{name: "rename event", op: fsnotify.Rename, expected: true},
		{name: "remove event", op: fsnotify.Remove, expected: false},
		{name: "chmod event", op: fsnotify.Chmod, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, shouldProcessEvent(fsnotify.Event{Name: ".recon.yml", Op: tt.op}))
		})
	}
}

func TestConfigWatcher_IsConfigFile(t *testing.T) {
	w, err := NewConfigWatcher(WatchConfig{ConfigPath: "config/.recon.yml", OnReload: func(Config) {}})
	require.NoError(t, err)

	abs, err := filepath.Abs("config/.recon.yml")
	require.NoError(t, err)

	assert.True(t, w.isConfigFile("config/.recon.yml"))
	assert.True(t, w.isConfigFile("./config/../config/.recon.yml"))
	assert.True(t, w.isConfigFile(abs))
	assert.False(t, w.isConfigFile("config/other.yml"))
	assert.False(t, w.isConfigFile(".recon.yml"))
}

func TestConfigWatcher_Reload(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/project/.recon.yml", []byte(watchedConfig), 0o644))

	rec := &reloadRecorder{}
	w, err := NewConfigWatcher(WatchConfig{
		ConfigPath: "/project/.recon.yml",
		Root:       "/project",
		FS:         fs,
		Logger:     watchLogger(),
		OnReload:   rec.onReload,
		OnError:    rec.onError,
	})
	require.NoError(t, err)

	w.reload()
	reloads, errs := rec.counts()
	assert.Equal(t, 1, reloads)
	assert.Zero(t, errs)
	assert.Equal(t, 1, w.Reloads())
	require.Len(t, rec.configs[0].Rules, 1)
	assert.Equal(t, "no-todo", rec.configs[0].Rules[0].Name)

	t.Run("a broken config keeps the previous one", func(t *testing.T) {
		require.NoError(t, afero.WriteFile(fs, "/project/.recon.yml", []byte("rules:\n  - name: a\n  - name: a\n"), 0o644))
		w.reload()

		reloads, errs := rec.counts()
		assert.Equal(t, 1, reloads)
		assert.Equal(t, 1, errs)
		assert.Equal(t, 1, w.Reloads())
	})
}

func TestConfigWatcher_Debounce(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, ".recon.yml", []byte(watchedConfig), 0o644))

	rec := &reloadRecorder{}
	w, err := NewConfigWatcher(WatchConfig{
		ConfigPath:   ".recon.yml",
		FS:           fs,
		Logger:       watchLogger(),
		DebounceTime: 20 * time.Millisecond,
		OnReload:     rec.onReload,
	})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		w.handleEvent(fsnotify.Event{Name: ".recon.yml", Op: fsnotify.Write})
	}
	w.handleEvent(fsnotify.Event{Name: "other.yml", Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: ".recon.yml", Op: fsnotify.Chmod})

	require.Eventually(t, func() bool {
		reloads, _ := rec.counts()
		return reloads == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	reloads, _ := rec.counts()
	assert.Equal(t, 1, reloads, "a burst of events reloads once")
}

func TestConfigWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ".recon.yml")
	require.NoError(t, os.WriteFile(configPath, []byte("rules: []\n"), 0o644))

	rec := &reloadRecorder{}
	w, err := NewConfigWatcher(WatchConfig{
		ConfigPath:   configPath,
		Root:         dir,
		Logger:       watchLogger(),
		DebounceTime: 10 * time.Millisecond,
		OnReload:     rec.onReload,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		// Rewrite until the watcher has registered the directory.
		_ = os.WriteFile(configPath, []byte(watchedConfig), 0o644)
		reloads, _ := rec.counts()
		return reloads > 0
	}, 5*time.Second, 50*time.Millisecond)

	rec.mu.Lock()
	last := rec.configs[len(rec.configs)-1]
	rec.mu.Unlock()
	assert.Len(t, last.Rules, 1)

	cancel()
	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("config watcher did not shut down")
	}
}

func TestConfigWatcher_RunMissingDirectory(t *testing.T) {
	w, err := NewConfigWatcher(WatchConfig{
		ConfigPath: filepath.Join(t.TempDir(), "missing", ".recon.yml"),
		Logger:     watchLogger(),
		OnReload:   func(Config) {},
	})
	require.NoError(t, err)

	err = w.Run(context.Background())
	require.Error(t, err)
	info, ok := GetErrorInfo(err)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeFS, info.Type)
}
