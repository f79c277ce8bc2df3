package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestStore(t *testing.T) {
	cfg := Config{SMTP: SMTP{Host: "a.example.com"}}
	s := NewStore(cfg)
	assert.Equal(t, "a.example.com", s.SMTP().Host)

	cfg.SMTP.Host = "b.example.com"
	assert.Equal(t, "a.example.com", s.SMTP().Host, "store must hold its own copy")

	s.Set(cfg)
	assert.Equal(t, "b.example.com", s.Get().SMTP.Host)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore(Config{SMTP: SMTP{Host: "h0"}})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s.Set(Config{SMTP: SMTP{Host: "h1", Port: 25}})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				smtp := s.SMTP()
				assert.Contains(t, []string{"h0", "h1"}, smtp.Host)
			}
		}()
	}
	wg.Wait()
}

func TestStoreReloadKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "smtp:\n  host: first.example.com\n")

	s := NewStore(Config{})
	_, err := s.Reload(path)
	require.NoError(t, err)
	assert.Equal(t, "first.example.com", s.SMTP().Host)

	writeFile(t, path, "smtp:\n  host: \"\"\n")
	_, err = s.Reload(path)
	assert.Error(t, err)
	assert.Equal(t, "first.example.com", s.SMTP().Host)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "smtp:\n  host: old.example.com\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg)

	core, logs := observer.New(zapcore.DebugLevel)
	reloaded := make(chan Config, 4)
	w := NewWatcher(path, store, zap.New(core).Sugar()).
		WithDebounce(20 * time.Millisecond).
		WithReloadCallback(func(c Config) { reloaded <- c })

	ctx, cancel := context.WithCancel(context.Background())
	done, err := w.Start(ctx)
	require.NoError(t, err)

	writeFile(t, path, "smtp:\n  host: new.example.com\n  port: 2525\n")

	select {
	case c := <-reloaded:
		assert.Equal(t, "new.example.com", c.SMTP.Host)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload the configuration")
	}
	assert.Equal(t, "new.example.com", store.SMTP().Host)
	assert.Equal(t, 2525, store.SMTP().Port)

	writeFile(t, path, "smtp:\n  port: 99999\n")
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Rejected configuration reload, keeping previous settings").Len() > 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "new.example.com", store.SMTP().Host)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	w := NewWatcher("/etc/mailqueue/config.yaml", NewStore(Config{}), nil)
	assert.False(t, w.relevant(fsEvent("/etc/mailqueue/other.yaml")))
	assert.True(t, w.relevant(fsEvent("/etc/mailqueue/config.yaml")))
	assert.True(t, w.relevant(fsEvent("/etc/mailqueue/..data")))
}

func TestWatcherStartFailsForMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing", "config.yaml"), NewStore(Config{}), nil)
	_, err := w.Start(context.Background())
	assert.Error(t, err)
}

func fsEvent(name string) fsnotify.Event {
	return fsnotify.Event{Name: name, Op: fsnotify.Write}
}
