/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/telekom/mailqueue/pkg/metrics"
)

// Watcher reloads the configuration file into a Store whenever it changes on
// disk. The parent directory is watched so that editors replacing the file
// and Kubernetes ConfigMap symlink swaps are both picked up.
type Watcher struct {
	path   string
	store  *Store
	logger *zap.SugaredLogger
	// debounce collapses bursts of events from a single save
	debounce time.Duration
	// onReload is called after a successful reload
	onReload func(cfg Config)
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, store *Store, logger *zap.SugaredLogger) *Watcher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		store:    store,
		logger:   logger.Named("config-watcher"),
		debounce: 250 * time.Millisecond,
	}
}

// WithDebounce sets how long the watcher waits for further events before reloading.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// WithReloadCallback registers fn to run after every successful reload.
func (w *Watcher) WithReloadCallback(fn func(cfg Config)) *Watcher {
	w.onReload = fn
	return w
}

// Start begins watching in a background goroutine. The returned channel is
// closed when the watcher stops after ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) (<-chan struct{}, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch config directory %s: %w", dir, err)
	}

	w.logger.Infow("Watching configuration file for changes", "path", w.path)
	done := make(chan struct{})
	go w.watchLoop(ctx, fsw, done)
	return done, nil
}

func (w *Watcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer fsw.Close()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Config watcher context cancelled")
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debugw("Configuration file event", "event", event.String())
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Config watcher error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(event.Name)
	// ConfigMap volumes replace the ..data symlink instead of the file.
	return name == w.path || filepath.Base(name) == "..data"
}

func (w *Watcher) reload() {
	cfg, err := w.store.Reload(w.path)
	if err != nil {
		metrics.ConfigReloads.WithLabelValues("error").Inc()
		w.logger.Errorw("Rejected configuration reload, keeping previous settings",
			"path", w.path,
			"error", err)
		return
	}
	metrics.ConfigReloads.WithLabelValues("success").Inc()
	w.logger.Infow("Configuration reloaded",
		"path", w.path,
		"smtpHost", cfg.SMTP.Host,
		"smtpPort", cfg.SMTP.Port)
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
