// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/subhogram/riskobot/internal/log"
)

// Holder keeps the current AppConfig and supports atomic replacement on
// reload. Readers get a copy and never observe a partially applied config.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	path    string
	onSwap  []func(AppConfig)
}

// NewHolder creates a Holder seeded with cfg.
func NewHolder(cfg AppConfig, loader *Loader, path string) *Holder {
	return &Holder{current: cfg, loader: loader, path: path}
}

// Current returns a copy of the active configuration.
func (h *Holder) Current() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnSwap registers a callback invoked with the new config after a successful
// reload. Callbacks run synchronously on the reloading goroutine.
func (h *Holder) OnSwap(fn func(AppConfig)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSwap = append(h.onSwap, fn)
}

// Reload re-runs the loader and swaps the config if it validates. An invalid
// candidate leaves the running configuration untouched.
func (h *Holder) Reload(ctx context.Context) error {
	logger := log.WithComponentFromContext(ctx, "config")

	cfg, err := h.loader.Load()
	if err != nil {
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_rejected").
			Msg("reload produced invalid configuration, keeping current")
		return err
	}

	h.mu.Lock()
	h.current = cfg
	callbacks := make([]func(AppConfig), len(h.onSwap))
	copy(callbacks, h.onSwap)
	h.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}

	logger.Info().
		Str(log.FieldEvent, "config.reloaded").
		Str(log.FieldPath, h.path).
		Msg("configuration reloaded")
	return nil
}

// Watch observes the config file for changes and reloads on write/create
// events. It debounces editor rename-and-replace sequences. Watch blocks
// until ctx is cancelled; callers run it in a goroutine.
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		<-ctx.Done()
		return nil
	}

	logger := log.WithComponent("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors and renameio replace the
	// inode, which silently drops a file-level watch.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		return err
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != h.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case <-trigger:
			if err := h.Reload(ctx); err != nil {
				logger.Warn().Err(err).Msg("file-triggered reload failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
