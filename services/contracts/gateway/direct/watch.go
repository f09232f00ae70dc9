// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package direct

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultCatalogDebounce is how long the catalog file must stay quiet
// before it is reloaded.
const DefaultCatalogDebounce = 250 * time.Millisecond

// CatalogWatcher reloads a gateway's template catalog when its file changes.
//
// # Description
//
// The watcher observes the file's directory, so editors that save by
// writing a temporary file and renaming it over the original are seen.
// Bursts of events are collapsed by a debounce window. A file that fails
// to parse is logged and the current catalog stays in place.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads run on a single goroutine.
type CatalogWatcher struct {
	path     string
	gateway  *Gateway
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCatalogWatcher creates a watcher for the catalog at path. debounce
// <= 0 uses DefaultCatalogDebounce. Call Start to begin watching.
func NewCatalogWatcher(path string, g *Gateway, debounce time.Duration, logger *slog.Logger) (*CatalogWatcher, error) {
	if g == nil {
		return nil, fmt.Errorf("catalog watcher: gateway is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultCatalogDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("catalog watcher: %w", err)
	}
	return &CatalogWatcher{
		path:     abs,
		gateway:  g,
		debounce: debounce,
		logger:   logger.With("component", "catalog_watcher", "path", abs),
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the directory is registered;
// events are handled until ctx is canceled or Stop is called.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	var err error
	w.startOnce.Do(func() {
		if err = w.watcher.Add(filepath.Dir(w.path)); err != nil {
			err = fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
			return
		}
		w.wg.Add(1)
		go w.loop(ctx)
	})
	return err
}

// Stop ends watching and waits for a pending reload to finish.
func (w *CatalogWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()
		w.wg.Wait()
	})
}

// Reload reads the catalog file and installs it.
func (w *CatalogWatcher) Reload() error {
	c, err := LoadCatalogFile(w.path)
	if err != nil {
		return err
	}
	w.gateway.ReloadCatalog(c)
	w.logger.Info("template catalog reloaded", "templates", len(c.Templates()))
	return nil
}

func (w *CatalogWatcher) loop(ctx context.Context) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watch error", "error", err)
		case <-timer.C:
			if err := w.Reload(); err != nil {
				w.logger.Warn("template catalog not reloaded", "error", err)
			}
		}
	}
}
