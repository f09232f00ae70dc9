// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianContracts/services/contracts/datatypes"
)

const draftKeyPrefix = "draft/"

// CacheConfig configures the draft cache.
type CacheConfig struct {
	// Dir holds the BadgerDB files. Ignored when InMemory is true.
	Dir string `yaml:"dir"`

	// InMemory keeps everything in RAM. Drafts do not survive a restart.
	InMemory bool `yaml:"in_memory"`

	// TTL bounds how long an untouched draft is kept. Default 24h.
	TTL time.Duration `yaml:"ttl"`

	// GCInterval is how often value-log GC runs. 0 disables it.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite. Default 0.5.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio"`

	// Logger receives BadgerDB diagnostics. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultCacheConfig returns the on-disk production settings.
func DefaultCacheConfig(dir string) CacheConfig {
	return CacheConfig{
		Dir:            dir,
		TTL:            24 * time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// DraftCache keeps serialized draft snapshots in BadgerDB.
//
// # Description
//
// Each Put rewrites the entry with a fresh TTL, so an active draft never
// expires while an abandoned one disappears on its own. Values are opaque
// bytes; the workflow owns their encoding.
//
// # Thread Safety
//
// Safe for concurrent use.
type DraftCache struct {
	db       *badger.DB
	ttl      time.Duration
	gcStop   chan struct{}
	gcDone   chan struct{}
	inMemory bool
}

// OpenDraftCache opens (or creates) the cache described by cfg.
//
// # Inputs
//
//   - cfg: Dir is required unless InMemory is set.
//
// # Outputs
//
//   - *DraftCache: Call Close when done.
//   - error: Non-nil if the directory or database cannot be opened.
func OpenDraftCache(cfg CacheConfig) (*DraftCache, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("draft cache: dir is required for a persistent cache")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create draft cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open draft cache: %w", err)
	}

	c := &DraftCache{db: db, ttl: cfg.TTL, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio >= 1 {
			ratio = 0.5
		}
		c.gcStop = make(chan struct{})
		c.gcDone = make(chan struct{})
		go c.runGC(cfg.GCInterval, ratio, cfg.Logger)
	}
	return c, nil
}

// OpenMemoryDraftCache opens an in-memory cache with the default TTL.
func OpenMemoryDraftCache() (*DraftCache, error) {
	return OpenDraftCache(CacheConfig{InMemory: true})
}

// Put stores data under handle and resets its TTL.
func (c *DraftCache) Put(ctx context.Context, handle string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(draftKey(handle), data).WithTTL(c.ttl))
	})
}

// Get returns the bytes stored under handle, or an error matching
// datatypes.ErrNotFound when absent or expired.
func (c *DraftCache) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(draftKey(handle))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.NewNotFoundError("load_draft", "draft not found")
	}
	if err != nil {
		return nil, fmt.Errorf("read draft %s: %w", handle, err)
	}
	return out, nil
}

// Delete removes handle. Deleting a missing draft is not an error.
func (c *DraftCache) Delete(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(draftKey(handle))
	})
}

// Handles lists every live draft handle.
func (c *DraftCache) Handles(ctx context.Context) ([]string, error) {
	var handles []string
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(draftKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().Key()
			handles = append(handles, string(key[len(draftKeyPrefix):]))
		}
		return nil
	})
	return handles, err
}

// Close stops GC and closes the database. Safe to call once.
func (c *DraftCache) Close() error {
	if c.gcStop != nil {
		close(c.gcStop)
		<-c.gcDone
	}
	return c.db.Close()
}

func (c *DraftCache) runGC(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(c.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.gcStop:
			return
		case <-ticker.C:
			err := c.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("draft cache value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func draftKey(handle string) []byte {
	return []byte(draftKeyPrefix + handle)
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
