// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists contract sessions, parties, audit events and
// in-progress drafts.
//
// Two engines are used:
//
//   - SQLite through gorm for sessions, parties and the audit trail
//   - BadgerDB for draft snapshots, which carry their own TTL
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DBConfig configures the relational store.
type DBConfig struct {
	// Path of the SQLite file. ":memory:" opens a private in-memory database.
	Path string `yaml:"path"`

	// SlowThreshold logs queries slower than this. Default 200ms.
	SlowThreshold time.Duration `yaml:"slow_threshold"`

	// Logger receives gorm diagnostics. Nil uses slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// OpenDB opens the SQLite database and migrates every model.
//
// # Description
//
// Opens with WAL journaling and a busy timeout, pins the pool to a single
// connection, and runs AutoMigrate for SessionRecord, PartyRecord and
// AuditRecord.
//
// # Inputs
//
//   - cfg: Path is required.
//
// # Outputs
//
//   - *gorm.DB: Ready for use by the repositories.
//   - error: Non-nil if the file cannot be opened or migrated.
func OpenDB(cfg DBConfig) (*gorm.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: database path is required")
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dsn := cfg.Path
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		dsn = fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", cfg.Path)
	}

	gormLogger := logger.New(
		slogWriter{logger: cfg.Logger},
		logger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenMemoryDB opens a migrated in-memory database for tests and local runs.
func OpenMemoryDB() (*gorm.DB, error) {
	return OpenDB(DBConfig{Path: ":memory:"})
}

// CloseDB closes the pool behind db.
func CloseDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database answers.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&SessionRecord{},
		&PartyRecord{},
		&AuditRecord{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// slogWriter routes gorm's printf-style logger into slog.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "gorm")
}
