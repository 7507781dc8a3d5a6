// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists completed pipeline runs in an embedded
// BadgerDB, scoped per user.
//
// # Description
//
// Keyspace layout:
//
//	h/{userID}/{invertedNanos}/{entryID} -> HistoryEntry JSON
//	i/{userID}/{entryID}                 -> entry key (secondary index)
//
// The inverted-timestamp segment makes a plain forward iteration over
// a user's prefix return entries newest first. Both keys are written
// in one transaction, so an entry is visible atomically or not at
// all. Ownership is structural: every operation keys off the caller's
// userID prefix, so a foreign entry id is indistinguishable from a
// missing one.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB transactions provide
// isolation.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/AleutianAI/FormulaFOSS/services/formulation/datatypes"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an entry does not exist or does not
// belong to the requesting user. Callers cannot tell the two apart.
var ErrNotFound = errors.New("history entry not found")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the store configuration.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is set.
	Path string

	// InMemory runs without disk persistence. For tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value-log garbage collection.
	// Zero disables GC. Ignored for in-memory stores.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum garbage ratio before GC rewrites
	// a value-log file. Default: 0.5.
	GCDiscardRatio float64

	// Logger for store operations. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for a persistent store.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to BadgerDB's logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// Store
// =============================================================================

// Store is the durable, user-scoped record of completed runs.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens (or creates) the history database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent history store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "history_store"))

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create history directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, ratio)
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// Ready reports whether the store can serve requests.
func (s *Store) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return errors.New("history store is closed")
	}
	return nil
}

// Append durably writes a completed run scoped to entry.UserID and
// returns the entry id. A missing ID is assigned; a missing CreatedAt
// is stamped. The write is atomic: entry plus index or nothing.
func (s *Store) Append(ctx context.Context, entry *datatypes.HistoryEntry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if entry == nil {
		return "", errors.New("entry must not be nil")
	}
	if entry.UserID == "" {
		return "", errors.New("entry user id must not be empty")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("marshal history entry: %w", err)
	}

	ekey := entryKey(entry.UserID, entry.CreatedAt, entry.ID)
	ikey := indexKey(entry.UserID, entry.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(ekey, value); err != nil {
			return err
		}
		return txn.Set(ikey, ekey)
	})
	if err != nil {
		return "", fmt.Errorf("write history entry: %w", err)
	}

	s.logger.Debug("history entry appended",
		"user_id", entry.UserID, "entry_id", entry.ID)
	return entry.ID, nil
}

// List returns up to limit entries owned by userID, newest first.
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, userID string, limit int) ([]datatypes.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errors.New("user id must not be empty")
	}

	prefix := userPrefix(userID)
	entries := []datatypes.HistoryEntry{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry datatypes.HistoryEntry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("decode history entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Get returns the entry with the given id if userID owns it.
func (s *Store) Get(ctx context.Context, userID, entryID string) (*datatypes.HistoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var entry datatypes.HistoryEntry

	err := s.db.View(func(txn *badger.Txn) error {
		ekey, err := resolveEntryKey(txn, userID, entryID)
		if err != nil {
			return err
		}
		item, err := txn.Get(ekey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Delete removes the entry with the given id if userID owns it. A
// missing or foreign entry returns ErrNotFound; deletion is terminal.
func (s *Store) Delete(ctx context.Context, userID, entryID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		ekey, err := resolveEntryKey(txn, userID, entryID)
		if err != nil {
			return err
		}
		if err := txn.Delete(ekey); err != nil {
			return err
		}
		return txn.Delete(indexKey(userID, entryID))
	})
	if err != nil {
		return err
	}

	s.logger.Debug("history entry deleted", "user_id", userID, "entry_id", entryID)
	return nil
}

// =============================================================================
// Internals
// =============================================================================

// resolveEntryKey looks up the index for the full entry key.
func resolveEntryKey(txn *badger.Txn, userID, entryID string) ([]byte, error) {
	if userID == "" || entryID == "" {
		return nil, ErrNotFound
	}
	item, err := txn.Get(indexKey(userID, entryID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func userPrefix(userID string) []byte {
	return fmt.Appendf(nil, "h/%s/", userID)
}

// entryKey encodes the creation time inverted so ascending key order
// is newest-first.
func entryKey(userID string, createdAt time.Time, entryID string) []byte {
	inverted := uint64(math.MaxInt64 - createdAt.UnixNano())
	return fmt.Appendf(nil, "h/%s/%020d/%s", userID, inverted, entryID)
}

func indexKey(userID, entryID string) []byte {
	return fmt.Appendf(nil, "i/%s/%s", userID, entryID)
}

// runGC periodically rewrites the value log.
func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err == nil {
				s.logger.Debug("history value log GC completed")
			} else if !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("history value log GC error", "error", err)
			}
		}
	}
}
