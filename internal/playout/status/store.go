// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package status persists the one piece of durable state the playout core
// owns outside its in-memory model: each channel's last_date and time_shift
// (spec §6, "Status file"). Adapted from the teacher's
// internal/pipeline/resume store, which already shapes exactly this problem
// (a small per-key record, sqlite default / memory fallback / bolt legacy
// path) for a different domain (playback resume position).
package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	_ "modernc.org/sqlite"
)

// Row is one channel's persisted status (spec §6, §3 "Optional filter_chain"
// excluded: that field is runtime-only and never persisted).
type Row struct {
	LastDate  string  `json:"last_date"`
	TimeShift float64 `json:"time_shift"`
	Active    bool    `json:"active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the persistence collaborator PlaylistSource calls into on reset,
// next, back, rollover, and DST (spec §4.6.2, §8).
type Store interface {
	Get(ctx context.Context, channelID string) (*Row, error)
	Put(ctx context.Context, channelID string, row *Row) error
	Close() error
}

const bucketName = "playout_status_v1"

// NewStore selects a backend the way the teacher's resume store does:
// sqlite by default when a directory is given, bolt when explicitly
// requested, memory otherwise.
func NewStore(backend, dir string) (Store, error) {
	switch backend {
	case "":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSQLiteStore(filepath.Join(dir, "status.sqlite"))
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewSQLiteStore(filepath.Join(dir, "status.sqlite"))
	case "bolt":
		if dir == "" {
			return NewMemoryStore(), nil
		}
		return NewBoltStore(filepath.Join(dir, "status.bolt"))
	default:
		return nil, fmt.Errorf("unknown status store backend: %s (supported: memory, sqlite, bolt)", backend)
	}
}

// SQLiteStore implements Store on the teacher's pure-Go sqlite driver
// (modernc.org/sqlite), the default durable backend (spec §6).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if absent) a sqlite-backed status store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create status store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open status db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY
	const schema = `CREATE TABLE IF NOT EXISTS playout_status (
		channel_id TEXT PRIMARY KEY,
		payload    TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init status schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, channelID string) (*Row, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM playout_status WHERE channel_id = ?`, channelID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status row: %w", err)
	}
	var row Row
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return nil, fmt.Errorf("decode status row: %w", err)
	}
	return &row, nil
}

func (s *SQLiteStore) Put(ctx context.Context, channelID string, row *Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO playout_status (channel_id, payload) VALUES (?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET payload = excluded.payload`,
		channelID, string(payload))
	if err != nil {
		return fmt.Errorf("put status row: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// BoltStore implements Store using bbolt, completing the wiring the
// teacher's resume package started (it imports go.etcd.io/bbolt but the
// module never promoted it to a direct go.mod requirement).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens a bbolt-backed status store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create status store dir: %w", err)
	}
	opts := *bolt.DefaultOptions
	opts.Timeout = 2 * time.Second
	db, err := bolt.Open(path, 0o600, &opts)
	if err != nil {
		return nil, fmt.Errorf("open status db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init status bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(ctx context.Context, channelID string) (*Row, error) {
	var row Row
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		val := b.Get([]byte(channelID))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &row)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &row, nil
}

func (s *BoltStore) Put(ctx context.Context, channelID string, row *Row) error {
	val, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(channelID), val)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// MemoryStore implements Store with a mutex-guarded map; the default for
// tests and for channels that opt out of durable status tracking.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]*Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]*Row)}
}

func (s *MemoryStore) Get(ctx context.Context, channelID string) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.data[channelID]; ok {
		clone := *row
		return &clone, nil
	}
	return nil, nil
}

func (s *MemoryStore) Put(ctx context.Context, channelID string, row *Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *row
	s.data[channelID] = &clone
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
