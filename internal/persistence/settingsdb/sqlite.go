// Package settingsdb is the on-disk sidecar for the simulation: the quality
// settings blob (the moral equivalent of the old client's localStorage
// entry) plus an append-only index of chunk lifecycle events. It is a
// read-model; losing it never corrupts a world.
package settingsdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"citycraft.dev/internal/sim/quality"
	"citycraft.dev/internal/sim/stream"
)

// SettingsKey is the fixed key the quality blob is stored under.
const SettingsKey = "citycraft.quality"

type DB struct {
	db  *sql.DB
	log *log.Logger

	ch     chan stream.Event
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

func Open(path string, logger *log.Logger) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &DB{
		db:  db,
		log: logger,
		// Buffered so bursty unload/load storms never stall the stream loop.
		ch: make(chan stream.Event, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-style event writes; NORMAL is enough durability
	// for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			k TEXT PRIMARY KEY,
			v TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			kind TEXT NOT NULL,
			err TEXT,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_events_at ON chunk_events(at);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

// LoadSettings returns the persisted quality blob, or (nil, nil) on first
// run.
func (s *DB) LoadSettings() (*quality.Settings, error) {
	var raw string
	err := s.db.QueryRow(`SELECT v FROM kv WHERE k = ?`, SettingsKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out quality.Settings
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("settings blob: %w", err)
	}
	return &out, nil
}

func (s *DB) SaveSettings(v quality.Settings) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at`,
		SettingsKey, string(raw), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ChunkEvent queues an event for the writer goroutine. Never blocks: if the
// buffer is full the event is dropped (it is telemetry, not state).
func (s *DB) ChunkEvent(ev stream.Event) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- ev:
	default:
		if s.log != nil {
			s.log.Printf("settingsdb: event buffer full, dropping %s %s", ev.Kind, ev.Key)
		}
	}
}

func (s *DB) loop() {
	for ev := range s.ch {
		_, err := s.db.Exec(
			`INSERT INTO chunk_events (cx, cz, kind, err, at) VALUES (?, ?, ?, ?, ?)`,
			ev.Key.CX, ev.Key.CZ, ev.Kind, ev.Err, ev.At.UTC().Format(time.RFC3339Nano),
		)
		if err != nil && s.log != nil {
			s.log.Printf("settingsdb: insert event: %v", err)
		}
	}
}

// RecentEvents returns up to limit events, newest first.
func (s *DB) RecentEvents(limit int) ([]stream.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT cx, cz, kind, COALESCE(err, ''), at FROM chunk_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stream.Event
	for rows.Next() {
		var ev stream.Event
		var at string
		if err := rows.Scan(&ev.Key.CX, &ev.Key.CZ, &ev.Kind, &ev.Err, &at); err != nil {
			return nil, err
		}
		ev.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *DB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
