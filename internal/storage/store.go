// Package storage persists the crawler state in SQLite: the resource
// catalog, the append-only check journal, the tables index and the
// dynamically created per-resource tables.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by lookups that target a missing row.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database holding all crawler state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at the given path or DSN and ensures
// the schema exists.
func Open(databaseURL string) (*Store, error) {
	dsn := databaseURL
	if !strings.Contains(dsn, "?") {
		dsn += "?" + url.Values{
			"_pragma": []string{
				"busy_timeout(30000)",
				"journal_mode(WAL)",
				"synchronous(NORMAL)",
				"foreign_keys(ON)",
			},
		}.Encode()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Dynamic table rewrites are the only long transactions; a single writer
	// keeps them serialized.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		wrappedInitErr := fmt.Errorf("initialize schema for %q: %w", databaseURL, err)
		if closeErr := db.Close(); closeErr != nil {
			return nil, errors.Join(wrappedInitErr, fmt.Errorf("close database after init failure: %w", closeErr))
		}
		return nil, wrappedInitErr
	}
	log.Debug().Str("database", databaseURL).Msg("Database opened")
	return store, nil
}

// DB exposes the underlying handle for read-only diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS catalog (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			dataset_id TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			url TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			priority INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT '',
			harvest_modified_at TEXT,
			last_check_at TEXT,
			UNIQUE (dataset_id, resource_id)
		)`,
		`CREATE TABLE IF NOT EXISTS checks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			resource_id TEXT NOT NULL,
			url TEXT NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			status INTEGER,
			headers TEXT,
			timeout INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			response_time_ms INTEGER,
			checksum TEXT,
			filesize INTEGER,
			mime_type TEXT,
			parsing_table TEXT,
			parsing_error TEXT,
			parsing_started_at TEXT,
			parsing_finished_at TEXT,
			detected_last_modified_at TEXT,
			detected_last_modified_source TEXT,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checks_resource ON checks (resource_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_checks_url ON checks (url, created_at)`,
		`CREATE TABLE IF NOT EXISTS tables_index (
			resource_id TEXT PRIMARY KEY,
			table_name TEXT NOT NULL,
			csv_detective TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS resources_exceptions (
			resource_id TEXT PRIMARY KEY,
			table_indexes TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Timestamps are stored as RFC3339 text so SQLite date() functions apply.
const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Tolerate second-precision values written by older revisions.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}

func parseTimeNull(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullStr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func ptrOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
