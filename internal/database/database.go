// Vigil - Authentication Attack Detection and Risk Scoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

/*
Package database provides the DuckDB-backed persistence layer for Vigil:
connection management, schema creation, and the store implementing the
detection package's EventStore and AlertStore interfaces.

Timestamps are stored as fixed-width UTC strings so that lexicographic
ordering matches chronological ordering. Rows written by external tools
with unparseable fields are skipped on read, never fatal.
*/
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver

	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/logging"
)

// schemaTimeout bounds schema creation at startup.
const schemaTimeout = 60 * time.Second

// DB wraps the DuckDB connection.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the DuckDB database and ensures the schema.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s",
			cfg.Path, cfg.Threads, cfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening duckdb at %s: %w", cfg.Path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging duckdb at %s: %w", cfg.Path, err)
	}

	db := &DB{conn: conn}
	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", cfg.Threads).
		Str("max_memory", cfg.MaxMemory).
		Msg("Database opened")
	return db, nil
}

// Conn exposes the underlying connection pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// createTables creates the schema if it does not exist.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS login_events (
			id VARCHAR PRIMARY KEY,
			username VARCHAR NOT NULL,
			source_ip VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			fingerprint VARCHAR,
			user_agent VARCHAR,
			ts VARCHAR NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_login_events_ts ON login_events (ts)`,
		`CREATE INDEX IF NOT EXISTS idx_login_events_source_ip ON login_events (source_ip)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id VARCHAR PRIMARY KEY,
			alert_type VARCHAR NOT NULL,
			details VARCHAR NOT NULL,
			ts VARCHAR NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_type_ts ON alerts (alert_type, ts)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
