// Package db mirrors greeting jobs into Postgres for reporting. Redis stays
// the source of truth; the mirror is optional and written best-effort.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

type DB struct {
	*sql.DB
}

func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{DB: conn}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS greeting_jobs (
	video_id      TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	data          JSONB NOT NULL,
	attempt       INTEGER NOT NULL DEFAULT 0,
	strategy      TEXT,
	video_url     TEXT,
	error_message TEXT,
	notify_error  TEXT,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	failed_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS greeting_jobs_status_created_idx ON greeting_jobs (status, created_at DESC);
`

// Migrate creates the mirror table when missing.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}
