package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mapforge/server/internal/config"
)

// Connect opens a PostgreSQL connection pool from server configuration and
// verifies it with a ping.
func Connect(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate creates the maps and zones tables if they do not exist.
func Migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS maps (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			canvas_width DOUBLE PRECISION NOT NULL,
			canvas_height DOUBLE PRECISION NOT NULL,
			min_lat DOUBLE PRECISION,
			max_lat DOUBLE PRECISION,
			min_lng DOUBLE PRECISION,
			max_lng DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS zones (
			id BIGSERIAL PRIMARY KEY,
			map_id BIGINT NOT NULL REFERENCES maps(id) ON DELETE CASCADE,
			token TEXT NOT NULL,
			shape_type TEXT NOT NULL,
			center_x DOUBLE PRECISION NOT NULL,
			center_y DOUBLE PRECISION NOT NULL,
			width DOUBLE PRECISION,
			height DOUBLE PRECISION,
			radius DOUBLE PRECISION,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			source_address TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (map_id, token)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_zones_map_id ON zones(map_id)`,
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
