package geo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Cache persists geocoded locations in SQLite.
type Cache struct {
	db *sql.DB
}

func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// Get looks up a cached location by its query string.
func (c *Cache) Get(ctx context.Context, query string) (Location, bool) {
	var loc Location
	err := c.db.QueryRowContext(ctx, `
		SELECT display_name, latitude, longitude
		FROM geocache
		WHERE query = ?
	`, query).Scan(&loc.Name, &loc.Latitude, &loc.Longitude)

	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, false
	}
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("Failed to read geocache")
		return Location{}, false
	}
	return loc, true
}

// Put stores a resolved location.
func (c *Cache) Put(ctx context.Context, query string, loc Location) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO geocache (query, display_name, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, query, loc.Name, loc.Latitude, loc.Longitude, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to write geocache: %w", err)
	}
	return nil
}
