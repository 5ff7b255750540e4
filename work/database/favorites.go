package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"radio-relay/work/types"
)

var (
	// ErrFavoriteExists is returned when the station is already a favorite
	ErrFavoriteExists = errors.New("favorite already exists")
	// ErrFavoriteNotFound is returned when removing a station that is not a favorite
	ErrFavoriteNotFound = errors.New("favorite not found")
)

// GetFavorites lists all favorites, oldest first
func (db *DB) GetFavorites(ctx context.Context) ([]types.Favorite, error) {
	query := `
		SELECT station_id, name, url, favicon, tags, codec, bitrate, created_at
		FROM favorites
		ORDER BY created_at, id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	defer rows.Close()

	favorites := make([]types.Favorite, 0)
	for rows.Next() {
		var (
			f       types.Favorite
			created int64
		)
		err := rows.Scan(&f.StationID, &f.Name, &f.URL, &f.Favicon, &f.Tags, &f.Codec, &f.Bitrate, &created)
		if err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		f.CreatedAt = time.UnixMilli(created).UTC()
		favorites = append(favorites, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate favorites: %w", err)
	}
	return favorites, nil
}

// AddFavorite pins station. Adding the same station twice returns ErrFavoriteExists.
func (db *DB) AddFavorite(ctx context.Context, station types.Station) (types.Favorite, error) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	query := `
		INSERT INTO favorites (station_id, name, url, favicon, tags, codec, bitrate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO NOTHING
	`

	result, err := db.ExecContext(ctx, query,
		station.StationID, station.Name, station.URL, station.Favicon,
		station.Tags, station.Codec, station.Bitrate, now.UnixMilli(),
	)
	if err != nil {
		return types.Favorite{}, fmt.Errorf("failed to save favorite: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return types.Favorite{}, fmt.Errorf("failed to save favorite: %w", err)
	}
	if n == 0 {
		return types.Favorite{}, fmt.Errorf("%w: %s", ErrFavoriteExists, station.StationID)
	}

	return types.Favorite{Station: station, CreatedAt: now}, nil
}

// RemoveFavorite unpins the station with stationID
func (db *DB) RemoveFavorite(ctx context.Context, stationID string) error {
	result, err := db.ExecContext(ctx, "DELETE FROM favorites WHERE station_id = ?", stationID)
	if err != nil {
		return fmt.Errorf("failed to delete favorite: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete favorite: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrFavoriteNotFound, stationID)
	}
	return nil
}
