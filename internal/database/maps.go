package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mapforge/server/internal/importer"
	"github.com/mapforge/server/internal/projection"
)

// ErrPendingCandidates rejects persistence of a batch that still contains
// candidates on provisional placeholder positions.
var ErrPendingCandidates = errors.New("candidates still awaiting geocoding")

// MapStorage is the persistence collaborator for authored maps. It exposes
// the two operations the import pipeline relies on (read a map by id,
// write a map's zones as a batch) plus the listing the authoring UI needs.
type MapStorage struct {
	db *sql.DB
}

// NewMapStorage creates a new map storage instance.
func NewMapStorage(db *sql.DB) *MapStorage {
	return &MapStorage{db: db}
}

// MapRecord is a stored map: a named canvas with optional geographic bounds.
type MapRecord struct {
	ID        int64                         `json:"id"`
	Name      string                        `json:"name"`
	Extent    projection.CanvasExtent       `json:"extent"`
	Bounds    *projection.GeographicBounds  `json:"bounds,omitempty"`
	CreatedAt time.Time                     `json:"created_at"`
	UpdatedAt time.Time                     `json:"updated_at"`
}

// Zone is a persisted zone row.
type Zone struct {
	ID            int64     `json:"id"`
	MapID         int64     `json:"map_id"`
	Token         string    `json:"token"`
	ShapeType     string    `json:"shape_type"`
	CenterX       float64   `json:"center_x"`
	CenterY       float64   `json:"center_y"`
	Width         *float64  `json:"width,omitempty"`
	Height        *float64  `json:"height,omitempty"`
	Radius        *float64  `json:"radius,omitempty"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	SourceAddress *string   `json:"source_address,omitempty"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateMap stores a new map and returns it with its assigned id.
func (s *MapStorage) CreateMap(name string, extent projection.CanvasExtent, bounds *projection.GeographicBounds) (*MapRecord, error) {
	if err := extent.Validate(); err != nil {
		return nil, err
	}
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
	}

	var minLat, maxLat, minLng, maxLng *float64
	if bounds != nil {
		minLat, maxLat, minLng, maxLng = &bounds.MinLat, &bounds.MaxLat, &bounds.MinLng, &bounds.MaxLng
	}

	record := &MapRecord{Name: name, Extent: extent, Bounds: bounds}
	err := s.db.QueryRow(`
		INSERT INTO maps (name, canvas_width, canvas_height, min_lat, max_lat, min_lng, max_lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, name, extent.Width, extent.Height, minLat, maxLat, minLng, maxLng).
		Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create map: %w", err)
	}
	return record, nil
}

// GetMapByID retrieves a map by id. Returns nil without error when the map
// does not exist.
func (s *MapStorage) GetMapByID(id int64) (*MapRecord, error) {
	record := &MapRecord{}
	var minLat, maxLat, minLng, maxLng sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT id, name, canvas_width, canvas_height, min_lat, max_lat, min_lng, max_lng, created_at, updated_at
		FROM maps WHERE id = $1
	`, id).Scan(
		&record.ID, &record.Name, &record.Extent.Width, &record.Extent.Height,
		&minLat, &maxLat, &minLng, &maxLng,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get map %d: %w", id, err)
	}

	if minLat.Valid && maxLat.Valid && minLng.Valid && maxLng.Valid {
		record.Bounds = &projection.GeographicBounds{
			MinLat: minLat.Float64,
			MaxLat: maxLat.Float64,
			MinLng: minLng.Float64,
			MaxLng: maxLng.Float64,
		}
	}
	return record, nil
}

// UpdateMapBounds stores the final geographic bounds of a map, typically
// after the import pipeline derived them.
func (s *MapStorage) UpdateMapBounds(id int64, bounds projection.GeographicBounds) error {
	if err := bounds.Validate(); err != nil {
		return err
	}
	result, err := s.db.Exec(`
		UPDATE maps
		SET min_lat = $2, max_lat = $3, min_lng = $4, max_lng = $5, updated_at = NOW()
		WHERE id = $1
	`, id, bounds.MinLat, bounds.MaxLat, bounds.MinLng, bounds.MaxLng)
	if err != nil {
		return fmt.Errorf("failed to update map bounds: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update map bounds: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("map %d not found", id)
	}
	return nil
}

// ValidateCandidatesForPersistence rejects any batch that still contains
// provisional candidates. Placeholder positions must never reach storage.
func ValidateCandidatesForPersistence(candidates []*importer.ZoneCandidate) error {
	pending := 0
	for _, c := range candidates {
		if c.NeedsGeocoding {
			pending++
		}
	}
	if pending > 0 {
		return fmt.Errorf("%d of %d zones cannot be persisted: %w", pending, len(candidates), ErrPendingCandidates)
	}
	return nil
}

// ReplaceZones writes an import's zone candidates to a map as a batch,
// replacing any zones the map already had. The batch is rejected outright
// if any candidate is still flagged for geocoding.
func (s *MapStorage) ReplaceZones(mapID int64, candidates []*importer.ZoneCandidate) ([]Zone, error) {
	if err := ValidateCandidatesForPersistence(candidates); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM zones WHERE map_id = $1`, mapID); err != nil {
		return nil, fmt.Errorf("failed to clear existing zones: %w", err)
	}

	zones := make([]Zone, 0, len(candidates))
	for _, candidate := range candidates {
		zone := zoneFromCandidate(mapID, candidate)
		err := tx.QueryRow(`
			INSERT INTO zones (map_id, token, shape_type, center_x, center_y, width, height, radius,
				title, description, category, source_address, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id, created_at
		`, zone.MapID, zone.Token, zone.ShapeType, zone.CenterX, zone.CenterY,
			zone.Width, zone.Height, zone.Radius,
			zone.Title, zone.Description, zone.Category,
			zone.SourceAddress, zone.Latitude, zone.Longitude,
		).Scan(&zone.ID, &zone.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert zone %q: %w", zone.Token, err)
		}
		zones = append(zones, zone)
	}

	if _, err := tx.Exec(`UPDATE maps SET updated_at = NOW() WHERE id = $1`, mapID); err != nil {
		return nil, fmt.Errorf("failed to touch map: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit zones: %w", err)
	}
	return zones, nil
}

// ListZones returns all zones of a map in insertion order.
func (s *MapStorage) ListZones(mapID int64) ([]Zone, error) {
	rows, err := s.db.Query(`
		SELECT id, map_id, token, shape_type, center_x, center_y, width, height, radius,
			title, description, category, source_address, latitude, longitude, created_at
		FROM zones WHERE map_id = $1 ORDER BY id
	`, mapID)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	zones := []Zone{}
	for rows.Next() {
		var zone Zone
		if err := rows.Scan(
			&zone.ID, &zone.MapID, &zone.Token, &zone.ShapeType, &zone.CenterX, &zone.CenterY,
			&zone.Width, &zone.Height, &zone.Radius,
			&zone.Title, &zone.Description, &zone.Category,
			&zone.SourceAddress, &zone.Latitude, &zone.Longitude, &zone.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan zone: %w", err)
		}
		zones = append(zones, zone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read zones: %w", err)
	}
	return zones, nil
}

// zoneFromCandidate flattens a candidate's shape variant into a zone row.
func zoneFromCandidate(mapID int64, candidate *importer.ZoneCandidate) Zone {
	center := candidate.Shape.Center()
	zone := Zone{
		MapID:       mapID,
		Token:       candidate.ID,
		ShapeType:   string(candidate.Shape.Type()),
		CenterX:     center.X,
		CenterY:     center.Y,
		Title:       candidate.Content.Title,
		Description: candidate.Content.Description,
		Category:    candidate.Content.Category,
	}

	switch shape := candidate.Shape.(type) {
	case importer.RectangleShape:
		zone.Width = &shape.Width
		zone.Height = &shape.Height
	case importer.CircleShape:
		zone.Radius = &shape.Radius
	}

	if candidate.SourceAddress != "" {
		address := candidate.SourceAddress
		zone.SourceAddress = &address
	}
	if candidate.ResolvedCoordinates != nil {
		lat := candidate.ResolvedCoordinates.Lat
		lng := candidate.ResolvedCoordinates.Lng
		zone.Latitude = &lat
		zone.Longitude = &lng
	}
	return zone
}
