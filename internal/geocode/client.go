package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mapforge/server/internal/config"
	"github.com/mapforge/server/internal/projection"
)

// ErrNotFound is returned when the geocoding service reports no match for
// an address. It is distinct from transport or service failure: callers log
// it as informational, but both outcomes leave the address unresolved.
var ErrNotFound = errors.New("address not found")

// Geocoder resolves a single free-text address to a geographic coordinate.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*projection.GeoPoint, error)
}

// NominatimClient resolves addresses against a Nominatim-compatible search
// endpoint (OpenStreetMap's public instance by default).
type NominatimClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

// NewNominatimClient creates a geocoding client from server configuration.
func NewNominatimClient(cfg *config.Config) *NominatimClient {
	return &NominatimClient{
		baseURL:   cfg.Geocoder.BaseURL,
		userAgent: cfg.Geocoder.UserAgent,
		client: &http.Client{
			Timeout: cfg.Geocoder.Timeout,
		},
	}
}

// nominatimResult is the subset of the Nominatim search response this
// service reads. Coordinates arrive as strings.
type nominatimResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Geocode resolves one free-text address. It returns the coordinate pair on
// success, ErrNotFound when the service reports no match, and a wrapped
// transport/service error otherwise.
func (c *NominatimClient) Geocode(ctx context.Context, address string) (*projection.GeoPoint, error) {
	if address == "" {
		return nil, fmt.Errorf("geocode request has empty address")
	}

	query := url.Values{}
	query.Set("q", address)
	query.Set("format", "json")
	query.Set("limit", "1")
	requestURL := fmt.Sprintf("%s/search?%s", c.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close geocode response body: %v", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read geocode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var results []nominatimResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}

	if len(results) == 0 {
		return nil, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode response has invalid latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("geocode response has invalid longitude %q: %w", results[0].Lon, err)
	}

	log.Printf("Geocoded %q to (%f, %f) in %v", address, lat, lng, time.Since(start))
	return &projection.GeoPoint{Lat: lat, Lng: lng}, nil
}
