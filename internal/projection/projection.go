package projection

import (
	"fmt"
	"math"
)

const (
	// BoundsPadding is the margin, in degrees, added on every side when
	// deriving geographic bounds from a set of resolved coordinates
	BoundsPadding = 0.01

	// FallbackMargin is the per-axis margin fraction used by the bounds-free
	// equirectangular placement, keeping points off the canvas edge
	FallbackMargin = 0.1

	// GridSpacing is the pixel distance between grid-fallback placeholders
	GridSpacing = 50.0

	// GridOrigin is the pixel offset of the first grid-fallback placeholder
	GridOrigin = 50.0
)

// GeographicBounds is a rectangle in latitude/longitude space bounding a
// map's working area. Once finalized, MinLat < MaxLat and MinLng < MaxLng.
type GeographicBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// WorldBounds covers the entire globe. It is the placeholder used by the
// bounds bootstrap: wide enough that any resolvable address projects inside.
var WorldBounds = GeographicBounds{MinLat: -90, MaxLat: 90, MinLng: -180, MaxLng: 180}

// Validate checks the ordering invariant and rejects degenerate spans that
// would divide by zero during projection.
func (b GeographicBounds) Validate() error {
	if math.IsNaN(b.MinLat) || math.IsNaN(b.MaxLat) || math.IsNaN(b.MinLng) || math.IsNaN(b.MaxLng) {
		return fmt.Errorf("bounds contain NaN")
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("degenerate latitude span: min %f >= max %f", b.MinLat, b.MaxLat)
	}
	if b.MinLng >= b.MaxLng {
		return fmt.Errorf("degenerate longitude span: min %f >= max %f", b.MinLng, b.MaxLng)
	}
	return nil
}

// Contains reports whether the geographic point lies within the bounds.
func (b GeographicBounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// CanvasExtent is the pixel width/height of the working area an imported
// zone is placed within. Both dimensions are always positive.
type CanvasExtent struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate checks that both dimensions are positive.
func (e CanvasExtent) Validate() error {
	if !(e.Width > 0) || !(e.Height > 0) {
		return fmt.Errorf("canvas extent must be positive, got %fx%f", e.Width, e.Height)
	}
	return nil
}

// Contains reports whether the pixel point lies within the canvas,
// edges inclusive.
func (e CanvasExtent) Contains(p CanvasPoint) bool {
	return p.X >= 0 && p.X <= e.Width && p.Y >= 0 && p.Y <= e.Height
}

// GeoPoint is a geographic coordinate in degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CanvasPoint is a pixel position on the map canvas. Y grows downward.
type CanvasPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// GeoToCanvas projects a geographic coordinate into pixel space.
// Longitude is normalized across the bounds' longitude span; latitude is
// normalized and inverted, because canvas Y grows downward while latitude
// grows northward. Degenerate bounds are a fatal input error, never a
// silent NaN.
func GeoToCanvas(lat, lng float64, bounds GeographicBounds, extent CanvasExtent) (CanvasPoint, error) {
	if err := bounds.Validate(); err != nil {
		return CanvasPoint{}, fmt.Errorf("cannot project with invalid bounds: %w", err)
	}
	if err := extent.Validate(); err != nil {
		return CanvasPoint{}, fmt.Errorf("cannot project with invalid extent: %w", err)
	}

	normX := (lng - bounds.MinLng) / (bounds.MaxLng - bounds.MinLng)
	normY := 1 - (lat-bounds.MinLat)/(bounds.MaxLat-bounds.MinLat)

	return CanvasPoint{
		X: normX * extent.Width,
		Y: normY * extent.Height,
	}, nil
}

// CanvasToGeo is the inverse of GeoToCanvas.
func CanvasToGeo(x, y float64, bounds GeographicBounds, extent CanvasExtent) (GeoPoint, error) {
	if err := bounds.Validate(); err != nil {
		return GeoPoint{}, fmt.Errorf("cannot project with invalid bounds: %w", err)
	}
	if err := extent.Validate(); err != nil {
		return GeoPoint{}, fmt.Errorf("cannot project with invalid extent: %w", err)
	}

	normX := x / extent.Width
	normY := y / extent.Height

	return GeoPoint{
		Lat: bounds.MinLat + (1-normY)*(bounds.MaxLat-bounds.MinLat),
		Lng: bounds.MinLng + normX*(bounds.MaxLng-bounds.MinLng),
	}, nil
}

// EquirectangularFallback places a geographic coordinate on the canvas when
// no bounds exist yet: a global equirectangular normalization (longitude
// across -180..180, latitude across -90..90) scaled into the inner 80% of
// the canvas, so points never land exactly on the canvas edge.
func EquirectangularFallback(lat, lng float64, extent CanvasExtent) CanvasPoint {
	normX := (lng + 180) / 360
	normY := 1 - (lat+90)/180

	return CanvasPoint{
		X: (FallbackMargin + normX*(1-2*FallbackMargin)) * extent.Width,
		Y: (FallbackMargin + normY*(1-2*FallbackMargin)) * extent.Height,
	}
}

// GridFallback assigns a deterministic placeholder position for the record
// at the given index out of total records: a square-ish grid with fixed
// spacing and origin offset. Same input order yields the same output, and
// the placement is always provisional.
func GridFallback(index, total int) CanvasPoint {
	if total < 1 {
		total = 1
	}
	columns := int(math.Ceil(math.Sqrt(float64(total))))
	if columns < 1 {
		columns = 1
	}

	col := index % columns
	row := index / columns

	return CanvasPoint{
		X: GridOrigin + float64(col)*GridSpacing,
		Y: GridOrigin + float64(row)*GridSpacing,
	}
}

// BoundsFromPoints derives a geographic bounding rectangle from resolved
// coordinates, padding each side by BoundsPadding. An empty input is an
// error: no sensible bounds can be derived from nothing.
func BoundsFromPoints(points []GeoPoint) (GeographicBounds, error) {
	if len(points) == 0 {
		return GeographicBounds{}, fmt.Errorf("cannot derive bounds from zero points")
	}

	bounds := GeographicBounds{
		MinLat: points[0].Lat,
		MaxLat: points[0].Lat,
		MinLng: points[0].Lng,
		MaxLng: points[0].Lng,
	}
	for _, p := range points[1:] {
		bounds.MinLat = math.Min(bounds.MinLat, p.Lat)
		bounds.MaxLat = math.Max(bounds.MaxLat, p.Lat)
		bounds.MinLng = math.Min(bounds.MinLng, p.Lng)
		bounds.MaxLng = math.Max(bounds.MaxLng, p.Lng)
	}

	bounds.MinLat -= BoundsPadding
	bounds.MaxLat += BoundsPadding
	bounds.MinLng -= BoundsPadding
	bounds.MaxLng += BoundsPadding

	return bounds, nil
}
