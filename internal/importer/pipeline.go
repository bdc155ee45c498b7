package importer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mapforge/server/internal/geocode"
	"github.com/mapforge/server/internal/projection"
)

// ErrNoAddressesResolved is returned when bounds must be derived from the
// import itself but not a single candidate ended up with a resolved
// coordinate. No sensible bounds exist, so the import attempt fails.
var ErrNoAddressesResolved = errors.New("no addresses resolved; cannot derive map bounds")

// PlacementError rejects an import whose final pixel coordinates fall
// outside the canvas. It carries enough to let the user either widen the
// bounds by hand or re-run with the suggested ones. Nothing is committed.
type PlacementError struct {
	Current     *projection.GeographicBounds `json:"current_bounds,omitempty"`
	Suggested   *projection.GeographicBounds `json:"suggested_bounds,omitempty"`
	OutOfCanvas int                          `json:"out_of_canvas"`
	Total       int                          `json:"total"`
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("%d of %d zones fall outside the canvas; widen the map bounds or use the suggested bounds", e.OutOfCanvas, e.Total)
}

// ProgressFunc is invoked before each geocoding request with the 1-based
// position among the addresses being processed, the total count, and the
// address itself. It runs synchronously inside the geocoding loop.
type ProgressFunc func(current, total int, address string)

// GeocodeStats tallies the outcome of a geocoding batch.
type GeocodeStats struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Failed    int `json:"failed"`
}

// Importer runs the bulk location-import pipeline. The geocoding interval
// is the fixed wait between sequential requests; it protects the provider's
// usage quota and must not be worked around by parallelizing the loop.
type Importer struct {
	geocoder geocode.Geocoder
	interval time.Duration
}

// NewImporter creates an importer around a geocoder and a fixed
// inter-request interval.
func NewImporter(geocoder geocode.Geocoder, interval time.Duration) *Importer {
	return &Importer{
		geocoder: geocoder,
		interval: interval,
	}
}

// PrepareZonesForCanvas turns normalized records into zone candidates with
// initial pixel positions. It is pure and synchronous: no network calls.
//
//   - records with explicit coordinates are projected through the bounds,
//     or through the bounds-free equirectangular fallback when bounds are nil;
//   - records with only an address get a provisional grid position and are
//     flagged for geocoding;
//   - records with neither get a grid position and nothing to geocode.
//
// Degenerate bounds are an input error for the whole call.
func PrepareZonesForCanvas(records []NormalizedRecord, bounds *projection.GeographicBounds, extent projection.CanvasExtent) ([]*ZoneCandidate, error) {
	if err := extent.Validate(); err != nil {
		return nil, err
	}
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			return nil, err
		}
	}

	candidates := make([]*ZoneCandidate, 0, len(records))
	total := len(records)

	for i, record := range records {
		candidate := &ZoneCandidate{
			ID: newCandidateID(),
			Content: ZoneContent{
				Title:       record.Name,
				Description: record.Description,
				Category:    record.Category,
				Images:      []string{},
				Videos:      []string{},
				Links:       []string{},
			},
			SourceAddress: record.Address,
		}

		switch {
		case record.HasCoordinates():
			point := projection.GeoPoint{Lat: *record.Latitude, Lng: *record.Longitude}
			var position projection.CanvasPoint
			if bounds != nil {
				projected, err := projection.GeoToCanvas(point.Lat, point.Lng, *bounds, extent)
				if err != nil {
					return nil, err
				}
				position = projected
			} else {
				position = projection.EquirectangularFallback(point.Lat, point.Lng, extent)
			}
			candidate.Shape = NewShape(record.ShapeType, position)
			candidate.ResolvedCoordinates = &point

		case record.Address != "":
			// Provisional placement until geocoding resolves the address
			candidate.Shape = NewShape(record.ShapeType, projection.GridFallback(i, total))
			candidate.NeedsGeocoding = true

		default:
			// No spatial data at all: the grid position is all we have
			candidate.Shape = NewShape(record.ShapeType, projection.GridFallback(i, total))
		}

		candidates = append(candidates, candidate)
	}

	return candidates, nil
}

// BatchGeocodeZones sequentially geocodes every candidate still flagged
// NeedsGeocoding, waiting the configured interval between requests after
// the first. Individual failures never abort the batch: the candidate keeps
// its provisional position and flag, and the failure is tallied. The
// returned slice is always the input slice, full length, with resolved and
// still-pending candidates mixed.
//
// When bounds is nil the whole-globe placeholder is used, which is only
// meaningful during the bounds bootstrap (the canvas positions it produces
// are discarded there). Cancelling the context stops the batch between
// requests; the partial result is returned alongside the context error and
// must not be persisted.
func (imp *Importer) BatchGeocodeZones(ctx context.Context, candidates []*ZoneCandidate, bounds *projection.GeographicBounds, extent projection.CanvasExtent, onProgress ProgressFunc) ([]*ZoneCandidate, GeocodeStats, error) {
	stats := GeocodeStats{}

	projBounds := projection.WorldBounds
	if bounds != nil {
		projBounds = *bounds
	}
	if err := projBounds.Validate(); err != nil {
		return candidates, stats, err
	}
	if err := extent.Validate(); err != nil {
		return candidates, stats, err
	}

	total := 0
	for _, c := range candidates {
		if c.NeedsGeocoding {
			total++
		}
	}
	if total == 0 {
		return candidates, stats, nil
	}

	current := 0
	for _, candidate := range candidates {
		if !candidate.NeedsGeocoding {
			continue
		}
		current++

		if current > 1 {
			if err := imp.waitInterval(ctx); err != nil {
				return candidates, stats, err
			}
		}

		notifyProgress(onProgress, current, total, candidate.SourceAddress)

		stats.Attempted++
		point, err := imp.geocoder.Geocode(ctx, candidate.SourceAddress)
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation, not a per-address miss
				stats.Failed++
				return candidates, stats, ctx.Err()
			}
			if errors.Is(err, geocode.ErrNotFound) {
				log.Printf("No geocoding match for %q; leaving zone at its provisional position", candidate.SourceAddress)
			} else {
				log.Printf("Geocoding failed for %q: %v", candidate.SourceAddress, err)
			}
			stats.Failed++
			continue
		}

		position, err := projection.GeoToCanvas(point.Lat, point.Lng, projBounds, extent)
		if err != nil {
			// Bounds were validated above; treat a projection error like a
			// resolution failure for this candidate
			log.Printf("Projection failed for %q: %v", candidate.SourceAddress, err)
			stats.Failed++
			continue
		}

		candidate.Shape = candidate.Shape.MoveTo(position)
		candidate.ResolvedCoordinates = point
		candidate.NeedsGeocoding = false
		stats.Resolved++
	}

	return candidates, stats, nil
}

// waitInterval blocks for the fixed inter-request interval, returning early
// if the context is cancelled.
func (imp *Importer) waitInterval(ctx context.Context) error {
	if imp.interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(imp.interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// notifyProgress invokes the progress callback, shielding the batch from a
// panicking observer: a throw here must not abort the remaining batch.
func notifyProgress(onProgress ProgressFunc, current, total int, address string) {
	if onProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Progress callback panicked: %v", r)
		}
	}()
	onProgress(current, total, address)
}

// ImportResult is the outcome of a full pipeline run.
type ImportResult struct {
	Candidates []*ZoneCandidate
	// Bounds is the final geographic bounds used for placement; nil when
	// the import carried no spatial data at all
	Bounds *projection.GeographicBounds
	// BoundsDerived is true when Bounds was computed from the import
	// itself rather than supplied by the caller
	BoundsDerived bool
	Stats         GeocodeStats
}

// RunImport executes the full pipeline over normalized records:
// preparation, geocoding, the bounds bootstrap when the caller supplied no
// bounds, and the final placement gate. On gate rejection it returns a
// *PlacementError and nothing may be persisted.
func (imp *Importer) RunImport(ctx context.Context, records []NormalizedRecord, bounds *projection.GeographicBounds, extent projection.CanvasExtent, onProgress ProgressFunc) (*ImportResult, error) {
	candidates, err := PrepareZonesForCanvas(records, bounds, extent)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Candidates: candidates, Bounds: bounds}

	needsGeocoding := false
	for _, c := range candidates {
		if c.NeedsGeocoding {
			needsGeocoding = true
			break
		}
	}

	if needsGeocoding {
		// With no caller-supplied bounds this is the bootstrap pass: the
		// whole-globe placeholder is used purely to populate resolved
		// coordinates, and the canvas positions it produces are discarded
		// by the re-projection below.
		_, stats, err := imp.BatchGeocodeZones(ctx, candidates, bounds, extent, onProgress)
		result.Stats = stats
		if err != nil {
			return result, err
		}
	}

	if bounds == nil {
		resolved := resolvedPoints(candidates)
		if len(resolved) == 0 {
			if needsGeocoding {
				return result, ErrNoAddressesResolved
			}
			// Grid-only import: no geographic frame exists or is needed
		} else {
			derived, err := projection.BoundsFromPoints(resolved)
			if err != nil {
				return result, err
			}
			result.Bounds = &derived
			result.BoundsDerived = true
			if err := reprojectCandidates(candidates, derived, extent); err != nil {
				return result, err
			}
		}
	}

	if err := validatePlacement(candidates, result.Bounds, extent); err != nil {
		return result, err
	}

	return result, nil
}

// resolvedPoints collects the geographic coordinates of every candidate
// that has them, whether from the source file or from geocoding.
func resolvedPoints(candidates []*ZoneCandidate) []projection.GeoPoint {
	points := make([]projection.GeoPoint, 0, len(candidates))
	for _, c := range candidates {
		if c.ResolvedCoordinates != nil {
			points = append(points, *c.ResolvedCoordinates)
		}
	}
	return points
}

// reprojectCandidates recomputes canvas positions for every candidate with
// resolved coordinates, replacing whatever positions an earlier pass
// produced. Candidates without coordinates keep their grid placeholders.
func reprojectCandidates(candidates []*ZoneCandidate, bounds projection.GeographicBounds, extent projection.CanvasExtent) error {
	for _, c := range candidates {
		if c.ResolvedCoordinates == nil {
			continue
		}
		position, err := projection.GeoToCanvas(c.ResolvedCoordinates.Lat, c.ResolvedCoordinates.Lng, bounds, extent)
		if err != nil {
			return err
		}
		c.Shape = c.Shape.MoveTo(position)
	}
	return nil
}

// validatePlacement is the import gate: every candidate's final pixel
// position must lie within the canvas, edges inclusive. A violation rejects
// the import with a diagnostic carrying suggested bounds recomputed from
// all resolved coordinates; the import is never silently clipped.
func validatePlacement(candidates []*ZoneCandidate, bounds *projection.GeographicBounds, extent projection.CanvasExtent) error {
	if bounds != nil {
		if err := reprojectCandidates(candidates, *bounds, extent); err != nil {
			return err
		}
	}

	outOfCanvas := 0
	for _, c := range candidates {
		if !extent.Contains(c.Shape.Center()) {
			outOfCanvas++
		}
	}
	if outOfCanvas == 0 {
		return nil
	}

	placement := &PlacementError{
		Current:     bounds,
		OutOfCanvas: outOfCanvas,
		Total:       len(candidates),
	}
	if resolved := resolvedPoints(candidates); len(resolved) > 0 {
		if suggested, err := projection.BoundsFromPoints(resolved); err == nil {
			placement.Suggested = &suggested
		}
	}
	return placement
}
