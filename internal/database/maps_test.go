package database

import (
	"errors"
	"testing"

	"github.com/mapforge/server/internal/importer"
	"github.com/mapforge/server/internal/projection"
	"github.com/mapforge/server/internal/testutil"
)

func resolvedCandidate(id, title string, x, y float64) *importer.ZoneCandidate {
	return &importer.ZoneCandidate{
		ID:    id,
		Shape: importer.PointShape{Position: projection.CanvasPoint{X: x, Y: y}},
		Content: importer.ZoneContent{
			Title:  title,
			Images: []string{},
			Videos: []string{},
			Links:  []string{},
		},
		ResolvedCoordinates: &projection.GeoPoint{Lat: 40.5, Lng: -73.5},
	}
}

func TestValidateCandidatesForPersistence(t *testing.T) {
	resolved := resolvedCandidate("zone-a", "A", 10, 20)
	pending := resolvedCandidate("zone-b", "B", 30, 40)
	pending.NeedsGeocoding = true

	if err := ValidateCandidatesForPersistence([]*importer.ZoneCandidate{resolved}); err != nil {
		t.Errorf("Fully resolved batch rejected: %v", err)
	}

	err := ValidateCandidatesForPersistence([]*importer.ZoneCandidate{resolved, pending})
	if !errors.Is(err, ErrPendingCandidates) {
		t.Errorf("Batch with pending geocoding returned %v, expected ErrPendingCandidates", err)
	}
}

func TestZoneFromCandidateShapes(t *testing.T) {
	point := resolvedCandidate("zone-p", "P", 10, 20)
	zone := zoneFromCandidate(1, point)
	if zone.ShapeType != "point" || zone.Width != nil || zone.Radius != nil {
		t.Errorf("Point zone = %+v, expected bare point row", zone)
	}
	if zone.CenterX != 10 || zone.CenterY != 20 {
		t.Errorf("Point center = (%f, %f), expected (10, 20)", zone.CenterX, zone.CenterY)
	}

	rect := resolvedCandidate("zone-r", "R", 30, 40)
	rect.Shape = importer.RectangleShape{Position: projection.CanvasPoint{X: 30, Y: 40}, Width: 80, Height: 50}
	zone = zoneFromCandidate(1, rect)
	if zone.ShapeType != "rectangle" || zone.Width == nil || zone.Height == nil {
		t.Fatalf("Rectangle zone = %+v, expected width/height set", zone)
	}
	if *zone.Width != 80 || *zone.Height != 50 {
		t.Errorf("Rectangle dimensions = %fx%f, expected 80x50", *zone.Width, *zone.Height)
	}

	circle := resolvedCandidate("zone-c", "C", 50, 60)
	circle.Shape = importer.CircleShape{Position: projection.CanvasPoint{X: 50, Y: 60}, Radius: 25}
	zone = zoneFromCandidate(1, circle)
	if zone.ShapeType != "circle" || zone.Radius == nil {
		t.Fatalf("Circle zone = %+v, expected radius set", zone)
	}
	if *zone.Radius != 25 {
		t.Errorf("Circle radius = %f, expected 25", *zone.Radius)
	}
}

func TestMapStorageIntegration(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()
	defer testutil.CleanupTestDB(t, db)

	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	storage := NewMapStorage(db)
	extent := projection.CanvasExtent{Width: 800, Height: 600}
	bounds := projection.GeographicBounds{MinLat: 40, MaxLat: 41, MinLng: -74, MaxLng: -73}

	created, err := storage.CreateMap("Office Campus", extent, &bounds)
	if err != nil {
		t.Fatalf("CreateMap() failed: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("CreateMap() returned zero id")
	}

	fetched, err := storage.GetMapByID(created.ID)
	if err != nil {
		t.Fatalf("GetMapByID() failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("GetMapByID() returned nil for existing map")
	}
	if fetched.Name != "Office Campus" || fetched.Extent != extent {
		t.Errorf("Fetched map = %+v, expected created values", fetched)
	}
	if fetched.Bounds == nil || *fetched.Bounds != bounds {
		t.Errorf("Fetched bounds = %+v, expected %+v", fetched.Bounds, bounds)
	}

	missing, err := storage.GetMapByID(created.ID + 9999)
	if err != nil {
		t.Fatalf("GetMapByID() for missing map failed: %v", err)
	}
	if missing != nil {
		t.Error("GetMapByID() returned a record for a missing map")
	}

	candidates := []*importer.ZoneCandidate{
		resolvedCandidate("zone-1", "Lobby", 100, 200),
		resolvedCandidate("zone-2", "Cafeteria", 300, 400),
	}
	zones, err := storage.ReplaceZones(created.ID, candidates)
	if err != nil {
		t.Fatalf("ReplaceZones() failed: %v", err)
	}
	if len(zones) != 2 {
		t.Fatalf("ReplaceZones() returned %d zones, expected 2", len(zones))
	}

	// Writing again replaces, never appends
	zones, err = storage.ReplaceZones(created.ID, candidates[:1])
	if err != nil {
		t.Fatalf("Second ReplaceZones() failed: %v", err)
	}
	if len(zones) != 1 {
		t.Fatalf("Second ReplaceZones() returned %d zones, expected 1", len(zones))
	}

	listed, err := storage.ListZones(created.ID)
	if err != nil {
		t.Fatalf("ListZones() failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("ListZones() returned %d zones, expected 1", len(listed))
	}
	if listed[0].Title != "Lobby" || listed[0].Token != "zone-1" {
		t.Errorf("Listed zone = %+v, expected the lobby zone", listed[0])
	}

	// Pending candidates never reach the database
	pending := resolvedCandidate("zone-3", "Unknown", 1, 1)
	pending.NeedsGeocoding = true
	if _, err := storage.ReplaceZones(created.ID, []*importer.ZoneCandidate{pending}); err == nil {
		t.Error("ReplaceZones() accepted a pending candidate")
	}

	newBounds := projection.GeographicBounds{MinLat: 39, MaxLat: 42, MinLng: -75, MaxLng: -72}
	if err := storage.UpdateMapBounds(created.ID, newBounds); err != nil {
		t.Fatalf("UpdateMapBounds() failed: %v", err)
	}
	fetched, err = storage.GetMapByID(created.ID)
	if err != nil {
		t.Fatalf("GetMapByID() after bounds update failed: %v", err)
	}
	if fetched.Bounds == nil || *fetched.Bounds != newBounds {
		t.Errorf("Updated bounds = %+v, expected %+v", fetched.Bounds, newBounds)
	}
}
