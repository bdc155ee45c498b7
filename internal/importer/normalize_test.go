package importer

import (
	"testing"
)

var testMapping = ColumnMapping{
	NameColumn:        "Name",
	AddressColumn:     "Address",
	DescriptionColumn: "Notes",
	CategoryColumn:    "Category",
	LatitudeColumn:    "Lat",
	LongitudeColumn:   "Lng",
	TypeColumn:        "Shape",
}

func TestNormalizeRows(t *testing.T) {
	rows := parseRows(t, "Name,Address,Notes,Category,Lat,Lng,Shape\n"+
		"Cafe,1 Main St,corner spot,food,40.71,-74.00,point\n"+
		"Gallery,2 Side St,modern art,culture,,,rectangle")

	records, dropped := NormalizeRows(rows, testMapping)
	if dropped != 0 {
		t.Errorf("Dropped = %d, expected 0", dropped)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first.Name != "Cafe" || first.Address != "1 Main St" || first.Description != "corner spot" || first.Category != "food" {
		t.Errorf("Unexpected first record: %+v", first)
	}
	if !first.HasCoordinates() {
		t.Fatal("First record should have coordinates")
	}
	if *first.Latitude != 40.71 || *first.Longitude != -74.00 {
		t.Errorf("Coordinates = (%f, %f), expected (40.71, -74.00)", *first.Latitude, *first.Longitude)
	}
	if first.ShapeType != ShapePoint {
		t.Errorf("ShapeType = %q, expected point", first.ShapeType)
	}

	second := records[1]
	if second.HasCoordinates() {
		t.Error("Second record should not have coordinates")
	}
	if second.ShapeType != ShapeRectangle {
		t.Errorf("ShapeType = %q, expected rectangle", second.ShapeType)
	}
}

func TestNormalizeRowsDropsBlankNames(t *testing.T) {
	rows := parseRows(t, "Name,Address\nCafe,1 Main St\n,2 Side St\n   ,3 Back St\nBar,4 Rear St")

	records, dropped := NormalizeRows(rows, testMapping)

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if dropped != 2 {
		t.Errorf("Dropped = %d, expected 2", dropped)
	}
	// Total normalized count equals input rows minus blank-name rows
	if len(records)+dropped != 4 {
		t.Errorf("records + dropped = %d, expected 4", len(records)+dropped)
	}
}

func TestNormalizeRowsHalfCoordinatePairDropped(t *testing.T) {
	rows := parseRows(t, "Name,Lat,Lng\nA,40.71,not-a-number\nB,oops,-74.00\nC,40.71,-74.00")

	records, _ := NormalizeRows(rows, testMapping)
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	if records[0].Latitude != nil || records[0].Longitude != nil {
		t.Error("Record A kept a half-resolved coordinate pair")
	}
	if records[1].Latitude != nil || records[1].Longitude != nil {
		t.Error("Record B kept a half-resolved coordinate pair")
	}
	if !records[2].HasCoordinates() {
		t.Error("Record C lost its valid coordinate pair")
	}
}

func TestNormalizeRowsShapeTypes(t *testing.T) {
	tests := []struct {
		value    string
		expected ShapeType
	}{
		{"point", ShapePoint},
		{"rectangle", ShapeRectangle},
		{"circle", ShapeCircle},
		{"CIRCLE", ShapeCircle},
		{" Rectangle ", ShapeRectangle},
		{"polygon", ""},
		{"blob", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run("shape "+tt.value, func(t *testing.T) {
			rows := parseRows(t, "Name,Shape\nZone,\""+tt.value+"\"")
			records, _ := NormalizeRows(rows, testMapping)
			if len(records) != 1 {
				t.Fatalf("Expected 1 record, got %d", len(records))
			}
			if records[0].ShapeType != tt.expected {
				t.Errorf("ShapeType = %q, expected %q", records[0].ShapeType, tt.expected)
			}
		})
	}
}

func TestNormalizeRowsUnmappedRolesLeftEmpty(t *testing.T) {
	rows := parseRows(t, "Name,Address\nCafe,1 Main St")

	records, _ := NormalizeRows(rows, ColumnMapping{NameColumn: "Name"})
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Address != "" {
		t.Errorf("Address = %q, expected empty for unmapped role", records[0].Address)
	}
}
