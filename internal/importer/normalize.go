package importer

import (
	"strconv"
	"strings"

	"github.com/mapforge/server/internal/tabular"
)

// ShapeType identifies the coordinate shape of an imported zone.
type ShapeType string

const (
	ShapePoint     ShapeType = "point"
	ShapeRectangle ShapeType = "rectangle"
	ShapeCircle    ShapeType = "circle"
)

// ParseShapeType accepts only the three known shape types,
// case-insensitively. Anything else is rejected and defaults apply
// downstream.
func ParseShapeType(value string) (ShapeType, bool) {
	switch ShapeType(strings.ToLower(strings.TrimSpace(value))) {
	case ShapePoint:
		return ShapePoint, true
	case ShapeRectangle:
		return ShapeRectangle, true
	case ShapeCircle:
		return ShapeCircle, true
	default:
		return "", false
	}
}

// NormalizedRecord is a semantic zone record produced from one imported
// row. It is immutable once produced; fields missing from the source stay
// at their zero values, with coordinates as a pointer pair that is either
// fully present or fully absent.
type NormalizedRecord struct {
	Name        string
	Address     string
	Description string
	Category    string
	Latitude    *float64
	Longitude   *float64
	ShapeType   ShapeType // empty when the source did not specify one
}

// HasCoordinates reports whether the record carries an explicit
// latitude/longitude pair.
func (r NormalizedRecord) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// NormalizeRows applies a column mapping to parsed rows and produces
// normalized records. Rows whose mapped name cell is blank are silently
// dropped; the returned count of dropped rows lets callers report the
// difference. A latitude/longitude pair is attached only when both values
// parse; a half-resolved pair is never kept.
func NormalizeRows(rows []tabular.Row, mapping ColumnMapping) ([]NormalizedRecord, int) {
	records := make([]NormalizedRecord, 0, len(rows))
	dropped := 0

	for _, row := range rows {
		name := strings.TrimSpace(cell(row, mapping.NameColumn))
		if name == "" {
			dropped++
			continue
		}

		record := NormalizedRecord{
			Name:        name,
			Address:     strings.TrimSpace(cell(row, mapping.AddressColumn)),
			Description: strings.TrimSpace(cell(row, mapping.DescriptionColumn)),
			Category:    strings.TrimSpace(cell(row, mapping.CategoryColumn)),
		}

		if mapping.LatitudeColumn != "" && mapping.LongitudeColumn != "" {
			lat, latErr := strconv.ParseFloat(strings.TrimSpace(row.Get(mapping.LatitudeColumn)), 64)
			lng, lngErr := strconv.ParseFloat(strings.TrimSpace(row.Get(mapping.LongitudeColumn)), 64)
			if latErr == nil && lngErr == nil {
				record.Latitude = &lat
				record.Longitude = &lng
			}
		}

		if mapping.TypeColumn != "" {
			if shape, ok := ParseShapeType(row.Get(mapping.TypeColumn)); ok {
				record.ShapeType = shape
			}
		}

		records = append(records, record)
	}

	return records, dropped
}

func cell(row tabular.Row, header string) string {
	if header == "" {
		return ""
	}
	return row.Get(header)
}
