package importer

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/mapforge/server/internal/projection"
)

const (
	// DefaultRectangleWidth is the pixel width given to rectangle zones
	// when the source file only supplies a center point
	DefaultRectangleWidth = 80.0
	// DefaultRectangleHeight is the pixel height given to rectangle zones
	DefaultRectangleHeight = 50.0
	// DefaultCircleRadius is the pixel radius given to circle zones
	DefaultCircleRadius = 25.0
)

// Shape is the pixel-space footprint of a zone candidate. Each shape type
// is its own variant carrying exactly the dimensions it needs, so a circle
// without a radius cannot exist.
type Shape interface {
	Type() ShapeType
	Center() projection.CanvasPoint
	// MoveTo returns a copy of the shape recentered at the given point,
	// preserving its dimensions.
	MoveTo(p projection.CanvasPoint) Shape
}

// PointShape is a single marker position.
type PointShape struct {
	Position projection.CanvasPoint `json:"position"`
}

func (s PointShape) Type() ShapeType                { return ShapePoint }
func (s PointShape) Center() projection.CanvasPoint { return s.Position }
func (s PointShape) MoveTo(p projection.CanvasPoint) Shape {
	return PointShape{Position: p}
}

// RectangleShape is an axis-aligned rectangle identified by its center.
type RectangleShape struct {
	Position projection.CanvasPoint `json:"position"`
	Width    float64                `json:"width"`
	Height   float64                `json:"height"`
}

func (s RectangleShape) Type() ShapeType                { return ShapeRectangle }
func (s RectangleShape) Center() projection.CanvasPoint { return s.Position }
func (s RectangleShape) MoveTo(p projection.CanvasPoint) Shape {
	return RectangleShape{Position: p, Width: s.Width, Height: s.Height}
}

// CircleShape is a circle identified by its center.
type CircleShape struct {
	Position projection.CanvasPoint `json:"position"`
	Radius   float64                `json:"radius"`
}

func (s CircleShape) Type() ShapeType                { return ShapeCircle }
func (s CircleShape) Center() projection.CanvasPoint { return s.Position }
func (s CircleShape) MoveTo(p projection.CanvasPoint) Shape {
	return CircleShape{Position: p, Radius: s.Radius}
}

// NewShape builds the shape variant for the given type centered at the
// given point, applying default dimensions. An unknown or empty type
// defaults to a point.
func NewShape(shapeType ShapeType, center projection.CanvasPoint) Shape {
	switch shapeType {
	case ShapeRectangle:
		return RectangleShape{Position: center, Width: DefaultRectangleWidth, Height: DefaultRectangleHeight}
	case ShapeCircle:
		return CircleShape{Position: center, Radius: DefaultCircleRadius}
	default:
		return PointShape{Position: center}
	}
}

// ZoneContent is the authorable payload attached to a zone.
type ZoneContent struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Images      []string `json:"images"`
	Videos      []string `json:"videos"`
	Links       []string `json:"links"`
}

// ZoneCandidate is a normalized, positioned, not-yet-persisted record
// representing one importable map marker. While NeedsGeocoding is true the
// shape position is a provisional grid placeholder and must not be treated
// as final.
type ZoneCandidate struct {
	ID                  string                `json:"id"`
	Shape               Shape                 `json:"shape"`
	Content             ZoneContent           `json:"content"`
	SourceAddress       string                `json:"source_address,omitempty"`
	NeedsGeocoding      bool                  `json:"needs_geocoding"`
	ResolvedCoordinates *projection.GeoPoint  `json:"resolved_coordinates,omitempty"`
}

// NewZoneCandidate creates a candidate with a fresh token around a
// positioned shape.
func NewZoneCandidate(shape Shape, content ZoneContent) *ZoneCandidate {
	return &ZoneCandidate{
		ID:      newCandidateID(),
		Shape:   shape,
		Content: content,
	}
}

// newCandidateID returns an opaque unique zone token.
func newCandidateID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read failing is effectively impossible; fall back to a
		// time-derived token rather than aborting an import over it
		return fmt.Sprintf("zone-%d", time.Now().UnixNano())
	}
	return "zone-" + hex.EncodeToString(buf)
}
