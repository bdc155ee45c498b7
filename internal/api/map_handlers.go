package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mapforge/server/internal/database"
	"github.com/mapforge/server/internal/importer"
	"github.com/mapforge/server/internal/projection"
)

// MapHandlers manages HTTP handlers for stored maps and their zones.
type MapHandlers struct {
	storage  *database.MapStorage
	validate *validator.Validate
}

// NewMapHandlers creates a MapHandlers instance.
func NewMapHandlers(storage *database.MapStorage) *MapHandlers {
	return &MapHandlers{
		storage:  storage,
		validate: validator.New(),
	}
}

type createMapRequest struct {
	Name   string         `json:"name" validate:"required,max=200"`
	Canvas canvasPayload  `json:"canvas"`
	Bounds *boundsPayload `json:"bounds,omitempty"`
}

// CreateMap handles POST /api/maps
func (h *MapHandlers) CreateMap(w http.ResponseWriter, r *http.Request) {
	var req createMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	bounds := req.Bounds.bounds()
	if bounds != nil {
		if err := bounds.Validate(); err != nil {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	record, err := h.storage.CreateMap(req.Name, req.Canvas.extent(), bounds)
	if err != nil {
		log.Printf("Failed to create map: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to create map")
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

type mapResponse struct {
	Map   *database.MapRecord `json:"map"`
	Zones []database.Zone     `json:"zones"`
}

// GetMap handles GET /api/maps/{map_id}
func (h *MapHandlers) GetMap(w http.ResponseWriter, r *http.Request) {
	mapID, ok := mapIDFromPath(w, r)
	if !ok {
		return
	}

	record, err := h.storage.GetMapByID(mapID)
	if err != nil {
		log.Printf("Failed to load map %d: %v", mapID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load map")
		return
	}
	if record == nil {
		respondWithError(w, http.StatusNotFound, "Map not found")
		return
	}

	zones, err := h.storage.ListZones(mapID)
	if err != nil {
		log.Printf("Failed to list zones for map %d: %v", mapID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load zones")
		return
	}

	writeJSON(w, http.StatusOK, mapResponse{Map: record, Zones: zones})
}

type replaceZonesRequest struct {
	Zones []candidatePayload `json:"zones" validate:"required,min=1"`
}

// ReplaceZones handles POST /api/maps/{map_id}/zones. The supplied zones
// replace the map's existing ones as a single transaction.
func (h *MapHandlers) ReplaceZones(w http.ResponseWriter, r *http.Request) {
	mapID, ok := mapIDFromPath(w, r)
	if !ok {
		return
	}

	var req replaceZonesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	record, err := h.storage.GetMapByID(mapID)
	if err != nil {
		log.Printf("Failed to load map %d: %v", mapID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load map")
		return
	}
	if record == nil {
		respondWithError(w, http.StatusNotFound, "Map not found")
		return
	}

	candidates := make([]*importer.ZoneCandidate, len(req.Zones))
	for i, payload := range req.Zones {
		candidates[i] = candidateFromPayload(payload)
	}

	zones, err := h.storage.ReplaceZones(mapID, candidates)
	if err != nil {
		if errors.Is(err, database.ErrPendingCandidates) {
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.Printf("Failed to replace zones for map %d: %v", mapID, err)
		respondWithError(w, http.StatusInternalServerError, "Failed to store zones")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

// candidateFromPayload rebuilds a zone candidate from its wire form,
// applying shape-type defaults for missing dimensions.
func candidateFromPayload(p candidatePayload) *importer.ZoneCandidate {
	center := projection.CanvasPoint{X: p.X, Y: p.Y}

	var shape importer.Shape
	shapeType, _ := importer.ParseShapeType(p.ShapeType)
	switch shapeType {
	case importer.ShapeRectangle:
		rect := importer.RectangleShape{
			Position: center,
			Width:    importer.DefaultRectangleWidth,
			Height:   importer.DefaultRectangleHeight,
		}
		if p.Width != nil {
			rect.Width = *p.Width
		}
		if p.Height != nil {
			rect.Height = *p.Height
		}
		shape = rect
	case importer.ShapeCircle:
		circle := importer.CircleShape{
			Position: center,
			Radius:   importer.DefaultCircleRadius,
		}
		if p.Radius != nil {
			circle.Radius = *p.Radius
		}
		shape = circle
	default:
		shape = importer.PointShape{Position: center}
	}

	candidate := importer.NewZoneCandidate(shape, importer.ZoneContent{
		Title:       p.Title,
		Description: p.Description,
		Category:    p.Category,
	})
	if p.ID != "" {
		candidate.ID = p.ID
	}
	candidate.SourceAddress = p.SourceAddress
	candidate.NeedsGeocoding = p.NeedsGeocoding
	candidate.ResolvedCoordinates = p.Coordinates
	return candidate
}

// mapIDFromPath extracts the numeric map id from /api/maps/{map_id}[/zones].
func mapIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/maps"), "/")
	idPart := strings.TrimSuffix(path, "/zones")
	idPart = strings.Trim(idPart, "/")

	mapID, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || mapID <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid map ID")
		return 0, false
	}
	return mapID, true
}
