package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mapforge/server/internal/config"
	"github.com/mapforge/server/internal/database"
	"github.com/mapforge/server/internal/importer"
	"github.com/mapforge/server/internal/projection"
	"github.com/mapforge/server/internal/tabular"
)

// ImportHandlers manages HTTP handlers for the bulk location-import
// pipeline: preview, offline preparation, and the full geocoding run.
type ImportHandlers struct {
	importer *importer.Importer
	hub      *ProgressHub
	storage  *database.MapStorage
	validate *validator.Validate
	maxRows  int
	maxBody  int64
}

// NewImportHandlers creates an ImportHandlers instance. The storage may be
// nil when the server runs without a database; imports then return results
// without persisting.
func NewImportHandlers(imp *importer.Importer, hub *ProgressHub, storage *database.MapStorage, cfg *config.Config) *ImportHandlers {
	return &ImportHandlers{
		importer: imp,
		hub:      hub,
		storage:  storage,
		validate: validator.New(),
		maxRows:  cfg.Import.MaxRows,
		maxBody:  cfg.Import.MaxBodyBytes,
	}
}

type canvasPayload struct {
	Width  float64 `json:"width" validate:"required,gt=0"`
	Height float64 `json:"height" validate:"required,gt=0"`
}

func (p canvasPayload) extent() projection.CanvasExtent {
	return projection.CanvasExtent{Width: p.Width, Height: p.Height}
}

type boundsPayload struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

func (p *boundsPayload) bounds() *projection.GeographicBounds {
	if p == nil {
		return nil
	}
	return &projection.GeographicBounds{
		MinLat: p.MinLat,
		MaxLat: p.MaxLat,
		MinLng: p.MinLng,
		MaxLng: p.MaxLng,
	}
}

// candidatePayload is the wire form of a zone candidate. The shape is
// flattened: width/height apply to rectangles, radius to circles.
type candidatePayload struct {
	ID             string               `json:"id"`
	ShapeType      string               `json:"shape_type"`
	X              float64              `json:"x"`
	Y              float64              `json:"y"`
	Width          *float64             `json:"width,omitempty"`
	Height         *float64             `json:"height,omitempty"`
	Radius         *float64             `json:"radius,omitempty"`
	Title          string               `json:"title"`
	Description    string               `json:"description,omitempty"`
	Category       string               `json:"category,omitempty"`
	SourceAddress  string               `json:"source_address,omitempty"`
	NeedsGeocoding bool                 `json:"needs_geocoding"`
	Coordinates    *projection.GeoPoint `json:"coordinates,omitempty"`
}

func toCandidatePayload(c *importer.ZoneCandidate) candidatePayload {
	center := c.Shape.Center()
	payload := candidatePayload{
		ID:             c.ID,
		ShapeType:      string(c.Shape.Type()),
		X:              center.X,
		Y:              center.Y,
		Title:          c.Content.Title,
		Description:    c.Content.Description,
		Category:       c.Content.Category,
		SourceAddress:  c.SourceAddress,
		NeedsGeocoding: c.NeedsGeocoding,
		Coordinates:    c.ResolvedCoordinates,
	}
	switch shape := c.Shape.(type) {
	case importer.RectangleShape:
		payload.Width = &shape.Width
		payload.Height = &shape.Height
	case importer.CircleShape:
		payload.Radius = &shape.Radius
	}
	return payload
}

func toCandidatePayloads(candidates []*importer.ZoneCandidate) []candidatePayload {
	payloads := make([]candidatePayload, len(candidates))
	for i, c := range candidates {
		payloads[i] = toCandidatePayload(c)
	}
	return payloads
}

// readImportText extracts the CSV text from the request. Text uploads
// (text/csv, text/plain) carry the file verbatim in the body; JSON bodies
// carry it in a "text" field.
func (h *ImportHandlers) readImportText(r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxBody)

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/") {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read request body: %w", err)
		}
		return string(raw), nil
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fmt.Errorf("failed to decode request body: %w", err)
	}
	return req.Text, nil
}

func (h *ImportHandlers) parseRows(text string) ([]tabular.Row, error) {
	rows, err := tabular.Parse(text)
	if err != nil {
		return nil, err
	}
	if len(rows) > h.maxRows {
		return nil, fmt.Errorf("import exceeds the %d row limit", h.maxRows)
	}
	return rows, nil
}

type previewResponse struct {
	Headers          []string               `json:"headers"`
	RowCount         int                    `json:"row_count"`
	SampleRows       [][]string             `json:"sample_rows"`
	SuggestedMapping importer.ColumnMapping `json:"suggested_mapping"`
}

const previewSampleSize = 5

// PreviewImport handles POST /api/imports/preview
func (h *ImportHandlers) PreviewImport(w http.ResponseWriter, r *http.Request) {
	text, err := h.readImportText(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.parseRows(text)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if len(rows) == 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "No data found in the provided text")
		return
	}

	sample := make([][]string, 0, previewSampleSize)
	for _, row := range rows[:min(len(rows), previewSampleSize)] {
		sample = append(sample, row.Values())
	}

	writeJSON(w, http.StatusOK, previewResponse{
		Headers:          rows[0].Headers(),
		RowCount:         len(rows),
		SampleRows:       sample,
		SuggestedMapping: importer.SuggestColumnMapping(rows),
	})
}

type prepareRequest struct {
	Text    string                  `json:"text" validate:"required"`
	Mapping *importer.ColumnMapping `json:"mapping,omitempty"`
	Canvas  canvasPayload           `json:"canvas"`
	Bounds  *boundsPayload          `json:"bounds,omitempty"`
}

type prepareResponse struct {
	Candidates     []candidatePayload `json:"candidates"`
	DroppedRows    int                `json:"dropped_rows"`
	NeedsGeocoding int                `json:"needs_geocoding"`
}

// PrepareImport handles POST /api/imports/prepare. It runs the offline half
// of the pipeline: classification, normalization and provisional placement.
// No network requests are made.
func (h *ImportHandlers) PrepareImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxBody)

	var req prepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	records, dropped, errStatus, errMessage := h.normalizeRequest(req.Text, req.Mapping)
	if errMessage != "" {
		respondWithError(w, errStatus, errMessage)
		return
	}

	candidates, err := importer.PrepareZonesForCanvas(records, req.Bounds.bounds(), req.Canvas.extent())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending := 0
	for _, c := range candidates {
		if c.NeedsGeocoding {
			pending++
		}
	}

	writeJSON(w, http.StatusOK, prepareResponse{
		Candidates:     toCandidatePayloads(candidates),
		DroppedRows:    dropped,
		NeedsGeocoding: pending,
	})
}

// normalizeRequest parses and normalizes the uploaded text, suggesting a
// column mapping when the caller didn't supply one.
func (h *ImportHandlers) normalizeRequest(text string, mapping *importer.ColumnMapping) ([]importer.NormalizedRecord, int, int, string) {
	rows, err := h.parseRows(text)
	if err != nil {
		return nil, 0, http.StatusUnprocessableEntity, err.Error()
	}
	if len(rows) == 0 {
		return nil, 0, http.StatusUnprocessableEntity, "No data found in the provided text"
	}

	effective := importer.SuggestColumnMapping(rows)
	if mapping != nil {
		effective = *mapping
	}

	records, dropped := importer.NormalizeRows(rows, effective)
	if len(records) == 0 {
		return nil, dropped, http.StatusUnprocessableEntity, "No importable rows; every row is missing a name"
	}
	return records, dropped, 0, ""
}

type runRequest struct {
	Text     string                  `json:"text" validate:"required"`
	Mapping  *importer.ColumnMapping `json:"mapping,omitempty"`
	Canvas   canvasPayload           `json:"canvas"`
	Bounds   *boundsPayload          `json:"bounds,omitempty"`
	ImportID string                  `json:"import_id,omitempty"`
	MapID    *int64                  `json:"map_id,omitempty"`
}

type runResponse struct {
	ImportID      string                       `json:"import_id"`
	Candidates    []candidatePayload           `json:"candidates"`
	Bounds        *projection.GeographicBounds `json:"bounds,omitempty"`
	BoundsDerived bool                         `json:"bounds_derived"`
	Stats         importer.GeocodeStats        `json:"stats"`
	DroppedRows   int                          `json:"dropped_rows"`
	MapID         *int64                       `json:"map_id,omitempty"`
}

type placementRejection struct {
	Error       string                       `json:"error"`
	Current     *projection.GeographicBounds `json:"current_bounds,omitempty"`
	Suggested   *projection.GeographicBounds `json:"suggested_bounds,omitempty"`
	OutOfCanvas int                          `json:"out_of_canvas"`
	Total       int                          `json:"total"`
}

// RunImport handles POST /api/imports/run. It executes the full pipeline
// including geocoding, publishing progress to the websocket feed under the
// request's import id. Clients that want live progress open the feed before
// posting; the server generates an id when none is supplied.
func (h *ImportHandlers) RunImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxBody)

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondWithValidationError(w, err)
		return
	}

	importID := req.ImportID
	if importID == "" {
		importID = newImportID()
	}

	records, dropped, errStatus, errMessage := h.normalizeRequest(req.Text, req.Mapping)
	if errMessage != "" {
		respondWithError(w, errStatus, errMessage)
		return
	}

	onProgress := func(current, total int, address string) {
		h.hub.Publish(ProgressEvent{
			Type:     "progress",
			ImportID: importID,
			Current:  current,
			Total:    total,
			Address:  address,
		})
	}

	result, err := h.importer.RunImport(r.Context(), records, req.Bounds.bounds(), req.Canvas.extent(), onProgress)
	if err != nil {
		h.publishTerminal(importID, "failed", err.Error())

		var placement *importer.PlacementError
		switch {
		case errors.As(err, &placement):
			writeJSON(w, http.StatusConflict, placementRejection{
				Error:       placement.Error(),
				Current:     placement.Current,
				Suggested:   placement.Suggested,
				OutOfCanvas: placement.OutOfCanvas,
				Total:       placement.Total,
			})
		case errors.Is(err, importer.ErrNoAddressesResolved):
			respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Client abandoned the request; nothing useful to write
			log.Printf("Import %s abandoned: %v", importID, err)
		default:
			log.Printf("Import %s failed: %v", importID, err)
			respondWithError(w, http.StatusInternalServerError, "Import failed")
		}
		return
	}

	response := runResponse{
		ImportID:      importID,
		Candidates:    toCandidatePayloads(result.Candidates),
		Bounds:        result.Bounds,
		BoundsDerived: result.BoundsDerived,
		Stats:         result.Stats,
		DroppedRows:   dropped,
	}

	if req.MapID != nil {
		if status, message := h.persistResult(*req.MapID, result); message != "" {
			h.publishTerminal(importID, "failed", message)
			respondWithError(w, status, message)
			return
		}
		response.MapID = req.MapID
	}

	h.publishTerminal(importID, "completed", "")
	writeJSON(w, http.StatusOK, response)
}

// persistResult writes a finished import to its target map. Returns a
// non-empty message on failure.
func (h *ImportHandlers) persistResult(mapID int64, result *importer.ImportResult) (int, string) {
	if h.storage == nil {
		return http.StatusServiceUnavailable, "Persistence is not available"
	}

	record, err := h.storage.GetMapByID(mapID)
	if err != nil {
		log.Printf("Failed to load map %d: %v", mapID, err)
		return http.StatusInternalServerError, "Failed to load target map"
	}
	if record == nil {
		return http.StatusNotFound, fmt.Sprintf("Map %d not found", mapID)
	}

	if _, err := h.storage.ReplaceZones(mapID, result.Candidates); err != nil {
		log.Printf("Failed to store zones for map %d: %v", mapID, err)
		return http.StatusInternalServerError, "Failed to store zones"
	}
	if result.Bounds != nil {
		if err := h.storage.UpdateMapBounds(mapID, *result.Bounds); err != nil {
			log.Printf("Failed to update bounds for map %d: %v", mapID, err)
			return http.StatusInternalServerError, "Failed to update map bounds"
		}
	}
	return 0, ""
}

func (h *ImportHandlers) publishTerminal(importID, eventType, message string) {
	h.hub.Publish(ProgressEvent{
		Type:     eventType,
		ImportID: importID,
		Message:  message,
	})
	h.hub.Close(importID)
}

// newImportID returns an opaque id correlating an import run with its
// progress feed.
func newImportID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("import-%d", time.Now().UnixNano())
	}
	return "import-" + hex.EncodeToString(buf)
}
