package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mapforge/server/internal/config"
	"github.com/mapforge/server/internal/database"
	"github.com/mapforge/server/internal/importer"
)

// SetupImportRoutes registers the import pipeline routes.
func SetupImportRoutes(mux *http.ServeMux, imp *importer.Importer, hub *ProgressHub, storage *database.MapStorage, cfg *config.Config) {
	handlers := NewImportHandlers(imp, hub, storage, cfg)
	limits := DefaultRateLimitConfig()
	importRateLimit := RateLimitMiddleware(limits.ImportLimit, limits.ImportWindow)

	importHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/imports"), "/")

		switch {
		case r.Method == http.MethodPost && path == "preview":
			handlers.PreviewImport(w, r)
		case r.Method == http.MethodPost && path == "prepare":
			handlers.PrepareImport(w, r)
		case r.Method == http.MethodPost && path == "run":
			handlers.RunImport(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	rateLimited := importRateLimit(importHandler)
	mux.Handle("/api/imports/", rateLimited)
}

// SetupMapRoutes registers the stored-map routes. Skipped entirely when the
// server runs without a database.
func SetupMapRoutes(mux *http.ServeMux, storage *database.MapStorage) {
	handlers := NewMapHandlers(storage)

	mapHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/maps"), "/")

		switch {
		case r.Method == http.MethodPost && path == "":
			handlers.CreateMap(w, r)
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/zones"):
			handlers.ReplaceZones(w, r)
		case r.Method == http.MethodGet && path != "":
			handlers.GetMap(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	mux.Handle("/api/maps", mapHandler)
	mux.Handle("/api/maps/", mapHandler)
}

// SetupProgressRoutes registers the websocket progress feed.
func SetupProgressRoutes(mux *http.ServeMux, hub *ProgressHub, cfg *config.Config) {
	handler := NewProgressHandler(hub, cfg.CORS.AllowedOrigins)
	mux.HandleFunc("/ws/imports/", handler.ServeProgress)
}

// NewRouter assembles the full HTTP surface: health, imports, maps and the
// progress feed, wrapped in CORS and a global rate limit.
func NewRouter(imp *importer.Importer, hub *ProgressHub, storage *database.MapStorage, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", healthHandler)
	SetupImportRoutes(mux, imp, hub, storage, cfg)
	SetupProgressRoutes(mux, hub, cfg)
	if storage != nil {
		SetupMapRoutes(mux, storage)
	}

	limits := DefaultRateLimitConfig()
	globalRateLimit := RateLimitMiddleware(limits.GlobalLimit, limits.GlobalWindow)
	cors := CORSMiddleware(cfg.CORS.AllowedOrigins)

	return cors(globalRateLimit(RequestLogMiddleware(mux)))
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// RequestLogMiddleware logs one line per request with method, path, status
// and duration. Websocket upgrades are skipped; their connections outlive
// any useful single-line summary.
func RequestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		log.Printf("%s %s %d %v", r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}

// healthHandler responds to health check requests.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"mapforge-server"}`)
}
