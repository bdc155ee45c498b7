package main

import (
	"log"
	"net"
	"net/http"

	"github.com/mapforge/server/internal/api"
	"github.com/mapforge/server/internal/config"
	"github.com/mapforge/server/internal/database"
	"github.com/mapforge/server/internal/geocode"
	"github.com/mapforge/server/internal/importer"
)

// main starts the MapForge import server. It loads configuration, connects
// to the database when one is configured, and serves the import API and
// its websocket progress feed.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var storage *database.MapStorage
	db, err := database.Connect(cfg)
	if err != nil {
		log.Printf("Database unavailable, persistence disabled: %v", err)
	} else {
		defer db.Close()
		if err := database.Migrate(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		storage = database.NewMapStorage(db)
	}

	geocoder := geocode.NewNominatimClient(cfg)
	imp := importer.NewImporter(geocoder, cfg.Geocoder.RequestInterval)
	hub := api.NewProgressHub()

	addr := net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(imp, hub, storage, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Printf("MapForge server starting on %s (environment: %s)", addr, cfg.Server.Environment)
	if err := server.ListenAndServe(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
