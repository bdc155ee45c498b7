package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Write timeout for progress frames
	progressWriteTimeout = 10 * time.Second

	// Buffered events per subscriber; a slow consumer drops frames rather
	// than blocking the geocoding loop
	progressBufferSize = 64
)

// ProgressEvent is one frame of the import progress feed.
type ProgressEvent struct {
	Type     string `json:"type"` // "progress", "completed" or "failed"
	ImportID string `json:"import_id"`
	Current  int    `json:"current,omitempty"`
	Total    int    `json:"total,omitempty"`
	Address  string `json:"address,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ProgressHub fans import progress events out to WebSocket subscribers,
// keyed by import id. The import pipeline publishes from its synchronous
// progress callback; Publish never blocks.
type ProgressHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan ProgressEvent]bool
}

// NewProgressHub creates an empty progress hub.
func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subscribers: make(map[string]map[chan ProgressEvent]bool),
	}
}

// Subscribe registers interest in an import's progress feed.
func (h *ProgressHub) Subscribe(importID string) chan ProgressEvent {
	ch := make(chan ProgressEvent, progressBufferSize)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[importID] == nil {
		h.subscribers[importID] = make(map[chan ProgressEvent]bool)
	}
	h.subscribers[importID][ch] = true
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *ProgressHub) Unsubscribe(importID string, ch chan ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[importID]
	if subs == nil || !subs[ch] {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.subscribers, importID)
	}
}

// Publish delivers an event to every subscriber of the import. Events to
// subscribers with full buffers are dropped; progress is advisory and must
// never stall the pipeline.
func (h *ProgressHub) Publish(event ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers[event.ImportID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes every subscriber of an import, ending their feeds. Used
// when an import finishes.
func (h *ProgressHub) Close(importID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers[importID] {
		close(ch)
	}
	delete(h.subscribers, importID)
}

// ProgressHandler serves the WebSocket progress feed for a running import.
type ProgressHandler struct {
	hub      *ProgressHub
	upgrader websocket.Upgrader
}

// NewProgressHandler creates a progress handler with an origin check built
// from the configured allow-list.
func NewProgressHandler(hub *ProgressHub, allowedOrigins []string) *ProgressHandler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &ProgressHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin header
				return origin == "" || allowed[origin]
			},
		},
	}
}

// ServeProgress handles GET /ws/imports/{import_id}
func (h *ProgressHandler) ServeProgress(w http.ResponseWriter, r *http.Request) {
	importID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/imports"), "/")
	if importID == "" {
		respondWithError(w, http.StatusBadRequest, "Missing import ID")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := h.hub.Subscribe(importID)
	defer h.hub.Unsubscribe(importID, events)

	// Drain client frames so close messages are processed
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("Failed to encode progress event: %v", err)
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(progressWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		if event.Type == "completed" || event.Type == "failed" {
			return
		}
	}
}
