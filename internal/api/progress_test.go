package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestProgressHubPublish(t *testing.T) {
	hub := NewProgressHub()
	events := hub.Subscribe("import-a")
	defer hub.Unsubscribe("import-a", events)

	hub.Publish(ProgressEvent{Type: "progress", ImportID: "import-a", Current: 1, Total: 3})

	select {
	case event := <-events:
		if event.Current != 1 || event.Total != 3 {
			t.Errorf("Event = %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("No event delivered")
	}
}

func TestProgressHubIsolatesImports(t *testing.T) {
	hub := NewProgressHub()
	a := hub.Subscribe("import-a")
	b := hub.Subscribe("import-b")
	defer hub.Unsubscribe("import-a", a)
	defer hub.Unsubscribe("import-b", b)

	hub.Publish(ProgressEvent{Type: "progress", ImportID: "import-a", Current: 1, Total: 1})

	select {
	case event := <-b:
		t.Errorf("Subscriber of import-b received %+v", event)
	default:
	}
	if len(a) != 1 {
		t.Errorf("Subscriber of import-a has %d events, expected 1", len(a))
	}
}

func TestProgressHubDropsWhenFull(t *testing.T) {
	hub := NewProgressHub()
	events := hub.Subscribe("import-a")
	defer hub.Unsubscribe("import-a", events)

	// Publish never blocks, even with nobody draining
	for i := 0; i < progressBufferSize*2; i++ {
		hub.Publish(ProgressEvent{Type: "progress", ImportID: "import-a", Current: i})
	}

	if len(events) != progressBufferSize {
		t.Errorf("Buffered events = %d, expected %d", len(events), progressBufferSize)
	}
}

func TestProgressHubClose(t *testing.T) {
	hub := NewProgressHub()
	events := hub.Subscribe("import-a")

	hub.Close("import-a")

	if _, ok := <-events; ok {
		t.Error("Channel still open after Close")
	}
	// Unsubscribing after Close must not panic
	hub.Unsubscribe("import-a", events)
}

func TestServeProgressWebSocket(t *testing.T) {
	hub := NewProgressHub()
	handler := NewProgressHandler(hub, nil)

	server := httptest.NewServer(http.HandlerFunc(handler.ServeProgress))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/imports/import-ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	// The subscription happens inside the handler goroutine; wait for it
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.Publish(ProgressEvent{Type: "progress", ImportID: "import-ws", Current: 1, Total: 1, Address: "somewhere"})
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, payload, err := conn.ReadMessage()
		if err == nil {
			var event ProgressEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				t.Fatalf("Failed to decode frame: %v", err)
			}
			if event.Address != "somewhere" {
				t.Errorf("Event = %+v", event)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("No frame received: %v", err)
		}
	}

	// A terminal frame ends the feed from the server side
	hub.Publish(ProgressEvent{Type: "completed", ImportID: "import-ws"})
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var event ProgressEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		if event.Type == "completed" {
			break
		}
	}
}
