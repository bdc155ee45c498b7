package geocode

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mapforge/server/internal/config"
)

func newTestClient(serverURL string) *NominatimClient {
	cfg := &config.Config{}
	cfg.Geocoder.BaseURL = serverURL
	cfg.Geocoder.UserAgent = "mapforge-test/1.0"
	cfg.Geocoder.Timeout = 2 * time.Second
	return NewNominatimClient(cfg)
}

func TestGeocodeResolved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "350 Fifth Avenue, New York" {
			t.Errorf("Query address = %q, expected the request address", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("Query format = %q, expected json", got)
		}
		if got := r.Header.Get("User-Agent"); got != "mapforge-test/1.0" {
			t.Errorf("User-Agent = %q, expected mapforge-test/1.0", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"40.7484","lon":"-73.9857","display_name":"Empire State Building"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	point, err := client.Geocode(context.Background(), "350 Fifth Avenue, New York")
	if err != nil {
		t.Fatalf("Geocode() failed: %v", err)
	}

	if math.Abs(point.Lat-40.7484) > 1e-9 {
		t.Errorf("Lat = %f, expected 40.7484", point.Lat)
	}
	if math.Abs(point.Lng-(-73.9857)) > 1e-9 {
		t.Errorf("Lng = %f, expected -73.9857", point.Lng)
	}
}

func TestGeocodeNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Geocode(context.Background(), "nowhere at all")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Geocode() error = %v, expected ErrNotFound", err)
	}
}

func TestGeocodeServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Geocode(context.Background(), "somewhere")
	if err == nil {
		t.Fatal("Geocode() succeeded, expected service error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("Service failure reported as ErrNotFound; the two outcomes must stay distinct")
	}
}

func TestGeocodeTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := newTestClient(server.URL)
	_, err := client.Geocode(context.Background(), "somewhere")
	if err == nil {
		t.Fatal("Geocode() succeeded against a closed server, expected error")
	}
}

func TestGeocodeInvalidCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"not-a-number","lon":"-73.9857"}]`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Geocode(context.Background(), "somewhere")
	if err == nil {
		t.Fatal("Geocode() succeeded with unparseable latitude, expected error")
	}
}

func TestGeocodeEmptyAddress(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1")
	if _, err := client.Geocode(context.Background(), ""); err == nil {
		t.Error("Geocode(\"\") succeeded, expected error")
	}
}

func TestGeocodeContextCancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := client.Geocode(ctx, "somewhere")
	if err == nil {
		t.Fatal("Geocode() succeeded despite cancelled context, expected error")
	}
}
