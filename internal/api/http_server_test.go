package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"itemstore/internal/config"
	"itemstore/internal/domain"
	"itemstore/internal/events"
	"itemstore/internal/models"
	"itemstore/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHealthz(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestReadyz(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestReadyz_StoreFail(t *testing.T) {
	server := newTestHTTPServer(failingStore{})
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestStoreFailureSurfacesAs500(t *testing.T) {
	server := newTestHTTPServer(failingStore{})
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	t.Run("List", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/items")
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", resp.StatusCode)
		}

		body := decodeError(t, resp)
		if body.Error != "internal_error" {
			t.Errorf("expected error code internal_error, got %s", body.Error)
		}
	})

	t.Run("Create", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/items", `{"name":"Widget"}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", resp.StatusCode)
		}
	})
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	t.Run("PostOnItem", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/items/1", `{"name":"Widget"}`)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", resp.StatusCode)
		}

		body := decodeError(t, resp)
		if body.Error != "method_not_allowed" {
			t.Errorf("expected error code method_not_allowed, got %s", body.Error)
		}
	})

	t.Run("DeleteOnCollection", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/items", http.NoBody)
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", resp.StatusCode)
		}
	})
}

func TestUnknownRoute(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/widgets")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	body := decodeError(t, resp)
	if body.Error != "not_found" {
		t.Errorf("expected error code not_found, got %s", body.Error)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := &config.Config{
		Server:    config.ServerConfig{Port: 0},
		RateLimit: config.RateLimitConfig{Enabled: true, RPS: 1, Burst: 1},
	}
	logger := zerolog.New(io.Discard)
	server := NewHTTPServer(cfg, store.NewMemoryStore(), nil, &logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	// First request - ok
	resp1, err1 := http.Get(ts.URL + "/api/items")
	if err1 != nil {
		t.Fatalf("request 1 failed: %v", err1)
	}
	defer resp1.Body.Close()
	if resp1.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp1.StatusCode)
	}

	// Second request immediately - should fail
	resp2, err2 := http.Get(ts.URL + "/api/items")
	if err2 != nil {
		t.Fatalf("request 2 failed: %v", err2)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", resp2.StatusCode)
	}
}

func TestCORS(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/items", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected CORS header")
	}
}

func TestRequestIDHeader(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	t.Run("Generated", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/items")
		assert.NoError(t, err)
		defer resp.Body.Close()
		if resp.Header.Get("X-Request-ID") == "" {
			t.Errorf("expected a generated X-Request-ID header")
		}
	})

	t.Run("Honored", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/items", http.NoBody)
		req.Header.Set("X-Request-ID", "fixed-id")
		resp, err := http.DefaultClient.Do(req)
		assert.NoError(t, err)
		defer resp.Body.Close()
		if got := resp.Header.Get("X-Request-ID"); got != "fixed-id" {
			t.Errorf("expected fixed-id, got %s", got)
		}
	})
}

func TestMutationsPublishEvents(t *testing.T) {
	bus := events.NewEventBus()
	var mu sync.Mutex
	seen := make(map[string]int)
	for _, eventType := range []string{events.EventItemCreated, events.EventItemUpdated, events.EventItemDeleted} {
		et := eventType
		bus.Subscribe(et, func(_ *events.Event) error {
			mu.Lock()
			seen[et]++
			mu.Unlock()
			return nil
		})
	}

	cfg := &config.Config{Server: config.ServerConfig{Port: 0}}
	logger := zerolog.New(io.Discard)
	server := NewHTTPServer(cfg, store.NewMemoryStore(), bus, &logger)
	ts := httptest.NewServer(server.server.Handler)
	t.Cleanup(ts.Close)

	created := doJSON(t, http.MethodPost, ts.URL+"/api/items", `{"name":"Widget"}`)
	created.Body.Close()
	if created.StatusCode != http.StatusCreated {
		t.Fatalf("create failed: %d", created.StatusCode)
	}

	up := doJSON(t, http.MethodPut, ts.URL+"/api/items/1", `{"description":"x"}`)
	up.Body.Close()

	del := doJSON(t, http.MethodDelete, ts.URL+"/api/items/1", "")
	del.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	if seen[events.EventItemCreated] != 1 {
		t.Errorf("expected 1 created event, got %d", seen[events.EventItemCreated])
	}
	if seen[events.EventItemUpdated] != 1 {
		t.Errorf("expected 1 updated event, got %d", seen[events.EventItemUpdated])
	}
	if seen[events.EventItemDeleted] != 1 {
		t.Errorf("expected 1 deleted event, got %d", seen[events.EventItemDeleted])
	}
}

func TestHTTPServer_StartStop(t *testing.T) {
	server := newTestHTTPServer(store.NewMemoryStore())

	// Start() blocks, so only exercise Shutdown on an unstarted server.
	err := server.Shutdown(context.Background())
	if err != nil {
		t.Errorf("shutdown unstarted server: %v", err)
	}
}

// Helpers

func newTestHTTPServer(st domain.ItemStore) *HTTPServer {
	cfg := &config.Config{Server: config.ServerConfig{Port: 0}}
	logger := zerolog.New(io.Discard)
	return NewHTTPServer(cfg, st, events.NewEventBus(), &logger)
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) List(_ context.Context) ([]models.Item, error) {
	return nil, errStoreDown
}

func (failingStore) Get(_ context.Context, _ int64) (models.Item, error) {
	return models.Item{}, errStoreDown
}

func (failingStore) Create(_ context.Context, _, _ string) (models.Item, error) {
	return models.Item{}, errStoreDown
}

func (failingStore) Update(_ context.Context, _ int64, _ models.ItemUpdate) (models.Item, error) {
	return models.Item{}, errStoreDown
}

func (failingStore) Delete(_ context.Context, _ int64) error {
	return errStoreDown
}

func (failingStore) Count(_ context.Context) (int, error) {
	return 0, errStoreDown
}
