// ABOUTME: Test helpers for E2E testing.
// ABOUTME: Starts a real HTTP server over fresh registries, a loader, a factory and a history store.

package e2e_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/2389/sdrhub/internal/api"
	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/modules"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
	"github.com/2389/sdrhub/plugins/loopback"
	"github.com/2389/sdrhub/plugins/null"
)

// TestServer wraps a test HTTP server with the runtime behind it
type TestServer struct {
	Server  *httptest.Server
	Store   *store.Store
	Drivers *core.Registry
	Factory *factory.Factory
	Modules *modules.Modules
	Root    string
}

// StartTestServer creates and starts a test server with the built-in drivers
// and converters registered. Extra loader options, such as an in-memory
// opener, are applied after the defaults.
func StartTestServer(t *testing.T, opts ...modules.Option) *TestServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	drivers := core.NewRegistry()
	if err := drivers.Add(null.Driver()); err != nil {
		t.Fatalf("failed to register null driver: %v", err)
	}
	if err := drivers.Add(loopback.Driver()); err != nil {
		t.Fatalf("failed to register loopback driver: %v", err)
	}
	converters := convert.NewRegistry()
	if err := convert.RegisterDefaults(converters); err != nil {
		t.Fatalf("failed to register converters: %v", err)
	}

	s, err := store.New(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	root := t.TempDir()
	modOpts := append([]modules.Option{
		modules.WithRoot(root),
		modules.WithLogger(logger),
		modules.WithRecorder(s),
	}, opts...)
	mods := modules.New(drivers, converters, modOpts...)
	f := factory.New(drivers,
		factory.WithLogger(logger),
		factory.WithRecorder(s),
		factory.WithLoader(mods),
	)

	srv := httptest.NewServer(api.New(api.Config{
		Drivers:    drivers,
		Converters: converters,
		Factory:    f,
		Modules:    mods,
		History:    s,
		Logger:     logger,
	}).Handler())

	ts := &TestServer{
		Server:  srv,
		Store:   s,
		Drivers: drivers,
		Factory: f,
		Modules: mods,
		Root:    root,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and the store
func (ts *TestServer) Close() {
	ts.Server.Close()
	ts.Store.Close()
}

func (ts *TestServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Server.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// GET makes a GET request
func (ts *TestServer) GET(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil)
}

// POST makes a POST request with a JSON body
func (ts *TestServer) POST(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body)
}

// DELETE makes a DELETE request
func (ts *TestServer) DELETE(t *testing.T, path string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodDelete, path, nil)
}

// AssertStatusCode checks if response has expected status code
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("expected status %d, got %d. Body: %s", expected, resp.StatusCode, string(body))
	}
}

// DecodeJSON decodes response body as JSON
func DecodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
}

// ReadBody reads and returns the response body
func ReadBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(body)
}
