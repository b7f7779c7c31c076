// ABOUTME: Tests for admin HTTP handlers.
// ABOUTME: Verifies the dashboard, module and probe pages render from live runtime state.

package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/modules"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
	"github.com/2389/sdrhub/plugins/loopback"
)

type fakeModules struct {
	records []modules.Record
	found   []string
	results map[string]string
}

func (m *fakeModules) ListSearchPaths() []string { return []string{"/opt/sdr/lib/sdrhub/modules0.8"} }
func (m *fakeModules) ListModules() []string     { return m.found }
func (m *fakeModules) Records() []modules.Record { return m.records }
func (m *fakeModules) LoadResult(path string) (string, bool) {
	msg, ok := m.results[path]
	return msg, ok
}

type testEnv struct {
	router  chi.Router
	factory *factory.Factory
	store   *store.Store
}

func setup(t *testing.T, withHistory bool) *testEnv {
	t.Helper()
	drivers := core.NewRegistry()
	if err := drivers.Add(loopback.Driver()); err != nil {
		t.Fatal(err)
	}
	if err := drivers.Add(core.Driver{
		Key:  "legacy",
		Find: func(core.Kwargs) ([]core.Kwargs, error) { return nil, nil },
		Make: func(core.Kwargs) (core.Device, error) { return nil, nil },
		ABI:  "0.1.0",
	}); err != nil {
		t.Fatal(err)
	}
	converters := convert.NewRegistry()
	if err := convert.RegisterDefaults(converters); err != nil {
		t.Fatal(err)
	}

	env := &testEnv{router: chi.NewRouter()}
	cfg := Config{
		Drivers:    drivers,
		Converters: converters,
		Modules: &fakeModules{
			records: []modules.Record{{Path: "/mods/airspy.so", Version: "1.2.0", Drivers: []string{"airspy"}}},
			found:   []string{"/mods/airspy.so", "/mods/broken.so"},
			results: map[string]string{"/mods/broken.so": "/mods/broken.so: invalid ELF header"},
		},
	}
	factoryOpts := []factory.Option{factory.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}
	if withHistory {
		s, err := store.New(filepath.Join(t.TempDir(), "admin.db"))
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		env.store = s
		cfg.History = s
		factoryOpts = append(factoryOpts, factory.WithRecorder(s))
	}
	env.factory = factory.New(drivers, factoryOpts...)
	cfg.Factory = env.factory

	NewHandlers(cfg).RegisterRoutes(env.router)
	return env
}

func (e *testEnv) get(t *testing.T, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr.Code, rr.Body.String()
}

func TestDashboard(t *testing.T) {
	env := setup(t, false)
	dev, err := env.factory.Make(core.Kwargs{"driver": "loopback"})
	if err != nil {
		t.Fatalf("Make() error = %v", err)
	}
	defer env.factory.Unmake(dev)

	code, body := env.get(t, "/admin/")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	for _, want := range []string{"sdrhub " + core.LibVersion, "loopback", "incompatible", "loopback-v1", "1 modules loaded"} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "No open devices") {
		t.Error("dashboard should list the open device")
	}
}

func TestModulesPage(t *testing.T) {
	env := setup(t, true)
	if err := env.store.RecordModuleEvent("/mods/airspy.so", "load", ""); err != nil {
		t.Fatal(err)
	}

	code, body := env.get(t, "/admin/modules")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	for _, want := range []string{"/opt/sdr/lib/sdrhub/modules0.8", "/mods/airspy.so", "1.2.0", "airspy", "invalid ELF header", "Recent events"} {
		if !strings.Contains(body, want) {
			t.Errorf("modules page missing %q", want)
		}
	}
}

func TestProbesPage(t *testing.T) {
	env := setup(t, true)
	env.factory.Enumerate(core.Kwargs{"driver": "loopback"})

	code, body := env.get(t, "/admin/probes")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !strings.Contains(body, "driver=loopback") {
		t.Error("probes page missing the recorded probe")
	}
	if !strings.Contains(body, `hx-get="/admin/probes/rows"`) {
		t.Error("probes page missing the htmx filter")
	}

	code, body = env.get(t, "/admin/probes/rows?errors=true")
	if code != http.StatusOK {
		t.Fatalf("rows status = %d, want 200", code)
	}
	if !strings.Contains(body, "No probes recorded") {
		t.Errorf("expected no failed probes, got %s", body)
	}
	if strings.Contains(body, "<html") {
		t.Error("rows partial should not include the layout")
	}
}

func TestProbesPageWithoutHistory(t *testing.T) {
	env := setup(t, false)

	code, body := env.get(t, "/admin/probes")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if !strings.Contains(body, "History is disabled") {
		t.Error("expected the disabled history notice")
	}

	code, _ = env.get(t, "/admin/probes/rows")
	if code != http.StatusServiceUnavailable {
		t.Errorf("rows status = %d, want 503", code)
	}
}
