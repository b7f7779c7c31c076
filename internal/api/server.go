// ABOUTME: Diagnostics HTTP surface over the driver registry, module loader, device factory and converters.
// ABOUTME: Routes are mounted on chi with request ids, panic recovery and request logging.

package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/sdrhub/internal/admin"
	"github.com/2389/sdrhub/internal/auth"
	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/logging"
	"github.com/2389/sdrhub/internal/modules"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

// Modules is the loader surface the API reads and drives.
type Modules interface {
	modules.Loader
	ListSearchPaths() []string
	Records() []modules.Record
	LoadResult(path string) (string, bool)
}

// History answers probe and module event queries.
type History interface {
	GetProbeLogs(q *store.ProbeLogQuery) ([]*store.ProbeLog, error)
	GetProbeStats() ([]*store.DriverProbeStats, error)
	GetModuleEvents(path string, limit int) ([]*store.ModuleEvent, error)
}

// Config wires the server. History may be nil; the history endpoints then
// answer 503. Auth guards the routes that change state when enabled.
type Config struct {
	Drivers    *core.Registry
	Converters *convert.Registry
	Factory    *factory.Factory
	Modules    Modules
	History    History
	Auth       auth.Options
	Logger     *slog.Logger

	// WatchInterval defaults to DefaultWatchInterval.
	WatchInterval time.Duration
}

type Server struct {
	drivers    *core.Registry
	converters *convert.Registry
	factory    *factory.Factory
	modules    Modules
	history    History
	auth       auth.Options
	logger     *slog.Logger

	watchInterval time.Duration
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &Server{
		drivers:    cfg.Drivers,
		converters: cfg.Converters,
		factory:    cfg.Factory,
		modules:    cfg.Modules,
		history:    cfg.History,
		auth:       cfg.Auth,
		logger:     logger,

		watchInterval: interval,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/drivers", s.listDrivers)

		r.Get("/modules", s.listModules)
		r.Get("/modules/events", s.listModuleEvents)

		r.Get("/devices", s.enumerateDevices)
		r.Get("/devices/open", s.listOpenDevices)
		r.Get("/devices/watch", s.watchDevices)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.auth))
			r.Post("/modules/load", s.loadModule)
			r.Post("/modules/unload", s.unloadModule)
			r.Post("/devices", s.makeDevice)
			r.Delete("/devices/{id}", s.unmakeDevice)
		})

		r.Get("/converters", s.listConverters)
		r.Get("/converters/{source}/{target}", s.getConverter)

		r.Get("/probes", s.listProbes)
		r.Get("/probes/stats", s.probeStats)
	})

	admin.NewHandlers(admin.Config{
		Drivers:    s.drivers,
		Converters: s.converters,
		Factory:    s.factory,
		Modules:    s.modules,
		History:    s.history,
	}).RegisterRoutes(r)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
