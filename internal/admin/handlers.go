// ABOUTME: HTTP handlers for the admin UI pages.
// ABOUTME: Serves the dashboard, module overview and probe history as server-rendered HTML.

package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/modules"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

// Modules is the part of the loader the pages read.
type Modules interface {
	ListSearchPaths() []string
	ListModules() []string
	Records() []modules.Record
	LoadResult(path string) (string, bool)
}

// History is the part of the store the pages read.
type History interface {
	GetProbeLogs(q *store.ProbeLogQuery) ([]*store.ProbeLog, error)
	GetProbeStats() ([]*store.DriverProbeStats, error)
	GetModuleEvents(path string, limit int) ([]*store.ModuleEvent, error)
}

// Config wires the handlers. History may be nil.
type Config struct {
	Drivers    *core.Registry
	Converters *convert.Registry
	Factory    *factory.Factory
	Modules    Modules
	History    History
}

type Handlers struct {
	cfg Config
}

func NewHandlers(cfg Config) *Handlers {
	return &Handlers{cfg: cfg}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Get("/", h.dashboard)
		r.Get("/modules", h.modulesList)
		r.Get("/probes", h.probesList)
		r.Get("/probes/rows", h.probeRows)
	})
}

func render(w http.ResponseWriter, r *http.Request, page string, data any) {
	w.Header().Set("Content-Type", "text/html")
	if err := renderPage(w, page, data); err != nil {
		slogcontext.FromCtx(r.Context()).Error("render admin page", "page", page, "error", err)
	}
}

type driverRow struct {
	Key        string
	ABI        string
	Compatible bool
}

func (h *Handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	var drivers []driverRow
	for _, d := range h.cfg.Drivers.Drivers() {
		drivers = append(drivers, driverRow{Key: d.Key, ABI: d.ABI, Compatible: d.Compatible()})
	}

	render(w, r, "dashboard", map[string]any{
		"LibVersion":    core.LibVersion,
		"ABIVersion":    core.ABIVersion,
		"Drivers":       drivers,
		"Open":          h.cfg.Factory.Open(),
		"ModuleCount":   len(h.cfg.Modules.Records()),
		"SourceFormats": len(h.cfg.Converters.ListAvailableSourceFormats()),
	})
}

type moduleRow struct {
	Path    string
	Version string
	Drivers []string
	Loaded  bool
	Error   string
}

func (h *Handlers) modulesList(w http.ResponseWriter, r *http.Request) {
	var rows []moduleRow
	seen := map[string]bool{}
	for _, rec := range h.cfg.Modules.Records() {
		seen[rec.Path] = true
		rows = append(rows, moduleRow{Path: rec.Path, Version: rec.Version, Drivers: rec.Drivers, Loaded: true})
	}
	for _, path := range h.cfg.Modules.ListModules() {
		if seen[path] {
			continue
		}
		msg, _ := h.cfg.Modules.LoadResult(path)
		rows = append(rows, moduleRow{Path: path, Error: msg})
	}

	data := map[string]any{
		"SearchPaths":    h.cfg.Modules.ListSearchPaths(),
		"Modules":        rows,
		"HistoryEnabled": h.cfg.History != nil,
	}
	if h.cfg.History != nil {
		events, err := h.cfg.History.GetModuleEvents("", 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data["Events"] = events
	}
	render(w, r, "modules", data)
}

func probeQuery(r *http.Request) *store.ProbeLogQuery {
	errorsOnly, _ := strconv.ParseBool(r.URL.Query().Get("errors"))
	return &store.ProbeLogQuery{
		Limit:      100,
		Driver:     r.URL.Query().Get("driver"),
		ErrorsOnly: errorsOnly,
	}
}

func (h *Handlers) probesList(w http.ResponseWriter, r *http.Request) {
	if h.cfg.History == nil {
		render(w, r, "probes-list", map[string]any{"HistoryEnabled": false})
		return
	}

	q := probeQuery(r)
	logs, err := h.cfg.History.GetProbeLogs(q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stats, err := h.cfg.History.GetProbeStats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	render(w, r, "probes-list", map[string]any{
		"HistoryEnabled": true,
		"Logs":           logs,
		"Stats":          stats,
		"DriverNames":    h.cfg.Drivers.Names(),
		"SelectedDriver": q.Driver,
		"ErrorsOnly":     q.ErrorsOnly,
	})
}

// probeRows renders only the table body for htmx filter swaps.
func (h *Handlers) probeRows(w http.ResponseWriter, r *http.Request) {
	if h.cfg.History == nil {
		http.Error(w, "history is disabled", http.StatusServiceUnavailable)
		return
	}
	logs, err := h.cfg.History.GetProbeLogs(probeQuery(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := renderPartial(w, "probe-rows", logs); err != nil {
		slogcontext.FromCtx(r.Context()).Error("render probe rows", "error", err)
	}
}
