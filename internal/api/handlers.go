// ABOUTME: Handlers for the diagnostics API.
// ABOUTME: Each handler logs through the request-scoped logger carried in the context.

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	slogcontext "github.com/veqryn/slog-context"

	"github.com/2389/sdrhub/internal/auth"
	apierrors "github.com/2389/sdrhub/internal/errors"
	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

type driverResponse struct {
	Key        string `json:"key"`
	ABI        string `json:"abi"`
	Compatible bool   `json:"compatible"`
}

// listDrivers handles GET /v1/drivers
func (s *Server) listDrivers(w http.ResponseWriter, r *http.Request) {
	drivers := s.drivers.Drivers()
	out := make([]driverResponse, 0, len(drivers))
	for _, d := range drivers {
		out = append(out, driverResponse{Key: d.Key, ABI: d.ABI, Compatible: d.Compatible()})
	}
	writeJSON(w, http.StatusOK, out)
}

type moduleResponse struct {
	Path    string      `json:"path"`
	Loaded  bool        `json:"loaded"`
	Error   string      `json:"error,omitempty"`
	Version string      `json:"version,omitempty"`
	Info    core.Kwargs `json:"info,omitempty"`
	Drivers []string    `json:"drivers,omitempty"`
}

// listModules handles GET /v1/modules. Candidates that were never attempted
// are listed alongside loaded and failed modules.
func (s *Server) listModules(w http.ResponseWriter, r *http.Request) {
	out := []moduleResponse{}
	seen := map[string]bool{}
	for _, rec := range s.modules.Records() {
		seen[rec.Path] = true
		out = append(out, moduleResponse{
			Path:    rec.Path,
			Loaded:  true,
			Version: rec.Version,
			Info:    rec.Info,
			Drivers: rec.Drivers,
		})
	}
	for _, path := range s.modules.ListModules() {
		if seen[path] {
			continue
		}
		resp := moduleResponse{Path: path}
		if msg, ok := s.modules.LoadResult(path); ok {
			resp.Error = msg
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"search_paths": s.modules.ListSearchPaths(),
		"modules":      out,
	})
}

type moduleRequest struct {
	Path string `json:"path"`
}

func decodeModuleRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req moduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "invalid request body")
		return "", false
	}
	if strings.TrimSpace(req.Path) == "" {
		apierrors.WriteParamError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "path is required", "path")
		return "", false
	}
	return req.Path, true
}

// loadModule handles POST /v1/modules/load. Only files ListModules reports
// can be loaded over HTTP.
func (s *Server) loadModule(w http.ResponseWriter, r *http.Request) {
	path, ok := decodeModuleRequest(w, r)
	if !ok {
		return
	}
	if !slices.Contains(s.modules.ListModules(), filepath.Clean(path)) {
		slogcontext.FromCtx(r.Context()).Warn("refused module load outside search paths", "module", path, "caller", auth.CallerFromContext(r.Context()))
		apierrors.WriteParamError(w, http.StatusForbidden, apierrors.ErrForbidden, "path is not a module file in a search path", "path")
		return
	}
	if msg := s.modules.Load(path); msg != "" {
		slogcontext.FromCtx(r.Context()).Warn("module load failed", "module", path, "error", msg)
		apierrors.WriteError(w, http.StatusUnprocessableEntity, apierrors.ErrInvalidRequest, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "loaded": true})
}

// unloadModule handles POST /v1/modules/unload
func (s *Server) unloadModule(w http.ResponseWriter, r *http.Request) {
	path, ok := decodeModuleRequest(w, r)
	if !ok {
		return
	}
	if msg := s.modules.Unload(path); msg != "" {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "loaded": false})
}

// enumerateDevices handles GET /v1/devices?args=
func (s *Server) enumerateDevices(w http.ResponseWriter, r *http.Request) {
	args := r.URL.Query().Get("args")
	results := s.factory.EnumerateString(args)
	slogcontext.FromCtx(r.Context()).Debug("enumerated devices", "args", args, "results", len(results))
	writeJSON(w, http.StatusOK, results)
}

type makeRequest struct {
	Args string `json:"args"`
}

// makeDevice handles POST /v1/devices
func (s *Server) makeDevice(w http.ResponseWriter, r *http.Request) {
	var req makeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "invalid request body")
		return
	}

	dev, err := s.factory.MakeString(req.Args)
	if err != nil {
		slogcontext.FromCtx(r.Context()).Warn("make failed", "args", req.Args, "error", err)
		writeMakeError(w, err)
		return
	}

	info, ok := s.factory.Describe(dev)
	if !ok {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrInternal, "device released before it could be described")
		return
	}
	slogcontext.FromCtx(r.Context()).Info("device acquired", "id", info.ID, "refs", info.Refs, "caller", auth.CallerFromContext(r.Context()))
	writeJSON(w, http.StatusCreated, map[string]any{
		"device":       info,
		"info":         dev.HardwareInfo(),
		"capabilities": core.Capabilities(dev),
	})
}

func writeMakeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, factory.ErrNoMatch):
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNoMatch, err.Error())
	case errors.Is(err, core.ErrABIMismatch):
		apierrors.WriteError(w, http.StatusConflict, apierrors.ErrABIMismatch, err.Error())
	default:
		apierrors.WriteErrorWithDetails(w, http.StatusBadGateway, apierrors.ErrDriverFailure, "driver failed to make the device", err)
	}
}

// listOpenDevices handles GET /v1/devices/open
func (s *Server) listOpenDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.factory.Open())
}

// unmakeDevice handles DELETE /v1/devices/{id}, releasing one reference.
func (s *Server) unmakeDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	dev, ok := s.factory.ByID(id)
	if !ok {
		apierrors.WriteParamError(w, http.StatusNotFound, apierrors.ErrUnknownDevice, "no open device with that id", "id")
		return
	}
	if err := s.factory.Unmake(dev); err != nil {
		if errors.Is(err, factory.ErrUnknownDevice) {
			apierrors.WriteParamError(w, http.StatusNotFound, apierrors.ErrUnknownDevice, err.Error(), "id")
			return
		}
		// the reference is gone even when the driver's close fails
		apierrors.WriteErrorWithDetails(w, http.StatusBadGateway, apierrors.ErrDriverFailure, "device close failed", err)
		return
	}
	slogcontext.FromCtx(r.Context()).Info("device released", "id", id, "caller", auth.CallerFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// listConverters handles GET /v1/converters
func (s *Server) listConverters(w http.ResponseWriter, r *http.Request) {
	out := map[string][]string{}
	for _, src := range s.converters.ListAvailableSourceFormats() {
		out[src] = s.converters.ListTargetFormats(src)
	}
	writeJSON(w, http.StatusOK, out)
}

type priorityResponse struct {
	Level int    `json:"level"`
	Name  string `json:"name"`
}

// getConverter handles GET /v1/converters/{source}/{target}
func (s *Server) getConverter(w http.ResponseWriter, r *http.Request) {
	src, dst := chi.URLParam(r, "source"), chi.URLParam(r, "target")
	for _, p := range [][2]string{{"source", src}, {"target", dst}} {
		if !convert.IsFormat(p[1]) {
			apierrors.WriteParamError(w, http.StatusBadRequest, apierrors.ErrInvalidFormat, "unknown format "+p[1], p[0])
			return
		}
	}

	prios := s.converters.ListPriorities(src, dst)
	if len(prios) == 0 {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, "no converter from "+src+" to "+dst)
		return
	}
	out := make([]priorityResponse, 0, len(prios))
	for _, p := range prios {
		out = append(out, priorityResponse{Level: int(p), Name: p.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"source":     src,
		"target":     dst,
		"priorities": out,
	})
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		apierrors.WriteError(w, http.StatusServiceUnavailable, apierrors.ErrServiceUnavailable, "history store is not configured")
		return false
	}
	return true
}

func queryLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// listProbes handles GET /v1/probes?driver=&args=&errors=&limit=&offset=
func (s *Server) listProbes(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		apierrors.WriteParamError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "limit must be a non-negative integer", "limit")
		return
	}
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	errorsOnly, _ := strconv.ParseBool(q.Get("errors"))

	logs, err := s.history.GetProbeLogs(&store.ProbeLogQuery{
		Limit:        limit,
		Offset:       max(offset, 0),
		Driver:       q.Get("driver"),
		ArgsContains: q.Get("args"),
		ErrorsOnly:   errorsOnly,
	})
	if err != nil {
		slogcontext.FromCtx(r.Context()).Error("probe history query failed", "error", err)
		apierrors.WriteErrorWithDetails(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "failed to query probe history", err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// probeStats handles GET /v1/probes/stats
func (s *Server) probeStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	stats, err := s.history.GetProbeStats()
	if err != nil {
		apierrors.WriteErrorWithDetails(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "failed to query probe stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// listModuleEvents handles GET /v1/modules/events?path=&limit=
func (s *Server) listModuleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireHistory(w) {
		return
	}
	limit, ok := queryLimit(r)
	if !ok {
		apierrors.WriteParamError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "limit must be a non-negative integer", "limit")
		return
	}
	events, err := s.history.GetModuleEvents(r.URL.Query().Get("path"), limit)
	if err != nil {
		apierrors.WriteErrorWithDetails(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "failed to query module events", err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
