// ABOUTME: Loads driver modules exactly once and tracks what each one registered.
// ABOUTME: Unloading removes the module's drivers and converters from the registries.

package modules

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"

	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

// NeverLoaded is the Unload result for a path that has no module record.
const NeverLoaded = "never loaded"

// Loader is the surface the rest of the runtime depends on.
type Loader interface {
	ListModules() []string
	Load(path string) string
	Unload(path string) string
}

// Recorder receives module load and unload events.
type Recorder interface {
	RecordModuleEvent(path, action, message string) error
}

// Record describes one loaded module.
type Record struct {
	Path       string           `json:"path"`
	Version    string           `json:"version,omitempty"`
	Info       core.Kwargs      `json:"info,omitempty"`
	Drivers    []string         `json:"drivers"`
	Converters []*convert.Entry `json:"-"`
	LoadedAt   time.Time        `json:"loaded_at"`
	symbols    Symbols
}

// retired holds what an unloaded module had registered. Go runs a plugin's
// init only on the first open, so a later load of the same path restores these.
type retired struct {
	drivers    []core.Driver
	converters []*convert.Entry
}

// Modules is the default Loader. It is safe for concurrent use; loads and
// unloads are serialized so registrations can be attributed to one module.
type Modules struct {
	mu         sync.Mutex
	records    map[string]*Record
	results    map[string]string
	retired    map[string]*retired
	opener     Opener
	drivers    *core.Registry
	converters *convert.Registry
	root       string
	extraPaths []string
	pattern    glob.Glob
	logger     *slog.Logger
	recorder   Recorder

	autoLoad atomic.Bool
	autoOnce sync.Once
}

type Option func(*Modules)

// WithRoot sets the install root; modules live in ModuleDir(root).
func WithRoot(root string) Option {
	return func(m *Modules) { m.root = root }
}

// WithSearchPaths appends directories scanned after the root module directory.
func WithSearchPaths(paths ...string) Option {
	return func(m *Modules) { m.extraPaths = append(m.extraPaths, paths...) }
}

func WithOpener(o Opener) Option {
	return func(m *Modules) { m.opener = o }
}

// WithPattern overrides the module file name glob.
func WithPattern(pattern string) Option {
	return func(m *Modules) { m.pattern = glob.MustCompile(pattern) }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Modules) { m.logger = l }
}

func WithRecorder(r Recorder) Option {
	return func(m *Modules) { m.recorder = r }
}

// New creates a loader that attributes registrations in drivers and converters
// to the modules it opens.
func New(drivers *core.Registry, converters *convert.Registry, opts ...Option) *Modules {
	m := &Modules{
		records:    make(map[string]*Record),
		results:    make(map[string]string),
		retired:    make(map[string]*retired),
		opener:     DefaultOpener(),
		drivers:    drivers,
		converters: converters,
		root:       DefaultRoot,
		pattern:    glob.MustCompile(DefaultPattern),
		logger:     slog.Default(),
	}
	m.autoLoad.Store(true)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load opens the module at path unless it is already loaded. It returns "" on
// success or a human-readable failure; errors are never raised. Calling Load
// disables the automatic bulk load.
func (m *Modules) Load(path string) string {
	m.autoLoad.Store(false)
	return m.load(path)
}

func (m *Modules) load(path string) string {
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[path]; ok {
		return ""
	}

	driversBefore := m.drivers.Names()
	convertersBefore := m.converters.Entries()

	syms, err := m.open(path)
	if err != nil {
		msg := fmt.Sprintf("%s: %v", path, err)
		m.results[path] = msg
		m.logger.Error("module load failed", "path", path, "error", err)
		m.record(path, "load", msg)
		return msg
	}

	rec := &Record{
		Path:       path,
		Drivers:    added(driversBefore, m.drivers.Names()),
		Converters: added(convertersBefore, m.converters.Entries()),
		LoadedAt:   time.Now(),
		symbols:    syms,
	}
	if len(rec.Drivers) == 0 && len(rec.Converters) == 0 {
		if prev, ok := m.retired[path]; ok {
			if err := m.restore(rec, prev); err != nil {
				msg := fmt.Sprintf("%s: %v", path, err)
				m.results[path] = msg
				m.logger.Error("module reload failed", "path", path, "error", err)
				m.record(path, "load", msg)
				return msg
			}
		}
	}
	delete(m.retired, path)
	rec.Version = lookupVersion(syms)
	rec.Info = lookupInfo(syms)

	m.records[path] = rec
	m.results[path] = ""
	m.logger.Info("module loaded", "path", path, "version", rec.Version, "drivers", rec.Drivers, "converters", len(rec.Converters))
	m.record(path, "load", "")
	return ""
}

// open calls the opener, turning a panic in module init code into an error.
func (m *Modules) open(path string) (syms Symbols, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module init panicked: %v", r)
		}
	}()
	return m.opener.Open(path)
}

// Unload removes every driver and converter the module registered and forgets
// it. The module's code stays mapped; Go cannot unmap a plugin.
func (m *Modules) Unload(path string) string {
	path = filepath.Clean(path)

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[path]
	if !ok {
		return fmt.Sprintf("%s: %s", path, NeverLoaded)
	}

	if sym, err := rec.symbols.Lookup(SymbolUnload); err == nil {
		if fn, ok := sym.(func()); ok {
			fn()
		}
	}
	prev := &retired{}
	for _, key := range rec.Drivers {
		if d, ok := m.drivers.Get(key); ok {
			prev.drivers = append(prev.drivers, d)
		}
		m.drivers.Remove(key)
	}
	for _, e := range rec.Converters {
		if m.converters.Unregister(e) {
			prev.converters = append(prev.converters, e)
		}
	}
	m.retired[path] = prev

	delete(m.records, path)
	delete(m.results, path)
	m.logger.Info("module unloaded", "path", path)
	m.record(path, "unload", "")
	return ""
}

// restore re-registers what an earlier load of the same plugin registered.
// Nothing is left registered when any of it collides with a newer registration.
func (m *Modules) restore(rec *Record, prev *retired) error {
	var (
		drivers    []string
		converters []*convert.Entry
		failure    error
	)
	for _, d := range prev.drivers {
		if err := m.drivers.Add(d); err != nil {
			failure = fmt.Errorf("module cannot be reloaded in this process: %w", err)
			break
		}
		drivers = append(drivers, d.Key)
	}
	if failure == nil {
		for _, e := range prev.converters {
			entry, err := m.converters.Register(e.Source, e.Target, e.Priority, e.Fn)
			if err != nil {
				failure = fmt.Errorf("module cannot be reloaded in this process: %w", err)
				break
			}
			converters = append(converters, entry)
		}
	}
	if failure != nil {
		for _, key := range drivers {
			m.drivers.Remove(key)
		}
		for _, e := range converters {
			m.converters.Unregister(e)
		}
		return failure
	}
	rec.Drivers, rec.Converters = drivers, converters
	return nil
}

// LoadAll loads every module on the search paths and returns the failures by path.
func (m *Modules) LoadAll() map[string]string {
	failures := make(map[string]string)
	for _, path := range m.ListModules() {
		if msg := m.load(path); msg != "" {
			failures[path] = msg
		}
	}
	return failures
}

// AutoLoad runs LoadAll once, unless a module was loaded manually first.
func (m *Modules) AutoLoad() {
	m.autoOnce.Do(func() {
		if m.autoLoad.Load() {
			m.LoadAll()
		}
	})
}

// ModuleVersion returns the version a loaded module reported, or "".
func (m *Modules) ModuleVersion(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[filepath.Clean(path)]; ok {
		return rec.Version
	}
	return ""
}

// LoadResult returns the outcome of the last load attempt for path.
func (m *Modules) LoadResult(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.results[filepath.Clean(path)]
	return msg, ok
}

// Records returns copies of all module records sorted by path.
func (m *Modules) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.records))
	for _, path := range slices.Sorted(maps.Keys(m.records)) {
		rec := *m.records[path]
		rec.Drivers = slices.Clone(rec.Drivers)
		rec.Converters = slices.Clone(rec.Converters)
		rec.Info = rec.Info.Clone()
		out = append(out, rec)
	}
	return out
}

func (m *Modules) record(path, action, message string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordModuleEvent(path, action, message); err != nil {
		m.logger.Warn("failed to record module event", "path", path, "error", err)
	}
}

func added[T comparable](before, after []T) []T {
	var out []T
	for _, v := range after {
		if !slices.Contains(before, v) {
			out = append(out, v)
		}
	}
	return out
}

func lookupVersion(syms Symbols) string {
	sym, err := syms.Lookup(SymbolVersion)
	if err != nil {
		return ""
	}
	switch v := sym.(type) {
	case *string:
		return *v
	case string:
		return v
	case func() string:
		return v()
	}
	return ""
}

func lookupInfo(syms Symbols) core.Kwargs {
	sym, err := syms.Lookup(SymbolInfo)
	if err != nil {
		return nil
	}
	switch v := sym.(type) {
	case *map[string]string:
		return core.Kwargs(*v).Clone()
	case map[string]string:
		return core.Kwargs(v).Clone()
	case func() map[string]string:
		return core.Kwargs(v()).Clone()
	}
	return nil
}
