// ABOUTME: Tests for module discovery, exactly-once loading, and unload bookkeeping.
// ABOUTME: A fake opener stands in for shared objects and registers drivers on open.

package modules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

type fakeSymbols map[string]any

func (s fakeSymbols) Lookup(name string) (any, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return nil, errors.New("symbol " + name + " not found")
}

type fakeModule struct {
	drivers    []string
	converters [][2]string
	symbols    fakeSymbols
	err        error
	panics     bool
	// initOnce mimics plugin.Open, which runs init only the first time a path is opened.
	initOnce bool
}

type fakeOpener struct {
	drivers    *core.Registry
	converters *convert.Registry
	modules    map[string]fakeModule
	opens      atomic.Int32

	mu     sync.Mutex
	inited map[string]bool
}

func (o *fakeOpener) Open(path string) (Symbols, error) {
	o.opens.Add(1)
	mod, ok := o.modules[filepath.Base(path)]
	if !ok {
		return nil, errors.New("not a module")
	}
	if mod.panics {
		panic("bad init")
	}
	if mod.err != nil {
		return nil, mod.err
	}
	o.mu.Lock()
	skipInit := mod.initOnce && o.inited[path]
	if o.inited == nil {
		o.inited = make(map[string]bool)
	}
	o.inited[path] = true
	o.mu.Unlock()
	if skipInit {
		return fakeSymbols{}, nil
	}
	for _, key := range mod.drivers {
		o.drivers.Add(core.Driver{
			Key:  key,
			Find: func(core.Kwargs) ([]core.Kwargs, error) { return nil, nil },
			Make: func(core.Kwargs) (core.Device, error) { return nil, errors.New("unused") },
			ABI:  core.ABIVersion,
		})
	}
	for _, pair := range mod.converters {
		o.converters.Register(pair[0], pair[1], convert.Custom, func(src, dst []byte, n int, scale float64) {})
	}
	if mod.symbols == nil {
		return fakeSymbols{}, nil
	}
	return mod.symbols, nil
}

type testEnv struct {
	root       string
	drivers    *core.Registry
	converters *convert.Registry
	opener     *fakeOpener
	modules    *Modules
}

func newTestEnv(t *testing.T, mods map[string]fakeModule, opts ...Option) *testEnv {
	t.Helper()

	root := t.TempDir()
	dir := ModuleDir(root)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name := range mods {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("module"), 0o644))
	}

	env := &testEnv{
		root:       root,
		drivers:    core.NewRegistry(),
		converters: convert.NewRegistry(),
	}
	env.opener = &fakeOpener{drivers: env.drivers, converters: env.converters, modules: mods}
	opts = append([]Option{WithRoot(root), WithOpener(env.opener), WithPattern("*.so")}, opts...)
	env.modules = New(env.drivers, env.converters, opts...)
	return env
}

func (e *testEnv) path(name string) string {
	return filepath.Join(ModuleDir(e.root), name)
}

func TestListSearchPaths(t *testing.T) {
	extra := t.TempDir()
	env := newTestEnv(t, nil, WithSearchPaths(extra, extra+"/", ModuleDir(t.TempDir())))

	paths := env.modules.ListSearchPaths()
	require.Len(t, paths, 3)
	assert.Equal(t, ModuleDir(env.root), paths[0])
	assert.Equal(t, extra, paths[1], "duplicates collapse after cleaning")
}

func TestListModules(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{"libfoo.so": {}, "libbar.so": {}})
	dir := ModuleDir(env.root)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.so"), 0o755))

	found := env.modules.ListModules()
	assert.ElementsMatch(t, []string{env.path("libfoo.so"), env.path("libbar.so")}, found)
}

func TestListModulesMissingDirectory(t *testing.T) {
	m := New(core.NewRegistry(), convert.NewRegistry(), WithRoot(filepath.Join(t.TempDir(), "absent")))
	assert.Empty(t, m.ListModules())
}

func TestLoadExactlyOnce(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"libfoo.so": {drivers: []string{"foo"}, symbols: fakeSymbols{SymbolVersion: new(string)}},
	})

	path := env.path("libfoo.so")
	assert.Equal(t, "", env.modules.Load(path))
	assert.Equal(t, "", env.modules.Load(path), "second load is a no-op success")
	assert.Equal(t, int32(1), env.opener.opens.Load())
	assert.Equal(t, []string{"foo"}, env.drivers.Names())
}

func TestConcurrentLoadOpensOnce(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{"libfoo.so": {drivers: []string{"foo"}}})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "", env.modules.Load(env.path("libfoo.so")))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.opener.opens.Load())
}

func TestLoadFailuresAreReported(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"libbad.so":   {err: errors.New("undefined symbol: frob")},
		"libpanic.so": {panics: true},
	})

	msg := env.modules.Load(env.path("libbad.so"))
	assert.Contains(t, msg, "undefined symbol: frob")

	msg = env.modules.Load(env.path("libpanic.so"))
	assert.Contains(t, msg, "panicked")

	result, ok := env.modules.LoadResult(env.path("libbad.so"))
	assert.True(t, ok)
	assert.NotEmpty(t, result)
	assert.Empty(t, env.modules.Records())
}

func TestModuleVersionAndInfo(t *testing.T) {
	version := "2.1.0"
	info := map[string]string{"vendor": "acme"}
	env := newTestEnv(t, map[string]fakeModule{
		"libvar.so":  {symbols: fakeSymbols{SymbolVersion: &version, SymbolInfo: &info}},
		"libfunc.so": {symbols: fakeSymbols{SymbolVersion: func() string { return "3.0" }}},
		"libnone.so": {},
	})

	for _, name := range []string{"libvar.so", "libfunc.so", "libnone.so"} {
		require.Equal(t, "", env.modules.Load(env.path(name)))
	}

	assert.Equal(t, "2.1.0", env.modules.ModuleVersion(env.path("libvar.so")))
	assert.Equal(t, "3.0", env.modules.ModuleVersion(env.path("libfunc.so")))
	assert.Equal(t, "", env.modules.ModuleVersion(env.path("libnone.so")))
	assert.Equal(t, "", env.modules.ModuleVersion(env.path("missing.so")))

	records := env.modules.Records()
	require.Len(t, records, 3)
	assert.Equal(t, env.path("libfunc.so"), records[0].Path, "records sorted by path")
	assert.Equal(t, core.Kwargs{"vendor": "acme"}, records[2].Info)
}

func TestUnloadRemovesRegistrations(t *testing.T) {
	unloaded := false
	env := newTestEnv(t, map[string]fakeModule{
		"libfoo.so": {
			drivers:    []string{"foo", "foo2"},
			converters: [][2]string{{"CS12", "CF32"}},
			symbols:    fakeSymbols{SymbolUnload: func() { unloaded = true }},
		},
		"libbar.so": {drivers: []string{"bar"}},
	})

	require.Equal(t, "", env.modules.Load(env.path("libfoo.so")))
	require.Equal(t, "", env.modules.Load(env.path("libbar.so")))
	assert.Equal(t, []string{"CF32"}, env.converters.ListTargetFormats("CS12"))

	assert.Equal(t, "", env.modules.Unload(env.path("libfoo.so")))
	assert.True(t, unloaded)
	assert.Equal(t, []string{"bar"}, env.drivers.Names())
	assert.Empty(t, env.converters.ListTargetFormats("CS12"))

	// a second load after unload opens the file again
	assert.Equal(t, "", env.modules.Load(env.path("libfoo.so")))
	assert.Equal(t, int32(3), env.opener.opens.Load())
}

func TestReloadRestoresRegistrations(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"libfoo.so": {
			drivers:    []string{"foo"},
			converters: [][2]string{{"CS12", "CF32"}},
			initOnce:   true,
		},
	})
	path := env.path("libfoo.so")

	require.Equal(t, "", env.modules.Load(path))
	require.Equal(t, "", env.modules.Unload(path))
	require.Empty(t, env.drivers.Names())

	assert.Equal(t, "", env.modules.Load(path))
	assert.Equal(t, []string{"foo"}, env.drivers.Names())
	assert.Equal(t, []string{"CF32"}, env.converters.ListTargetFormats("CS12"))

	records := env.modules.Records()
	require.Len(t, records, 1)
	assert.Equal(t, []string{"foo"}, records[0].Drivers)
	require.Len(t, records[0].Converters, 1)

	// the restored registrations unload like the originals
	require.Equal(t, "", env.modules.Unload(path))
	assert.Empty(t, env.drivers.Names())
	assert.Empty(t, env.converters.ListTargetFormats("CS12"))
	assert.Equal(t, "", env.modules.Load(path))
	assert.Equal(t, []string{"foo"}, env.drivers.Names())
}

func TestReloadFailsWhenKeyWasTaken(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"libfoo.so": {drivers: []string{"foo"}, converters: [][2]string{{"CS12", "CF32"}}, initOnce: true},
		"libdup.so": {drivers: []string{"foo"}},
	})
	path := env.path("libfoo.so")

	require.Equal(t, "", env.modules.Load(path))
	require.Equal(t, "", env.modules.Unload(path))
	require.Equal(t, "", env.modules.Load(env.path("libdup.so")))

	msg := env.modules.Load(path)
	assert.Contains(t, msg, "cannot be reloaded")
	assert.Empty(t, env.converters.ListTargetFormats("CS12"), "partial restore is rolled back")
	assert.Equal(t, []string{"foo"}, env.drivers.Names())
}

func TestUnloadNeverLoaded(t *testing.T) {
	env := newTestEnv(t, nil)
	msg := env.modules.Unload("/nowhere/libx.so")
	assert.True(t, strings.HasSuffix(msg, NeverLoaded), msg)
}

func TestAutoLoad(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"liba.so": {drivers: []string{"a"}},
		"libb.so": {drivers: []string{"b"}},
		"libc.so": {err: errors.New("broken")},
	})

	env.modules.AutoLoad()
	env.modules.AutoLoad()

	assert.ElementsMatch(t, []string{"a", "b"}, env.drivers.Names())
	assert.Equal(t, int32(3), env.opener.opens.Load(), "auto load runs once")
}

func TestManualLoadSuppressesAutoLoad(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"liba.so": {drivers: []string{"a"}},
		"libb.so": {drivers: []string{"b"}},
	})

	require.Equal(t, "", env.modules.Load(env.path("liba.so")))
	env.modules.AutoLoad()

	assert.Equal(t, []string{"a"}, env.drivers.Names())
}

func TestLoadAllReturnsFailures(t *testing.T) {
	env := newTestEnv(t, map[string]fakeModule{
		"liba.so": {},
		"libc.so": {err: errors.New("broken")},
	})

	failures := env.modules.LoadAll()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[env.path("libc.so")], "broken")
}

type memRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *memRecorder) RecordModuleEvent(path, action, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, filepath.Base(path)+":"+action)
	return nil
}

func TestRecorderReceivesEvents(t *testing.T) {
	rec := &memRecorder{}
	env := newTestEnv(t, map[string]fakeModule{"liba.so": {}}, WithRecorder(rec))

	env.modules.Load(env.path("liba.so"))
	env.modules.Unload(env.path("liba.so"))

	assert.Equal(t, []string{"liba.so:load", "liba.so:unload"}, rec.events)
}

func TestSplitPathList(t *testing.T) {
	sep := string(os.PathListSeparator)
	assert.Equal(t, []string{"/a", "/b"}, SplitPathList("/a"+sep+sep+" /b "))
	assert.Empty(t, SplitPathList(""))
}

func TestModulesImplementsLoader(t *testing.T) {
	var _ Loader = New(core.NewRegistry(), convert.NewRegistry())
}
