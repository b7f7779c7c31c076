// ABOUTME: Device factory: cached asynchronous enumeration and reference-counted construction.
// ABOUTME: Devices are shared per discovered argument set and closed when the last user releases them.

package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/2389/sdrhub/plugins/core"
)

var (
	ErrNoMatch       = errors.New("no driver matched the arguments")
	ErrUnknownDevice = errors.New("device not made by this factory")
	ErrNilDevice     = errors.New("driver returned no device")
)

// DefaultTTL is how long an enumeration result is reused.
const DefaultTTL = time.Second

// AutoLoader performs the one-shot bulk module load before first use.
type AutoLoader interface {
	AutoLoad()
}

type cacheKey struct {
	driver string
	args   string
}

type cacheEntry struct {
	expires time.Time
	probe   *probe
}

// deviceEntry is one device table slot. While device is nil the entry is
// pending and ready is open; while closing is set, closed is open.
type deviceEntry struct {
	id      string
	device  core.Device
	args    core.Kwargs
	keys    []string
	refs    int
	created time.Time
	ready   chan struct{}
	closing bool
	closed  chan struct{}
}

// Factory must be created with New. The cache lock and the table lock are
// never held at the same time.
type Factory struct {
	drivers     *core.Registry
	loader      AutoLoader
	ttl         time.Duration
	now         func() time.Time
	logger      *slog.Logger
	recorder    ProbeRecorder
	parallelism int

	cacheMu sync.Mutex
	cache   map[cacheKey]*cacheEntry

	tableMu sync.Mutex
	table   map[string]*deviceEntry
	handles map[core.Device]*deviceEntry
}

type Option func(*Factory)

// WithTTL sets how long enumeration results are cached.
func WithTTL(ttl time.Duration) Option {
	return func(f *Factory) { f.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// WithLoader triggers loader.AutoLoad before the first enumeration.
func WithLoader(l AutoLoader) Option {
	return func(f *Factory) { f.loader = l }
}

func WithRecorder(r ProbeRecorder) Option {
	return func(f *Factory) { f.recorder = r }
}

// WithParallelism bounds concurrent constructions in MakeMany and UnmakeMany.
// Zero or less means unbounded.
func WithParallelism(n int) Option {
	return func(f *Factory) { f.parallelism = n }
}

func New(drivers *core.Registry, opts ...Option) *Factory {
	f := &Factory{
		drivers: drivers,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
		cache:   make(map[cacheKey]*cacheEntry),
		table:   make(map[string]*deviceEntry),
		handles: make(map[core.Device]*deviceEntry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enumerate probes every registered driver, or only the one named by
// args["driver"], and concatenates the results in registry order. Each result
// is annotated with the driver key. Failing probes are logged and skipped.
func (f *Factory) Enumerate(args core.Kwargs) []core.Kwargs {
	if f.loader != nil {
		f.loader.AutoLoad()
	}

	type job struct {
		driver string
		probe  *probe
	}

	filter := args.String()
	want, pinned := args[core.KeyDriver]
	now := f.now()

	var jobs []job
	f.cacheMu.Lock()
	for k, e := range f.cache {
		if !now.Before(e.expires) {
			delete(f.cache, k)
		}
	}
	for _, d := range f.drivers.Drivers() {
		if pinned && d.Key != want {
			continue
		}
		if err := d.CheckABI(); err != nil {
			f.logger.Warn("skipping driver", "driver", d.Key, "error", err)
			continue
		}
		key := cacheKey{driver: d.Key, args: filter}
		e, ok := f.cache[key]
		if !ok {
			e = &cacheEntry{expires: now.Add(f.ttl), probe: newProbe(d.Key, d.Find, args)}
			// a probe scoped to one driver runs in the first waiter instead
			if !pinned {
				e.probe.start(f.probeDone)
			}
			f.cache[key] = e
		}
		jobs = append(jobs, job{driver: d.Key, probe: e.probe})
	}
	f.cacheMu.Unlock()

	results := make([]core.Kwargs, 0)
	for _, j := range jobs {
		found, err := j.probe.wait(f.probeDone)
		if err != nil {
			f.logger.Error("driver probe failed", "driver", j.driver, "args", filter, "error", err)
			continue
		}
		for _, r := range found {
			annotated := r.Clone()
			annotated[core.KeyDriver] = j.driver
			results = append(results, annotated)
		}
	}
	return results
}

// EnumerateString is Enumerate for key=value markup.
func (f *Factory) EnumerateString(markup string) []core.Kwargs {
	return f.Enumerate(core.ParseKwargs(markup))
}

func (f *Factory) probeDone(p *probe) {
	f.logger.Debug("driver probe finished", "driver", p.driver, "results", len(p.results), "elapsed", p.elapsed, "error", p.err)
	if f.recorder == nil {
		return
	}
	rec := ProbeRecord{
		Driver:   p.driver,
		Args:     p.args.String(),
		Results:  len(p.results),
		Duration: p.elapsed,
		Err:      p.err,
	}
	if err := f.recorder.RecordProbe(rec); err != nil {
		f.logger.Warn("failed to record probe", "driver", p.driver, "error", err)
	}
}

// Make returns a device for args, sharing an existing one when the same
// discovered arguments were already made.
func (f *Factory) Make(args core.Kwargs) (core.Device, error) {
	if dev, ok := f.acquire(args); ok {
		return dev, nil
	}

	var discovered core.Kwargs
	if results := f.Enumerate(args); len(results) > 0 {
		discovered = results[0]
	}
	if len(discovered) > 0 {
		if dev, ok := f.acquire(discovered); ok {
			return dev, nil
		}
	}

	hybrid := discovered.Merge(args)
	key := discovered
	if len(key) == 0 {
		key = hybrid
	}

	d, err := f.selectDriver(hybrid)
	if err != nil {
		return nil, err
	}
	if err := d.CheckABI(); err != nil {
		return nil, err
	}
	return f.construct(key, d, hybrid)
}

// MakeString is Make for key=value markup.
func (f *Factory) MakeString(markup string) (core.Device, error) {
	return f.Make(core.ParseKwargs(markup))
}

// selectDriver picks the driver named in args, or else the first registered
// driver other than the null driver.
func (f *Factory) selectDriver(args core.Kwargs) (core.Driver, error) {
	want, pinned := args[core.KeyDriver]
	for _, d := range f.drivers.Drivers() {
		if pinned {
			if d.Key == want {
				return d, nil
			}
			continue
		}
		if d.Key != core.NullDriver {
			return d, nil
		}
	}
	return core.Driver{}, fmt.Errorf("%w: %s", ErrNoMatch, args)
}

// acquire bumps the reference count of the device stored under args. It waits
// out pending constructions and in-flight closes before deciding.
func (f *Factory) acquire(args core.Kwargs) (core.Device, bool) {
	k := args.String()
	for {
		f.tableMu.Lock()
		e, ok := f.table[k]
		switch {
		case !ok:
			f.tableMu.Unlock()
			return nil, false
		case e.closing:
			wait := e.closed
			f.tableMu.Unlock()
			<-wait
		case e.device == nil:
			wait := e.ready
			f.tableMu.Unlock()
			<-wait
		default:
			e.refs++
			dev := e.device
			f.tableMu.Unlock()
			return dev, true
		}
	}
}

// construct builds a device under key unless another caller gets there first.
// The driver runs without any lock held.
func (f *Factory) construct(key core.Kwargs, d core.Driver, args core.Kwargs) (core.Device, error) {
	k := key.String()
	for {
		if dev, ok := f.acquire(key); ok {
			return dev, nil
		}

		f.tableMu.Lock()
		if _, taken := f.table[k]; taken {
			f.tableMu.Unlock()
			continue
		}
		e := &deviceEntry{args: key.Clone(), keys: []string{k}, ready: make(chan struct{})}
		f.table[k] = e
		f.tableMu.Unlock()

		dev, err := callMake(d, args)

		f.tableMu.Lock()
		if err != nil {
			delete(f.table, k)
			close(e.ready)
			f.tableMu.Unlock()
			return nil, fmt.Errorf("make %s device: %w", d.Key, err)
		}
		if existing, ok := f.handles[dev]; ok {
			// the driver handed back a device it already gave us under other args
			existing.refs++
			existing.keys = append(existing.keys, k)
			f.table[k] = existing
			close(e.ready)
			f.tableMu.Unlock()
			return dev, nil
		}
		e.id = uuid.NewString()
		e.device = dev
		e.refs = 1
		e.created = f.now()
		f.handles[dev] = e
		close(e.ready)
		f.tableMu.Unlock()

		f.logger.Info("device made", "driver", d.Key, "args", k, "id", e.id)
		return dev, nil
	}
}

func callMake(d core.Driver, args core.Kwargs) (dev core.Device, err error) {
	defer func() {
		if r := recover(); r != nil {
			dev, err = nil, fmt.Errorf("driver panicked: %v", r)
		}
	}()
	dev, err = d.Make(args.Clone())
	if err != nil {
		return nil, err
	}
	if dev == nil {
		return nil, ErrNilDevice
	}
	if !reflect.TypeOf(dev).Comparable() {
		return nil, fmt.Errorf("device type %T is not comparable", dev)
	}
	return dev, nil
}

// Unmake releases one reference to dev. The last release closes the device
// and removes it from the table. A nil device is ignored.
func (f *Factory) Unmake(dev core.Device) error {
	if dev == nil {
		return nil
	}
	if !reflect.TypeOf(dev).Comparable() {
		return fmt.Errorf("%w: %T", ErrUnknownDevice, dev)
	}

	f.tableMu.Lock()
	e, ok := f.handles[dev]
	if !ok {
		f.tableMu.Unlock()
		return fmt.Errorf("%w: %T", ErrUnknownDevice, dev)
	}
	e.refs--
	if e.refs > 0 {
		f.tableMu.Unlock()
		return nil
	}
	delete(f.handles, dev)
	e.closing = true
	e.closed = make(chan struct{})
	f.tableMu.Unlock()

	err := closeDevice(dev)

	f.tableMu.Lock()
	for _, k := range e.keys {
		if f.table[k] == e {
			delete(f.table, k)
		}
	}
	close(e.closed)
	f.tableMu.Unlock()

	if err != nil {
		return fmt.Errorf("close %s device: %w", dev.DriverKey(), err)
	}
	f.logger.Info("device closed", "driver", dev.DriverKey(), "id", e.id)
	return nil
}

func closeDevice(dev core.Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return dev.Close()
}

// MakeMany makes every entry of list in parallel. If any fails, the devices
// already made are released and the first error is returned.
func (f *Factory) MakeMany(list []core.Kwargs) ([]core.Device, error) {
	devices := make([]core.Device, len(list))

	g := f.group()
	for i, args := range list {
		g.Go(func() error {
			dev, err := f.Make(args)
			if err != nil {
				return fmt.Errorf("make %q: %w", args.String(), err)
			}
			devices[i] = dev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var made []core.Device
		for _, dev := range devices {
			if dev != nil {
				made = append(made, dev)
			}
		}
		if uerr := f.UnmakeMany(made); uerr != nil {
			f.logger.Warn("cleanup after failed make", "error", uerr)
		}
		return nil, err
	}
	return devices, nil
}

// UnmakeMany releases every device in parallel and joins the errors.
func (f *Factory) UnmakeMany(devices []core.Device) error {
	errs := make([]error, len(devices))

	g := f.group()
	for i, dev := range devices {
		g.Go(func() error {
			errs[i] = f.Unmake(dev)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (f *Factory) group() *errgroup.Group {
	g := &errgroup.Group{}
	if f.parallelism > 0 {
		g.SetLimit(f.parallelism)
	}
	return g
}

// RefCount returns how many outstanding Make calls hold dev, 0 if none.
func (f *Factory) RefCount(dev core.Device) int {
	if dev == nil || !reflect.TypeOf(dev).Comparable() {
		return 0
	}
	f.tableMu.Lock()
	defer f.tableMu.Unlock()
	if e, ok := f.handles[dev]; ok {
		return e.refs
	}
	return 0
}

// OpenDevice is a snapshot of one live device table entry.
type OpenDevice struct {
	ID       string      `json:"id"`
	Driver   string      `json:"driver"`
	Hardware string      `json:"hardware"`
	Args     core.Kwargs `json:"args"`
	Refs     int         `json:"refs"`
	Created  time.Time   `json:"created"`
}

func snapshot(dev core.Device, e *deviceEntry) OpenDevice {
	return OpenDevice{
		ID:       e.id,
		Driver:   dev.DriverKey(),
		Hardware: dev.HardwareKey(),
		Args:     e.args.Clone(),
		Refs:     e.refs,
		Created:  e.created,
	}
}

// Open lists live devices, oldest first.
func (f *Factory) Open() []OpenDevice {
	f.tableMu.Lock()
	defer f.tableMu.Unlock()

	out := make([]OpenDevice, 0, len(f.handles))
	for dev, e := range f.handles {
		out = append(out, snapshot(dev, e))
	}
	slices.SortFunc(out, func(a, b OpenDevice) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Describe returns the table snapshot for a live device.
func (f *Factory) Describe(dev core.Device) (OpenDevice, bool) {
	if dev == nil || !reflect.TypeOf(dev).Comparable() {
		return OpenDevice{}, false
	}
	f.tableMu.Lock()
	defer f.tableMu.Unlock()
	e, ok := f.handles[dev]
	if !ok {
		return OpenDevice{}, false
	}
	return snapshot(dev, e), true
}

// ByID finds a live device by its table entry id.
func (f *Factory) ByID(id string) (core.Device, bool) {
	f.tableMu.Lock()
	defer f.tableMu.Unlock()
	for dev, e := range f.handles {
		if e.id == id && !e.closing {
			return dev, true
		}
	}
	return nil, false
}
