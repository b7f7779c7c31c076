// ABOUTME: Stress tests for concurrent enumeration, device sharing, history writes and converter lookups.
// ABOUTME: Tests race conditions, deadlocks, and thread safety under heavy load.

package stress

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/2389/sdrhub/internal/factory"
	"github.com/2389/sdrhub/internal/store"
	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

// countingDevice records how often it was closed
type countingDevice struct {
	serial string
	closes *int32
}

func (d *countingDevice) DriverKey() string         { return "stress" }
func (d *countingDevice) HardwareKey() string       { return "stress-v1" }
func (d *countingDevice) HardwareInfo() core.Kwargs { return core.Kwargs{"serial": d.serial} }
func (d *countingDevice) Close() error {
	atomic.AddInt32(d.closes, 1)
	return nil
}

// countingDriver reports a fixed set of serials and counts calls into it
type countingDriver struct {
	serials []string
	delay   time.Duration
	finds   int32
	makes   int32
	closes  int32
}

func (c *countingDriver) driver() core.Driver {
	return core.Driver{
		Key: "stress",
		Find: func(args core.Kwargs) ([]core.Kwargs, error) {
			atomic.AddInt32(&c.finds, 1)
			time.Sleep(c.delay)
			var out []core.Kwargs
			for _, s := range c.serials {
				if want, ok := args["serial"]; ok && want != s {
					continue
				}
				out = append(out, core.Kwargs{"serial": s})
			}
			return out, nil
		},
		Make: func(args core.Kwargs) (core.Device, error) {
			atomic.AddInt32(&c.makes, 1)
			time.Sleep(c.delay)
			return &countingDevice{serial: args["serial"], closes: &c.closes}, nil
		},
		ABI: core.ABIVersion,
	}
}

func newFactory(t testing.TB, c *countingDriver, opts ...factory.Option) *factory.Factory {
	t.Helper()
	drivers := core.NewRegistry()
	if err := drivers.Add(c.driver()); err != nil {
		t.Fatalf("Failed to register driver: %v", err)
	}
	opts = append([]factory.Option{factory.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return factory.New(drivers, opts...)
}

// TestConcurrentEnumerateSharesProbe tests that simultaneous identical enumerations run one probe
func TestConcurrentEnumerateSharesProbe(t *testing.T) {
	c := &countingDriver{serials: []string{"A", "B"}, delay: 20 * time.Millisecond}
	f := newFactory(t, c, factory.WithTTL(time.Minute))

	numGoroutines := 50
	var wg sync.WaitGroup
	var wrongCount int32

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if len(f.Enumerate(core.Kwargs{})) != 2 {
				atomic.AddInt32(&wrongCount, 1)
			}
		}()
	}
	wg.Wait()

	if wrongCount > 0 {
		t.Errorf("Expected every enumeration to see 2 devices, %d did not", wrongCount)
	}
	if finds := atomic.LoadInt32(&c.finds); finds != 1 {
		t.Errorf("Expected 1 probe, got %d", finds)
	}
}

// TestConcurrentMakeUnmake tests that parallel makes of the same device share one instance
func TestConcurrentMakeUnmake(t *testing.T) {
	c := &countingDriver{serials: []string{"A", "B", "C", "D"}, delay: time.Millisecond}
	f := newFactory(t, c)

	numGoroutines := 40
	iterations := 25
	var wg sync.WaitGroup
	var errorCount int32

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			args := core.Kwargs{"serial": c.serials[id%len(c.serials)]}
			for j := 0; j < iterations; j++ {
				dev, err := f.Make(args)
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					t.Logf("Make error: %v", err)
					continue
				}
				if got := dev.HardwareInfo()["serial"]; got != args["serial"] {
					atomic.AddInt32(&errorCount, 1)
					t.Logf("Expected serial %s, got %s", args["serial"], got)
				}
				if err := f.Unmake(dev); err != nil {
					atomic.AddInt32(&errorCount, 1)
					t.Logf("Unmake error: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	if errorCount > 0 {
		t.Errorf("Expected 0 errors, got %d", errorCount)
	}
	if open := f.Open(); len(open) != 0 {
		t.Errorf("Expected no open devices, got %d", len(open))
	}
	makes, closes := atomic.LoadInt32(&c.makes), atomic.LoadInt32(&c.closes)
	if makes != closes {
		t.Errorf("Expected every made device to be closed once, made %d closed %d", makes, closes)
	}
}

// TestConcurrentSharedReferences tests refcounts when many holders overlap
func TestConcurrentSharedReferences(t *testing.T) {
	c := &countingDriver{serials: []string{"A"}, delay: 5 * time.Millisecond}
	f := newFactory(t, c)

	numGoroutines := 30
	devices := make([]core.Device, numGoroutines)
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			dev, err := f.Make(core.Kwargs{"serial": "A"})
			if err != nil {
				t.Errorf("Make error: %v", err)
				return
			}
			devices[id] = dev
		}(i)
	}
	wg.Wait()

	if makes := atomic.LoadInt32(&c.makes); makes != 1 {
		t.Errorf("Expected 1 construction, got %d", makes)
	}
	if refs := f.RefCount(devices[0]); refs != numGoroutines {
		t.Errorf("Expected %d references, got %d", numGoroutines, refs)
	}

	if err := f.UnmakeMany(devices); err != nil {
		t.Fatalf("UnmakeMany error: %v", err)
	}
	if closes := atomic.LoadInt32(&c.closes); closes != 1 {
		t.Errorf("Expected 1 close, got %d", closes)
	}
}

// TestMakeManyBoundedParallelism tests MakeMany under a parallelism limit
func TestMakeManyBoundedParallelism(t *testing.T) {
	serials := make([]string, 16)
	for i := range serials {
		serials[i] = fmt.Sprintf("S%02d", i)
	}
	c := &countingDriver{serials: serials, delay: 2 * time.Millisecond}
	f := newFactory(t, c, factory.WithParallelism(4))

	list := make([]core.Kwargs, len(serials))
	for i, s := range serials {
		list[i] = core.Kwargs{"serial": s}
	}

	devices, err := f.MakeMany(list)
	if err != nil {
		t.Fatalf("MakeMany error: %v", err)
	}
	for i, dev := range devices {
		if got := dev.HardwareInfo()["serial"]; got != serials[i] {
			t.Errorf("Device %d: expected serial %s, got %s", i, serials[i], got)
		}
	}
	if open := f.Open(); len(open) != len(serials) {
		t.Errorf("Expected %d open devices, got %d", len(serials), len(open))
	}

	if err := f.UnmakeMany(devices); err != nil {
		t.Fatalf("UnmakeMany error: %v", err)
	}
	if closes := atomic.LoadInt32(&c.closes); int(closes) != len(serials) {
		t.Errorf("Expected %d closes, got %d", len(serials), closes)
	}
}

// TestConcurrentProbeRecording tests the history store as a recorder under parallel probes
func TestConcurrentProbeRecording(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "stress.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	c := &countingDriver{serials: []string{"A"}}
	f := newFactory(t, c, factory.WithRecorder(s), factory.WithTTL(time.Minute))

	numGoroutines := 20
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// distinct filters defeat the cache so every call probes
			f.Enumerate(core.Kwargs{"tag": fmt.Sprintf("t%d", id)})
		}(i)
	}
	wg.Wait()

	logs, err := s.GetProbeLogs(&store.ProbeLogQuery{Limit: 1000})
	if err != nil {
		t.Fatalf("Failed to retrieve logs: %v", err)
	}
	if len(logs) != numGoroutines {
		t.Errorf("Expected %d probe logs, got %d", numGoroutines, len(logs))
	}
}

// TestConverterRegistryConcurrentAccess tests lookups racing registrations
func TestConverterRegistryConcurrentAccess(t *testing.T) {
	r := convert.NewRegistry()
	if err := convert.RegisterDefaults(r); err != nil {
		t.Fatalf("RegisterDefaults error: %v", err)
	}
	noop := func(src, dst []byte, n int, scale float64) {}

	numGoroutines := 20
	var wg sync.WaitGroup
	var errorCount int32

	for i := 0; i < numGoroutines; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			prio := convert.Priority(10 + id)
			for j := 0; j < 50; j++ {
				e, err := r.Register(convert.CS16, convert.CF32, prio, noop)
				if err != nil {
					atomic.AddInt32(&errorCount, 1)
					continue
				}
				r.Unregister(e)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if _, err := r.Function(convert.CS16, convert.CF32); err != nil {
					atomic.AddInt32(&errorCount, 1)
				}
				r.ListTargetFormats(convert.CS16)
			}
		}()
	}
	wg.Wait()

	if errorCount > 0 {
		t.Errorf("Expected 0 errors, got %d", errorCount)
	}
	if prios := r.ListPriorities(convert.CS16, convert.CF32); len(prios) != 1 || prios[0] != convert.Generic {
		t.Errorf("Expected only the generic converter to remain, got %v", prios)
	}
}

// TestDeadlockPrevention mixes every factory operation and fails if they stall
func TestDeadlockPrevention(t *testing.T) {
	c := &countingDriver{serials: []string{"A", "B"}, delay: time.Millisecond}
	f := newFactory(t, c, factory.WithTTL(5*time.Millisecond))

	done := make(chan struct{})
	timeout := time.AfterFunc(10*time.Second, func() {
		panic("deadlock detected: factory operations did not finish")
	})
	defer timeout.Stop()

	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					switch (id + j) % 3 {
					case 0:
						f.Enumerate(core.Kwargs{})
					case 1:
						if dev, err := f.Make(core.Kwargs{"serial": c.serials[j%2]}); err == nil {
							f.Open()
							f.Unmake(dev)
						}
					default:
						f.Open()
					}
				}
			}(i)
		}
		wg.Wait()
	}()

	<-done
	if open := f.Open(); len(open) != 0 {
		t.Errorf("Expected no open devices, got %d", len(open))
	}
}

// BenchmarkConcurrentMake measures shared-device acquisition under contention
func BenchmarkConcurrentMake(b *testing.B) {
	c := &countingDriver{serials: []string{"A"}}
	f := newFactory(b, c)
	hold, err := f.Make(core.Kwargs{"serial": "A"})
	if err != nil {
		b.Fatalf("Make error: %v", err)
	}
	defer f.Unmake(hold)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			dev, err := f.Make(core.Kwargs{"serial": "A"})
			if err != nil {
				b.Errorf("Make error: %v", err)
				return
			}
			f.Unmake(dev)
		}
	})
}

// BenchmarkCachedEnumerate measures enumeration served from the cache
func BenchmarkCachedEnumerate(b *testing.B) {
	c := &countingDriver{serials: []string{"A", "B", "C"}}
	f := newFactory(b, c, factory.WithTTL(time.Hour))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			f.Enumerate(core.Kwargs{})
		}
	})
}
