// ABOUTME: Shared, memoized driver probe used by the enumeration cache.
// ABOUTME: A probe runs at most once; every waiter observes the same result.

package factory

import (
	"fmt"
	"sync"
	"time"

	"github.com/2389/sdrhub/plugins/core"
)

// ProbeRecord describes one completed driver probe.
type ProbeRecord struct {
	Driver   string
	Args     string
	Results  int
	Duration time.Duration
	Err      error
}

// ProbeRecorder receives a record for every probe that actually ran.
type ProbeRecorder interface {
	RecordProbe(ProbeRecord) error
}

type probe struct {
	driver string
	find   core.FindFunc
	args   core.Kwargs
	once   sync.Once

	results []core.Kwargs
	err     error
	elapsed time.Duration
}

func newProbe(driver string, find core.FindFunc, args core.Kwargs) *probe {
	return &probe{driver: driver, find: find, args: args.Clone()}
}

// start launches the probe in its own goroutine.
func (p *probe) start(done func(*probe)) {
	go p.once.Do(func() { p.run(done) })
}

// wait runs the probe inline if nobody started it, otherwise blocks until it finishes.
func (p *probe) wait(done func(*probe)) ([]core.Kwargs, error) {
	p.once.Do(func() { p.run(done) })
	return p.results, p.err
}

func (p *probe) run(done func(*probe)) {
	began := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.results, p.err = nil, fmt.Errorf("probe panicked: %v", r)
		}
		p.elapsed = time.Since(began)
		if done != nil {
			done(p)
		}
	}()
	p.results, p.err = p.find(p.args.Clone())
}
