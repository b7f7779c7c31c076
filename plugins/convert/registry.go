// ABOUTME: Converter registry keyed by source format, target format and priority.
// ABOUTME: Lookups return the highest-priority function; exact duplicates are rejected.

package convert

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
)

var (
	ErrDuplicateConverter = errors.New("converter already registered")
	ErrConverterNotFound  = errors.New("converter not found")
)

// Priority orders competing implementations of the same conversion.
type Priority int

const (
	Generic    Priority = 0
	Vectorized Priority = 3
	Custom     Priority = 5
)

func (p Priority) String() string {
	switch p {
	case Generic:
		return "generic"
	case Vectorized:
		return "vectorized"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Func converts numElems elements from src into dst, multiplying by scale.
// Both buffers must hold at least numElems elements of their format.
type Func func(src, dst []byte, numElems int, scale float64)

// Entry is one registered conversion. It doubles as the handle for Unregister.
type Entry struct {
	Source   string
	Target   string
	Priority Priority
	Fn       Func
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]map[Priority]*Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[string]map[Priority]*Entry)}
}

// Register adds fn for the exact (src, dst, prio) triple. A triple that is
// already taken fails with ErrDuplicateConverter and the first function stays.
func (r *Registry) Register(src, dst string, prio Priority, fn Func) (*Entry, error) {
	if fn == nil {
		return nil, fmt.Errorf("converter %s->%s: nil function", src, dst)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	targets, ok := r.entries[src]
	if !ok {
		targets = make(map[string]map[Priority]*Entry)
		r.entries[src] = targets
	}
	tiers, ok := targets[dst]
	if !ok {
		tiers = make(map[Priority]*Entry)
		targets[dst] = tiers
	}
	if _, exists := tiers[prio]; exists {
		return nil, fmt.Errorf("%w: %s->%s at %s", ErrDuplicateConverter, src, dst, prio)
	}

	e := &Entry{Source: src, Target: dst, Priority: prio, Fn: fn}
	tiers[prio] = e
	return e, nil
}

// Unregister removes exactly e. It reports false when e is not (or no longer) registered.
func (r *Registry) Unregister(e *Entry) bool {
	if e == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tiers := r.entries[e.Source][e.Target]
	if tiers[e.Priority] != e {
		return false
	}
	delete(tiers, e.Priority)
	if len(tiers) == 0 {
		delete(r.entries[e.Source], e.Target)
	}
	if len(r.entries[e.Source]) == 0 {
		delete(r.entries, e.Source)
	}
	return true
}

// ListTargetFormats returns the sorted formats src can be converted into.
func (r *Registry) ListTargetFormats(src string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries[src]))
}

// ListSourceFormats returns the sorted formats that can be converted into dst.
func (r *Registry) ListSourceFormats(dst string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sources []string
	for src, targets := range r.entries {
		if _, ok := targets[dst]; ok {
			sources = append(sources, src)
		}
	}
	slices.Sort(sources)
	return sources
}

// ListAvailableSourceFormats returns every format with at least one conversion.
func (r *Registry) ListAvailableSourceFormats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// ListPriorities returns the registered tiers for src->dst in ascending order.
func (r *Registry) ListPriorities(src, dst string) []Priority {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries[src][dst]))
}

// Function returns the highest-priority conversion from src to dst.
func (r *Registry) Function(src, dst string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tiers := r.entries[src][dst]
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: %s->%s", ErrConverterNotFound, src, dst)
	}
	best := slices.Max(slices.Collect(maps.Keys(tiers)))
	return tiers[best].Fn, nil
}

// FunctionAt returns the conversion registered at exactly prio.
func (r *Registry) FunctionAt(src, dst string, prio Priority) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[src][dst][prio]
	if !ok {
		return nil, fmt.Errorf("%w: %s->%s at %s", ErrConverterNotFound, src, dst, prio)
	}
	return e.Fn, nil
}

// Entries returns a snapshot of every registered conversion.
func (r *Registry) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Entry
	for _, targets := range r.entries {
		for _, tiers := range targets {
			for _, e := range tiers {
				out = append(out, e)
			}
		}
	}
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, seeded with the generic
// converters on first use.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
		if err := RegisterDefaults(defaultRegistry); err != nil {
			panic(err)
		}
	})
	return defaultRegistry
}
