// ABOUTME: Driver registry mapping driver keys to their find and make functions.
// ABOUTME: Drivers register themselves in init() functions, either built in or from loaded modules.

package core

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

var (
	ErrDuplicateDriver = errors.New("driver already registered")
	ErrInvalidDriver   = errors.New("invalid driver")
	ErrABIMismatch     = errors.New("driver ABI mismatch")
)

// NullDriver is the key of the built-in test driver. It is only chosen for
// construction when named explicitly.
const NullDriver = "null"

// FindFunc probes for devices matching a filter. It may block on hardware I/O.
type FindFunc func(args Kwargs) ([]Kwargs, error)

// MakeFunc constructs a device from fully resolved arguments.
type MakeFunc func(args Kwargs) (Device, error)

// Driver is one registry entry.
type Driver struct {
	Key  string
	Find FindFunc
	Make MakeFunc
	ABI  string
}

// Compatible reports whether the driver's ABI matches the host.
func (d Driver) Compatible() bool {
	return ABICompatible(d.ABI)
}

// CheckABI returns ErrABIMismatch wrapped with both versions when the driver
// cannot be used by this host.
func (d Driver) CheckABI() error {
	if d.Compatible() {
		return nil
	}
	return fmt.Errorf("%w: %q built for %s, host is %s", ErrABIMismatch, d.Key, d.ABI, ABIVersion)
}

// Registry holds drivers in registration order. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Add registers a driver. A key that is already present is rejected with
// ErrDuplicateDriver and the existing entry is kept.
func (r *Registry) Add(d Driver) error {
	if d.Key == "" || d.Find == nil || d.Make == nil {
		return fmt.Errorf("%w: key, find and make are required", ErrInvalidDriver)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[d.Key]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateDriver, d.Key)
	}
	r.drivers[d.Key] = d
	r.order = append(r.order, d.Key)
	return nil
}

// Remove deletes a driver and reports whether it was present.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.drivers[key]; !exists {
		return false
	}
	delete(r.drivers, key)
	r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == key })
	return true
}

// Get retrieves a driver by key
func (r *Registry) Get(key string) (Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[key]
	return d, ok
}

// Drivers returns a snapshot of all drivers in registration order.
func (r *Registry) Drivers() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]Driver, 0, len(r.order))
	for _, key := range r.order {
		drivers = append(drivers, r.drivers[key])
	}
	return drivers
}

// Names returns all registered driver keys in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry that built-in drivers and loaded
// modules populate.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Register adds a driver to the default registry. Rejections are logged rather
// than raised because it runs from init() of loaded modules, where a panic would
// abort the whole host.
func Register(key string, find FindFunc, make MakeFunc, abi string) {
	d := Driver{Key: key, Find: find, Make: make, ABI: abi}
	if err := Default().Add(d); err != nil {
		slog.Error("driver registration rejected", "driver", key, "error", err)
		return
	}
	if !d.Compatible() {
		slog.Warn("driver registered with incompatible ABI", "driver", key, "abi", abi, "host_abi", ABIVersion)
	}
}
