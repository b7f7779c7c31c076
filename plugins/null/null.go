// ABOUTME: Built-in null driver used to exercise the factory without hardware.
// ABOUTME: It is only discovered when the filter carries type=null.

package null

import (
	"log/slog"

	"github.com/2389/sdrhub/plugins/core"
)

func init() {
	core.Register(core.NullDriver, Find, Make, core.ABIVersion)
}

// Driver returns the null driver for registration into a non-default registry.
func Driver() core.Driver {
	return core.Driver{Key: core.NullDriver, Find: Find, Make: Make, ABI: core.ABIVersion}
}

// Find reports a single null device when args has type=null, nothing otherwise.
func Find(args core.Kwargs) ([]core.Kwargs, error) {
	if args["type"] != core.NullDriver {
		return nil, nil
	}
	return []core.Kwargs{{"type": core.NullDriver}}, nil
}

func Make(args core.Kwargs) (core.Device, error) {
	slog.Debug("null device constructed", "args", args.String())
	return &Device{args: args.Clone()}, nil
}

// Device implements no capabilities beyond the base contract. It carries its
// construction args so that every Make yields a distinct pointer.
type Device struct {
	args core.Kwargs
}

func (d *Device) DriverKey() string         { return core.NullDriver }
func (d *Device) HardwareKey() string       { return core.NullDriver }
func (d *Device) HardwareInfo() core.Kwargs { return core.Kwargs{} }
func (d *Device) Close() error              { return nil }
