// ABOUTME: Software loopback driver that simulates a family of tunable radios.
// ABOUTME: Device count comes from SDRHUB_LOOPBACK_COUNT; devices are filtered by serial.

package loopback

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/2389/sdrhub/plugins/convert"
	"github.com/2389/sdrhub/plugins/core"
)

const (
	Key = "loopback"

	// CountEnv sets how many devices Find reports.
	CountEnv = "SDRHUB_LOOPBACK_COUNT"
)

var (
	gainRange = core.Range{Min: 0, Max: 60, Step: 0.5}
	freqRange = core.Range{Min: 1e6, Max: 6e9}
	antennas  = []string{"LOOP", "RX1"}
	clocks    = []string{"internal", "external"}
)

func init() {
	core.Register(Key, Find, Make, core.ABIVersion)
}

// Driver returns the loopback driver for registration into a non-default registry.
func Driver() core.Driver {
	return core.Driver{Key: Key, Find: Find, Make: Make, ABI: core.ABIVersion}
}

func deviceCount() (int, error) {
	raw := os.Getenv(CountEnv)
	if raw == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", CountEnv, raw)
	}
	return n, nil
}

func serialFor(i int) string {
	return fmt.Sprintf("LB%04d", i)
}

// Find lists simulated devices. A type filter other than "loopback" matches
// nothing; a serial filter narrows the list to that device.
func Find(args core.Kwargs) ([]core.Kwargs, error) {
	if t, ok := args["type"]; ok && t != Key {
		return nil, nil
	}
	n, err := deviceCount()
	if err != nil {
		return nil, err
	}

	var results []core.Kwargs
	for i := range n {
		serial := serialFor(i)
		if s, ok := args["serial"]; ok && s != serial {
			continue
		}
		results = append(results, core.Kwargs{
			"type":   Key,
			"serial": serial,
			"label":  fmt.Sprintf("Loopback #%d", i),
		})
	}
	return results, nil
}

// Make builds the device named by args["serial"].
func Make(args core.Kwargs) (core.Device, error) {
	serial, ok := args["serial"]
	if !ok {
		return nil, fmt.Errorf("loopback: serial is required")
	}
	found, err := Find(core.Kwargs{"serial": serial})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("loopback: no device with serial %q", serial)
	}
	slog.Debug("loopback device constructed", "serial", serial)
	return &Device{
		serial:  serial,
		gain:    make(map[core.Direction]float64),
		freq:    map[core.Direction]float64{core.RX: 100e6, core.TX: 100e6},
		antenna: map[core.Direction]string{core.RX: antennas[0], core.TX: antennas[0]},
		clock:   clocks[0],
	}, nil
}

// Device is a single-channel simulated transceiver.
type Device struct {
	mu      sync.Mutex
	serial  string
	gain    map[core.Direction]float64
	freq    map[core.Direction]float64
	antenna map[core.Direction]string
	clock   string
	closed  bool
}

func (d *Device) DriverKey() string   { return Key }
func (d *Device) HardwareKey() string { return "loopback-v1" }

func (d *Device) HardwareInfo() core.Kwargs {
	return core.Kwargs{"serial": d.serial, "firmware": core.LibVersion}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("loopback %s: already closed", d.serial)
	}
	d.closed = true
	return nil
}

// Closed reports whether Close has run.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Device) NumChannels(dir core.Direction) int { return 1 }

func checkChannel(channel int) error {
	if channel != 0 {
		return fmt.Errorf("loopback: no channel %d", channel)
	}
	return nil
}

func (d *Device) GainRange(dir core.Direction, channel int) core.Range { return gainRange }

func (d *Device) SetGain(dir core.Direction, channel int, db float64) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if !gainRange.Contains(db) {
		return fmt.Errorf("loopback: gain %.1f dB out of range", db)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gain[dir] = db
	return nil
}

func (d *Device) Gain(dir core.Direction, channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain[dir], nil
}

func (d *Device) FrequencyRange(dir core.Direction, channel int) []core.Range {
	return []core.Range{freqRange}
}

func (d *Device) SetFrequency(dir core.Direction, channel int, hz float64, args core.Kwargs) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if !freqRange.Contains(hz) {
		return fmt.Errorf("loopback: frequency %.0f Hz out of range", hz)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freq[dir] = hz
	return nil
}

func (d *Device) Frequency(dir core.Direction, channel int) (float64, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq[dir], nil
}

func (d *Device) Antennas(dir core.Direction, channel int) []string { return antennas }

func (d *Device) SelectAntenna(dir core.Direction, channel int, name string) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	for _, a := range antennas {
		if a == name {
			d.mu.Lock()
			d.antenna[dir] = name
			d.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("loopback: unknown antenna %q", name)
}

func (d *Device) Antenna(dir core.Direction, channel int) (string, error) {
	if err := checkChannel(channel); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.antenna[dir], nil
}

func (d *Device) ClockSources() []string { return clocks }

func (d *Device) SetClockSource(name string) error {
	for _, c := range clocks {
		if c == name {
			d.mu.Lock()
			d.clock = name
			d.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("loopback: unknown clock source %q", name)
}

func (d *Device) ClockSource() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock
}

func (d *Device) Sensors() []string { return []string{"lo_locked", "temperature"} }

func (d *Device) ReadSensor(name string) (string, error) {
	switch name {
	case "lo_locked":
		return "true", nil
	case "temperature":
		return "25.0", nil
	}
	return "", fmt.Errorf("loopback: unknown sensor %q", name)
}

func (d *Device) StreamFormats(dir core.Direction, channel int) []string {
	return []string{convert.CS16, convert.CF32}
}

func (d *Device) NativeStreamFormat(dir core.Direction, channel int) (string, float64) {
	return convert.CS16, 32768
}
