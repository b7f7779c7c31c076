// ABOUTME: Device handle contract returned by driver constructors.
// ABOUTME: Optional hardware features are separate capability interfaces queried by type assertion.

package core

// Direction selects the transmit or receive side of a channel.
type Direction int

const (
	TX Direction = iota
	RX
)

func (d Direction) String() string {
	if d == TX {
		return "TX"
	}
	return "RX"
}

// Range is a closed numeric interval with an optional step (0 means continuous).
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// Contains reports whether v lies within the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Device is the minimal surface every driver-built handle provides.
// Close releases the hardware; the factory calls it exactly once, when the last
// reference is released.
type Device interface {
	DriverKey() string
	HardwareKey() string
	HardwareInfo() Kwargs
	Close() error
}

// ChannelCounter reports how many channels a device exposes per direction.
type ChannelCounter interface {
	NumChannels(dir Direction) int
}

type GainController interface {
	GainRange(dir Direction, channel int) Range
	SetGain(dir Direction, channel int, db float64) error
	Gain(dir Direction, channel int) (float64, error)
}

type FrequencyTuner interface {
	FrequencyRange(dir Direction, channel int) []Range
	SetFrequency(dir Direction, channel int, hz float64, args Kwargs) error
	Frequency(dir Direction, channel int) (float64, error)
}

type AntennaSelector interface {
	Antennas(dir Direction, channel int) []string
	SelectAntenna(dir Direction, channel int, name string) error
	Antenna(dir Direction, channel int) (string, error)
}

type ClockSource interface {
	ClockSources() []string
	SetClockSource(name string) error
	ClockSource() string
}

type SensorReader interface {
	Sensors() []string
	ReadSensor(name string) (string, error)
}

// StreamFormatter lists the sample formats a channel can stream and the native
// one together with its full-scale value.
type StreamFormatter interface {
	StreamFormats(dir Direction, channel int) []string
	NativeStreamFormat(dir Direction, channel int) (format string, fullScale float64)
}

// Capabilities names the optional interfaces d implements.
func Capabilities(d Device) []string {
	var caps []string
	if _, ok := d.(ChannelCounter); ok {
		caps = append(caps, "channels")
	}
	if _, ok := d.(GainController); ok {
		caps = append(caps, "gain")
	}
	if _, ok := d.(FrequencyTuner); ok {
		caps = append(caps, "frequency")
	}
	if _, ok := d.(AntennaSelector); ok {
		caps = append(caps, "antenna")
	}
	if _, ok := d.(ClockSource); ok {
		caps = append(caps, "clock")
	}
	if _, ok := d.(SensorReader); ok {
		caps = append(caps, "sensors")
	}
	if _, ok := d.(StreamFormatter); ok {
		caps = append(caps, "stream")
	}
	return caps
}
