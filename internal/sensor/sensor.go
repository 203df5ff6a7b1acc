package sensor

import (
	"sync"

	"github.com/joshp123/gokumo/internal/coordinator"
	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/entity"
	"github.com/joshp123/gokumo/internal/temperature"
)

// Description is the static definition of one sensor type.
type Description struct {
	Key              string
	Suffix           string
	Unit             string
	DeviceClass      string
	EnabledByDefault bool
	// Temperature values are converted to the display unit.
	Temperature bool
	Value       func(device.Status) *float64
}

var (
	OutdoorTemperature = Description{
		Key:              "outdoor-temperature",
		Suffix:           "Outdoor Temperature",
		DeviceClass:      "temperature",
		EnabledByDefault: true,
		Temperature:      true,
		Value:            func(s device.Status) *float64 { return s.OutdoorTemp },
	}
	SignalStrength = Description{
		Key:         "signal-strength",
		Suffix:      "Signal Strength",
		Unit:        "dB",
		DeviceClass: "signal_strength",
		Value:       func(s device.Status) *float64 { return s.WifiRSSI },
	}
	Humidity = Description{
		Key:              "humidity",
		Suffix:           "Humidity",
		Unit:             "%",
		DeviceClass:      "humidity",
		EnabledByDefault: true,
		Value:            func(s device.Status) *float64 { return s.Humidity },
	}
	Battery = Description{
		Key:              "sensor-battery",
		Suffix:           "Sensor Battery",
		Unit:             "%",
		DeviceClass:      "battery",
		EnabledByDefault: true,
		Value:            func(s device.Status) *float64 { return s.SensorBattery },
	}
	SensorSignalStrength = Description{
		Key:         "sensor-signal-strength",
		Suffix:      "Sensor Signal Strength",
		Unit:        "dB",
		DeviceClass: "signal_strength",
		Value:       func(s device.Status) *float64 { return s.SensorRSSI },
	}
)

// ForKind lists the sensors created for a unit kind.
func ForKind(kind device.Kind) []Description {
	if kind == device.KindOutdoorStation {
		return []Description{OutdoorTemperature, SignalStrength}
	}
	return []Description{Humidity, Battery, SignalStrength, SensorSignalStrength}
}

// Sensor is a coordinator-backed numeric reading.
type Sensor struct {
	*entity.Coordinated

	desc        Description
	displayUnit temperature.Unit
	name        string

	mu    sync.RWMutex
	value *float64
}

var _ entity.Entity = (*Sensor)(nil)

func New(c *coordinator.Coordinator, desc Description, unit temperature.Unit) *Sensor {
	if unit == "" {
		unit = temperature.Celsius
	}
	return &Sensor{
		Coordinated: entity.NewCoordinated(c),
		desc:        desc,
		displayUnit: unit,
		name:        c.Record().Name + " " + desc.Suffix,
	}
}

// Start seeds the value and subscribes to future refreshes.
func (s *Sensor) Start() {
	s.Update()
	s.Subscribe(s.Update)
}

func (s *Sensor) Update() {
	value := s.desc.Value(s.Coordinator().State().Status)
	if s.desc.Temperature {
		value = temperature.ToDisplay(value, s.displayUnit)
	}
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *Sensor) Value() *float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *Sensor) UnitOfMeasurement() string {
	if s.desc.Temperature {
		return "°" + string(s.displayUnit)
	}
	return s.desc.Unit
}

func (s *Sensor) Key() string { return s.desc.Key }

func (s *Sensor) UniqueID() string { return s.Serial() + "-" + s.desc.Key }

func (s *Sensor) Name() string { return s.name }

func (s *Sensor) Platform() string { return "sensor" }

func (s *Sensor) EnabledByDefault() bool { return s.desc.EnabledByDefault }

func (s *Sensor) Attributes() map[string]any {
	attrs := map[string]any{
		"unit_of_measurement": s.UnitOfMeasurement(),
		"device_class":        s.desc.DeviceClass,
		"value":               nil,
	}
	if v := s.Value(); v != nil {
		attrs["value"] = *v
	}
	return attrs
}
