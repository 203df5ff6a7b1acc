package device

import (
	"context"
	"encoding/json"
)

// Kind classifies a physical unit.
type Kind string

const (
	KindIndoorUnit     Kind = "indoor_unit"
	KindOutdoorStation Kind = "outdoor_station"
)

// Capabilities are derived once at setup and never change for a setup session.
type Capabilities struct {
	HasDry           bool `json:"has_dry"`
	HasHeat          bool `json:"has_heat"`
	HasVent          bool `json:"has_vent"`
	HasAuto          bool `json:"has_auto"`
	HasVaneDirection bool `json:"has_vane_direction"`
}

// DefaultCapabilities is the mode set an indoor unit is assumed to support when the
// configuration names none: auto, heat, cool, dry and off, with vane control.
var DefaultCapabilities = Capabilities{HasDry: true, HasHeat: true, HasAuto: true, HasVaneDirection: true}

// Record describes one physical unit for the life of a setup session.
type Record struct {
	Serial       string
	Kind         Kind
	Name         string
	Address      string
	Credentials  json.RawMessage
	Capabilities Capabilities
}

// Status holds the typed fields read from the last fetched payload. A nil field means the
// firmware does not report it.
type Status struct {
	Mode          *string
	Standby       *bool
	FanSpeed      *string
	VaneDirection *string
	CurrentTemp   *float64
	HeatSetpoint  *float64
	CoolSetpoint  *float64
	Humidity      *float64
	SensorBattery *float64
	SensorRSSI    *float64
	FilterDirty   *bool
	Defrost       *bool
	Runstate      *string
	WifiRSSI      *float64
	OutdoorTemp   *float64
}

// Capability is the synchronous access surface for one device. UpdateStatus performs the
// only network fetch; Status reads the cached result of the last successful fetch.
type Capability interface {
	Serial() string
	Name() string
	UpdateStatus(ctx context.Context) bool
	Status() Status
	Capabilities() Capabilities
	FanSpeeds() []string
	VaneDirections() []string

	SetMode(ctx context.Context, mode string) (string, error)
	SetCoolSetpoint(ctx context.Context, celsius float64) (string, error)
	SetHeatSetpoint(ctx context.Context, celsius float64) (string, error)
	SetFanSpeed(ctx context.Context, speed string) (string, error)
	SetVaneDirection(ctx context.Context, direction string) (string, error)
}
