package climate

import "strings"

// HVACMode is the semantic operating mode exposed to users.
type HVACMode string

const (
	ModeOff      HVACMode = "off"
	ModeHeat     HVACMode = "heat"
	ModeCool     HVACMode = "cool"
	ModeHeatCool HVACMode = "heat_cool"
	ModeDry      HVACMode = "dry"
	ModeFanOnly  HVACMode = "fan_only"
	ModeUnknown  HVACMode = "unknown"
)

// ParseHVACMode accepts the semantic names, case-insensitive.
func ParseHVACMode(raw string) (HVACMode, bool) {
	mode := HVACMode(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := semanticToVendor[mode]; ok {
		return mode, true
	}
	return ModeUnknown, false
}

// HVACAction is what the unit is doing right now.
type HVACAction string

const (
	ActionOff     HVACAction = "off"
	ActionIdle    HVACAction = "idle"
	ActionCooling HVACAction = "cooling"
	ActionHeating HVACAction = "heating"
	ActionDrying  HVACAction = "drying"
	ActionFan     HVACAction = "fan"
	ActionUnknown HVACAction = "unknown"
)

// Feature is a bitset of optional thermostat controls.
type Feature uint32

const (
	FeatureTargetTemperature Feature = 1 << iota
	FeatureTargetTemperatureRange
	FeatureFanMode
	FeatureSwingMode
)

func (f Feature) Has(flag Feature) bool { return f&flag != 0 }

func (f Feature) Names() []string {
	var out []string
	for _, entry := range []struct {
		flag Feature
		name string
	}{
		{FeatureTargetTemperature, "target_temperature"},
		{FeatureTargetTemperatureRange, "target_temperature_range"},
		{FeatureFanMode, "fan_mode"},
		{FeatureSwingMode, "swing_mode"},
	} {
		if f.Has(entry.flag) {
			out = append(out, entry.name)
		}
	}
	return out
}

// A heat_cool write always sends plain auto.
var semanticToVendor = map[HVACMode]string{
	ModeHeatCool: "auto",
	ModeCool:     "cool",
	ModeHeat:     "heat",
	ModeDry:      "dry",
	ModeFanOnly:  "vent",
	ModeOff:      "off",
}

// autoCool and autoHeat refine auto and both read back as heat_cool.
var vendorToSemantic = map[string]HVACMode{
	"auto":     ModeHeatCool,
	"autoCool": ModeHeatCool,
	"autoHeat": ModeHeatCool,
	"cool":     ModeCool,
	"heat":     ModeHeat,
	"dry":      ModeDry,
	"vent":     ModeFanOnly,
	"off":      ModeOff,
}

var vendorToAction = map[string]HVACAction{
	"auto":     ActionIdle,
	"autoCool": ActionCooling,
	"autoHeat": ActionHeating,
	"cool":     ActionCooling,
	"heat":     ActionHeating,
	"dry":      ActionDrying,
	"vent":     ActionFan,
	"off":      ActionOff,
}

// VendorMode returns the string the unit expects for mode.
func VendorMode(mode HVACMode) (string, bool) {
	vendor, ok := semanticToVendor[mode]
	return vendor, ok
}

func ModeFromVendor(raw *string) HVACMode {
	if raw == nil {
		return ModeUnknown
	}
	if mode, ok := vendorToSemantic[*raw]; ok {
		return mode
	}
	return ModeUnknown
}

// ActionFromVendor derives the current action. Standby wins over the mode.
func ActionFromVendor(standby *bool, raw *string) HVACAction {
	if standby != nil && *standby {
		return ActionIdle
	}
	if raw == nil {
		return ActionUnknown
	}
	if action, ok := vendorToAction[*raw]; ok {
		return action
	}
	return ActionUnknown
}
