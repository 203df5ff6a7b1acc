package climate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/joshp123/gokumo/internal/coordinator"
	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/entity"
	"github.com/joshp123/gokumo/internal/temperature"
)

type Options struct {
	Unit      temperature.Unit
	Logger    *slog.Logger
	LastModes *LastModeStore
}

// Thermostat normalizes an indoor unit into thermostat semantics. Cached fields are
// refreshed from the coordinator's snapshot after each successful poll.
type Thermostat struct {
	*entity.Coordinated

	name      string
	unit      temperature.Unit
	logger    *slog.Logger
	lastModes *LastModeStore

	// fixed at construction
	modes      []HVACMode
	features   Feature
	fanModes   []string
	swingModes []string

	mu          sync.RWMutex
	humidity    *float64
	mode        HVACMode
	action      HVACAction
	fanMode     *string
	swingMode   *string
	current     *float64
	target      *float64
	targetHigh  *float64
	targetLow   *float64
	battery     *float64
	filterDirty *bool
	defrost     *bool
	runstate    *string
}

var _ entity.Entity = (*Thermostat)(nil)

type property struct {
	name    string
	refresh func(t *Thermostat, s device.Status)
}

// updateProperties is applied in order; the setpoint refreshers read the mode set before them.
var updateProperties = []property{
	{"current_humidity", func(t *Thermostat, s device.Status) { t.humidity = s.Humidity }},
	{"hvac_mode", func(t *Thermostat, s device.Status) { t.mode = ModeFromVendor(s.Mode) }},
	{"hvac_action", func(t *Thermostat, s device.Status) { t.action = ActionFromVendor(s.Standby, s.Mode) }},
	{"fan_mode", func(t *Thermostat, s device.Status) { t.fanMode = s.FanSpeed }},
	{"swing_mode", func(t *Thermostat, s device.Status) { t.swingMode = s.VaneDirection }},
	{"current_temperature", func(t *Thermostat, s device.Status) { t.current = s.CurrentTemp }},
	{"target_temperature", func(t *Thermostat, s device.Status) {
		switch t.mode {
		case ModeHeat:
			t.target = s.HeatSetpoint
		case ModeCool:
			t.target = s.CoolSetpoint
		default:
			t.target = nil
		}
	}},
	{"target_temperature_high", func(t *Thermostat, s device.Status) {
		t.targetHigh = nil
		if t.mode == ModeHeatCool {
			t.targetHigh = s.CoolSetpoint
		}
	}},
	{"target_temperature_low", func(t *Thermostat, s device.Status) {
		t.targetLow = nil
		if t.mode == ModeHeatCool {
			t.targetLow = s.HeatSetpoint
		}
	}},
	{"battery_percent", func(t *Thermostat, s device.Status) { t.battery = s.SensorBattery }},
	{"filter_dirty", func(t *Thermostat, s device.Status) { t.filterDirty = s.FilterDirty }},
	{"defrost", func(t *Thermostat, s device.Status) { t.defrost = s.Defrost }},
	{"runstate", func(t *Thermostat, s device.Status) { t.runstate = s.Runstate }},
}

func NewThermostat(c *coordinator.Coordinator, opts Options) *Thermostat {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dev := c.Device()
	caps := dev.Capabilities()

	modes := []HVACMode{ModeOff, ModeCool}
	features := FeatureTargetTemperature | FeatureFanMode
	if caps.HasDry {
		modes = append(modes, ModeDry)
	}
	if caps.HasHeat {
		modes = append(modes, ModeHeat)
	}
	if caps.HasVent {
		modes = append(modes, ModeFanOnly)
	}
	if caps.HasAuto {
		modes = append(modes, ModeHeatCool)
		features |= FeatureTargetTemperatureRange
	}
	if caps.HasVaneDirection {
		features |= FeatureSwingMode
	}

	unit := opts.Unit
	if unit == "" {
		unit = temperature.Celsius
	}

	return &Thermostat{
		Coordinated: entity.NewCoordinated(c),
		name:        c.Record().Name,
		unit:        unit,
		logger:      logger.With("entity", c.Record().Name, "serial", c.Serial()),
		lastModes:   opts.LastModes,
		modes:       modes,
		features:    features,
		fanModes:    dev.FanSpeeds(),
		swingModes:  dev.VaneDirections(),
		mode:        ModeUnknown,
		action:      ActionUnknown,
	}
}

// Start seeds the cache from the current snapshot and subscribes to future refreshes.
func (t *Thermostat) Start() {
	t.Update()
	t.Subscribe(t.Update)
}

// Update refreshes every cached property from the last published poll state. It stops early
// if the unit becomes unavailable; the remaining properties keep their previous values.
func (t *Thermostat) Update() {
	status := t.Coordinator().State().Status

	t.mu.Lock()
	for _, prop := range updateProperties {
		if !t.Available() {
			t.logger.Debug("kumo update stopped, unit unavailable", "property", prop.name)
			break
		}
		prop.refresh(t, status)
	}
	mode := t.mode
	t.mu.Unlock()

	t.lastModes.Set(t.Serial(), mode)
}

func (t *Thermostat) UniqueID() string { return t.Serial() }
func (t *Thermostat) Name() string { return t.name }
func (t *Thermostat) Platform() string { return "climate" }
func (t *Thermostat) EnabledByDefault() bool { return true }

func (t *Thermostat) TemperatureUnit() temperature.Unit { return t.unit }
func (t *Thermostat) HVACModes() []HVACMode { return slices.Clone(t.modes) }
func (t *Thermostat) Features() Feature { return t.features }
func (t *Thermostat) FanModes() []string { return slices.Clone(t.fanModes) }
func (t *Thermostat) SwingModes() []string { return slices.Clone(t.swingModes) }

func (t *Thermostat) HVACMode() HVACMode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mode
}

func (t *Thermostat) HVACAction() HVACAction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.action
}

func (t *Thermostat) FanMode() *string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fanMode
}

func (t *Thermostat) SwingMode() *string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.swingMode
}

func (t *Thermostat) CurrentHumidity() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.humidity
}

func (t *Thermostat) CurrentTemperature() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return temperature.ToDisplay(t.current, t.unit)
}

func (t *Thermostat) TargetTemperature() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return temperature.ToDisplay(t.target, t.unit)
}

func (t *Thermostat) TargetTemperatureHigh() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return temperature.ToDisplay(t.targetHigh, t.unit)
}

func (t *Thermostat) TargetTemperatureLow() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return temperature.ToDisplay(t.targetLow, t.unit)
}

func (t *Thermostat) BatteryPercent() *float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.battery
}

func (t *Thermostat) Attributes() map[string]any {
	t.mu.RLock()
	attrs := map[string]any{
		"hvac_mode":               string(t.mode),
		"hvac_action":             string(t.action),
		"current_humidity":        deref(t.humidity),
		"fan_mode":                deref(t.fanMode),
		"swing_mode":              deref(t.swingMode),
		"current_temperature":     deref(temperature.ToDisplay(t.current, t.unit)),
		"target_temperature":      deref(temperature.ToDisplay(t.target, t.unit)),
		"target_temperature_high": deref(temperature.ToDisplay(t.targetHigh, t.unit)),
		"target_temperature_low":  deref(temperature.ToDisplay(t.targetLow, t.unit)),
		"battery_percent":         deref(t.battery),
		"filter_dirty":            deref(t.filterDirty),
		"defrost":                 deref(t.defrost),
		"runstate":                deref(t.runstate),
	}
	t.mu.RUnlock()

	modes := make([]any, 0, len(t.modes))
	for _, mode := range t.modes {
		modes = append(modes, string(mode))
	}
	attrs["hvac_modes"] = modes
	attrs["fan_modes"] = toAny(t.fanModes)
	attrs["swing_modes"] = toAny(t.swingModes)
	attrs["supported_features"] = toAny(t.features.Names())
	attrs["temperature_unit"] = string(t.unit)
	if last, ok := t.lastModes.Get(t.Serial()); ok {
		attrs["last_hvac_mode"] = string(last)
	}
	return attrs
}

// TemperatureRequest carries display-unit values. An empty Mode means the current mode.
type TemperatureRequest struct {
	Mode        HVACMode
	Temperature *float64
	Low         *float64
	High        *float64
}

// SetTemperature writes setpoints. Requests that cannot apply are logged and dropped; the
// returned error only reports device transport failures.
func (t *Thermostat) SetTemperature(ctx context.Context, req TemperatureRequest) error {
	if !t.Available() {
		t.logger.Warn("kumo unit unavailable, not setting temperature")
		return nil
	}
	if req.Temperature == nil && req.Low == nil && req.High == nil {
		t.logger.Debug("kumo set temperature without a temperature")
		return nil
	}

	current := t.HVACMode()
	mode := req.Mode
	if mode == "" {
		mode = current
	}
	if mode != ModeHeat && mode != ModeCool && mode != ModeHeatCool {
		t.logger.Warn("kumo not setting target temperature for mode", "mode", mode)
		return nil
	}
	if !slices.Contains(t.modes, mode) {
		t.logger.Warn("kumo mode not supported by unit", "mode", mode)
		return nil
	}

	value := temperature.ToCelsius(req.Temperature, t.unit)
	low := temperature.ToCelsius(req.Low, t.unit)
	high := temperature.ToCelsius(req.High, t.unit)

	switch mode {
	case ModeHeat, ModeCool:
		if value == nil {
			t.logger.Warn("kumo single setpoint mode needs a temperature", "mode", mode)
			return nil
		}
	case ModeHeatCool:
		if low == nil || high == nil {
			t.logger.Warn("kumo heat_cool needs both low and high temperatures")
			return nil
		}
		if *high < *low {
			t.logger.Warn("kumo high setpoint below low setpoint, using low for both", "low", *low, "high", *high)
			coerced := *low
			high = &coerced
		}
	}

	dev := t.Coordinator().Device()
	if mode != current {
		vendor, _ := VendorMode(mode)
		ack, err := dev.SetMode(ctx, vendor)
		if err != nil {
			return fmt.Errorf("set mode %s: %w", vendor, err)
		}
		t.logger.Info("kumo set mode response", "mode", vendor, "response", ack)
	}

	switch mode {
	case ModeHeat:
		return t.sendSetpoint(ctx, "heat", *value, dev.SetHeatSetpoint)
	case ModeCool:
		return t.sendSetpoint(ctx, "cool", *value, dev.SetCoolSetpoint)
	default:
		if err := t.sendSetpoint(ctx, "heat", *low, dev.SetHeatSetpoint); err != nil {
			return err
		}
		return t.sendSetpoint(ctx, "cool", *high, dev.SetCoolSetpoint)
	}
}

func (t *Thermostat) sendSetpoint(ctx context.Context, kind string, celsius float64, set func(context.Context, float64) (string, error)) error {
	ack, err := set(ctx, celsius)
	if err != nil {
		return fmt.Errorf("set %s setpoint: %w", kind, err)
	}
	t.logger.Info("kumo set temp response", "setpoint", kind, "celsius", celsius, "response", ack)
	return nil
}

// SetHVACMode sends mode. Modes with no vendor equivalent turn the unit off.
func (t *Thermostat) SetHVACMode(ctx context.Context, mode HVACMode) error {
	if !t.Available() {
		t.logger.Warn("kumo unit unavailable, not setting mode", "mode", mode)
		return nil
	}
	vendor, ok := VendorMode(mode)
	if !ok {
		vendor = "off"
		mode = ModeOff
	}
	ack, err := t.Coordinator().Device().SetMode(ctx, vendor)
	if err != nil {
		return fmt.Errorf("set mode %s: %w", vendor, err)
	}
	t.logger.Info("kumo set mode response", "mode", vendor, "response", ack)
	t.lastModes.Set(t.Serial(), mode)
	return nil
}

func (t *Thermostat) SetFanMode(ctx context.Context, fan string) error {
	if !t.Available() {
		t.logger.Warn("kumo unit unavailable, not setting fan speed", "fan_mode", fan)
		return nil
	}
	if !slices.Contains(t.fanModes, fan) {
		t.logger.Warn("kumo unsupported fan speed", "fan_mode", fan)
		return nil
	}
	ack, err := t.Coordinator().Device().SetFanSpeed(ctx, fan)
	if err != nil {
		return fmt.Errorf("set fan speed %s: %w", fan, err)
	}
	t.logger.Info("kumo set fan speed response", "fan_mode", fan, "response", ack)
	return nil
}

func (t *Thermostat) SetSwingMode(ctx context.Context, swing string) error {
	if !t.Available() {
		t.logger.Warn("kumo unit unavailable, not setting swing mode", "swing_mode", swing)
		return nil
	}
	if !t.features.Has(FeatureSwingMode) || !slices.Contains(t.swingModes, swing) {
		t.logger.Warn("kumo unsupported swing mode", "swing_mode", swing)
		return nil
	}
	ack, err := t.Coordinator().Device().SetVaneDirection(ctx, swing)
	if err != nil {
		return fmt.Errorf("set vane direction %s: %w", swing, err)
	}
	t.logger.Info("kumo set swing mode response", "swing_mode", swing, "response", ack)
	return nil
}

// TurnOn restores the last non-off mode, falling back to the first supported one.
func (t *Thermostat) TurnOn(ctx context.Context) error {
	mode := t.resumeMode()
	return t.SetHVACMode(ctx, mode)
}

func (t *Thermostat) TurnOff(ctx context.Context) error {
	return t.SetHVACMode(ctx, ModeOff)
}

func (t *Thermostat) resumeMode() HVACMode {
	if last, ok := t.lastModes.Get(t.Serial()); ok && slices.Contains(t.modes, last) {
		return last
	}
	for _, mode := range t.modes {
		if mode != ModeOff {
			return mode
		}
	}
	return ModeCool
}

func deref[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
