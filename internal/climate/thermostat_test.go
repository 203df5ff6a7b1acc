package climate

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/joshp123/gokumo/internal/coordinator"
	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/device/devicetest"
	"github.com/joshp123/gokumo/internal/temperature"
)

type harness struct {
	fake  *devicetest.Fake
	coord *coordinator.Coordinator
	t     *Thermostat
	logs  *bytes.Buffer
}

var fullCaps = device.Capabilities{HasDry: true, HasHeat: true, HasVent: true, HasAuto: true, HasVaneDirection: true}

func newHarness(t *testing.T, caps device.Capabilities, status device.Status, unit temperature.Unit) *harness {
	t.Helper()
	fake := devicetest.New("1234", caps)
	fake.SetStatus(status)
	coord := coordinator.New(fake, device.Record{Serial: "1234", Kind: device.KindIndoorUnit, Name: "Den"})

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	thermostat := NewThermostat(coord, Options{Unit: unit, Logger: logger, LastModes: NewLastModeStore()})
	thermostat.Start()

	if coord.Refresh(context.Background()) != coordinator.Success {
		t.Fatalf("initial refresh failed")
	}
	fake.ResetCalls()
	return &harness{fake: fake, coord: coord, t: thermostat, logs: logs}
}

func (h *harness) calls() string {
	var parts []string
	for _, call := range h.fake.Calls() {
		parts = append(parts, call.String())
	}
	return strings.Join(parts, ",")
}

func warned(logs *bytes.Buffer, fragment string) bool {
	for _, line := range strings.Split(logs.String(), "\n") {
		if strings.Contains(line, "level=WARN") && strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}

func heatCoolStatus() device.Status {
	return device.Status{
		Mode:         devicetest.Ptr("auto"),
		Standby:      devicetest.Ptr(false),
		HeatSetpoint: devicetest.Ptr(20.0),
		CoolSetpoint: devicetest.Ptr(24.0),
		CurrentTemp:  devicetest.Ptr(22.0),
	}
}

func TestCapabilityScenarioModes(t *testing.T) {
	caps := device.Capabilities{HasAuto: true, HasDry: false, HasHeat: true, HasVent: false, HasVaneDirection: true}
	h := newHarness(t, caps, device.Status{}, temperature.Celsius)

	got := h.t.HVACModes()
	want := []HVACMode{ModeOff, ModeCool, ModeHeat, ModeHeatCool}
	if len(got) != len(want) {
		t.Fatalf("modes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("modes = %v, want %v", got, want)
		}
	}
	features := h.t.Features()
	if !features.Has(FeatureSwingMode) || !features.Has(FeatureTargetTemperatureRange) {
		t.Fatalf("expected swing and range features, got %v", features.Names())
	}
	if len(h.t.SwingModes()) == 0 {
		t.Fatalf("expected swing modes")
	}
}

func TestMinimalCapabilities(t *testing.T) {
	h := newHarness(t, device.Capabilities{}, device.Status{}, temperature.Celsius)
	if got := h.t.HVACModes(); len(got) != 2 || got[0] != ModeOff || got[1] != ModeCool {
		t.Fatalf("modes = %v", got)
	}
	if h.t.Features() != FeatureTargetTemperature|FeatureFanMode {
		t.Fatalf("features = %v", h.t.Features().Names())
	}
}

func TestAutoHeatNormalizes(t *testing.T) {
	status := heatCoolStatus()
	status.Mode = devicetest.Ptr("autoHeat")
	h := newHarness(t, fullCaps, status, temperature.Celsius)

	if h.t.HVACMode() != ModeHeatCool {
		t.Fatalf("mode = %s", h.t.HVACMode())
	}
	if h.t.HVACAction() != ActionHeating {
		t.Fatalf("action = %s", h.t.HVACAction())
	}
	if h.t.TargetTemperature() != nil {
		t.Fatalf("single target must be withheld in heat_cool")
	}
	if *h.t.TargetTemperatureLow() != 20 || *h.t.TargetTemperatureHigh() != 24 {
		t.Fatalf("unexpected range %v-%v", *h.t.TargetTemperatureLow(), *h.t.TargetTemperatureHigh())
	}
}

func TestActionTable(t *testing.T) {
	cases := []struct {
		mode    string
		standby bool
		want    HVACAction
	}{
		{"auto", false, ActionIdle},
		{"autoCool", false, ActionCooling},
		{"cool", false, ActionCooling},
		{"heat", true, ActionIdle},
		{"dry", false, ActionDrying},
		{"vent", false, ActionFan},
		{"off", false, ActionOff},
		{"sparkle", false, ActionUnknown},
	}
	for _, tc := range cases {
		if got := ActionFromVendor(&tc.standby, &tc.mode); got != tc.want {
			t.Fatalf("%s standby=%v: got %s, want %s", tc.mode, tc.standby, got, tc.want)
		}
	}
	if ModeFromVendor(devicetest.Ptr("sparkle")) != ModeUnknown || ModeFromVendor(nil) != ModeUnknown {
		t.Fatalf("unknown vendor modes must map to ModeUnknown")
	}
	if vendor, _ := VendorMode(ModeHeatCool); vendor != "auto" {
		t.Fatalf("heat_cool must write auto, got %s", vendor)
	}
}

func TestSetpointExposureFollowsMode(t *testing.T) {
	status := heatCoolStatus()
	status.Mode = devicetest.Ptr("cool")
	h := newHarness(t, fullCaps, status, temperature.Celsius)

	if got := h.t.TargetTemperature(); got == nil || *got != 24 {
		t.Fatalf("cool target = %v", got)
	}
	if h.t.TargetTemperatureHigh() != nil || h.t.TargetTemperatureLow() != nil {
		t.Fatalf("range must be withheld in cool")
	}

	status.Mode = devicetest.Ptr("heat")
	h.fake.SetStatus(status)
	h.coord.Refresh(context.Background())
	if got := h.t.TargetTemperature(); got == nil || *got != 20 {
		t.Fatalf("heat target = %v", got)
	}
}

func TestHeatCoolInversionIsCoerced(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)

	err := h.t.SetTemperature(context.Background(), TemperatureRequest{
		Mode: ModeHeatCool,
		Low:  devicetest.Ptr(23.0),
		High: devicetest.Ptr(21.0),
	})
	if err != nil {
		t.Fatalf("SetTemperature: %v", err)
	}
	if got := h.calls(); got != "SetHeatSetpoint(23),SetCoolSetpoint(23)" {
		t.Fatalf("calls = %s", got)
	}
	if !warned(h.logs, "high setpoint below low") {
		t.Fatalf("expected inversion warning, logs:\n%s", h.logs)
	}
}

func TestSetTemperatureUnavailableIsNoop(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)
	h.fake.Script(false)
	for i := 0; i < 3; i++ {
		h.coord.Refresh(context.Background())
	}
	if h.t.Available() {
		t.Fatalf("expected unavailable after three failures")
	}

	ctx := context.Background()
	_ = h.t.SetTemperature(ctx, TemperatureRequest{Mode: ModeHeat, Temperature: devicetest.Ptr(21.0)})
	_ = h.t.SetHVACMode(ctx, ModeCool)
	_ = h.t.SetFanMode(ctx, "low")
	_ = h.t.SetSwingMode(ctx, "swing")

	if calls := h.fake.Calls(); len(calls) != 0 {
		t.Fatalf("expected no device calls, got %v", calls)
	}
	if !warned(h.logs, "unavailable") {
		t.Fatalf("expected unavailable warning")
	}
}

func TestSetTemperatureDryRejected(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)

	_ = h.t.SetTemperature(context.Background(), TemperatureRequest{Mode: ModeDry, Temperature: devicetest.Ptr(21.0)})
	if calls := h.fake.Calls(); len(calls) != 0 {
		t.Fatalf("expected no device calls, got %v", calls)
	}
	if !warned(h.logs, "not setting target temperature") {
		t.Fatalf("expected warning for dry mode")
	}
}

func TestSetTemperatureSwitchesModeFirst(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)

	_ = h.t.SetTemperature(context.Background(), TemperatureRequest{Mode: ModeHeat, Temperature: devicetest.Ptr(21.5)})
	if got := h.calls(); got != "SetMode(heat),SetHeatSetpoint(21.5)" {
		t.Fatalf("calls = %s", got)
	}

	h.fake.ResetCalls()
	_ = h.t.SetTemperature(context.Background(), TemperatureRequest{Low: devicetest.Ptr(19.0), High: devicetest.Ptr(25.0)})
	if got := h.calls(); got != "SetHeatSetpoint(19),SetCoolSetpoint(25)" {
		t.Fatalf("current mode must not resend mode, calls = %s", got)
	}
}

func TestFahrenheitDisplay(t *testing.T) {
	status := heatCoolStatus()
	status.Mode = devicetest.Ptr("heat")
	status.HeatSetpoint = devicetest.Ptr(19.5)
	h := newHarness(t, fullCaps, status, temperature.Fahrenheit)

	if got := h.t.TargetTemperature(); got == nil || *got != 67 {
		t.Fatalf("display target = %v", got)
	}
	_ = h.t.SetTemperature(context.Background(), TemperatureRequest{Temperature: devicetest.Ptr(69.0)})
	if got := h.calls(); got != "SetHeatSetpoint(21)" {
		t.Fatalf("calls = %s", got)
	}
}

func TestSetHVACModeUnknownTurnsOff(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)
	_ = h.t.SetHVACMode(context.Background(), HVACMode("turbo"))
	if got := h.calls(); got != "SetMode(off)" {
		t.Fatalf("calls = %s", got)
	}
}

func TestTurnOnRestoresLastMode(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)
	ctx := context.Background()

	_ = h.t.SetHVACMode(ctx, ModeDry)
	_ = h.t.TurnOff(ctx)
	_ = h.t.TurnOn(ctx)
	if got := h.calls(); got != "SetMode(dry),SetMode(off),SetMode(dry)" {
		t.Fatalf("calls = %s", got)
	}
}

func TestFanAndSwingValidation(t *testing.T) {
	caps := fullCaps
	caps.HasVaneDirection = false
	h := newHarness(t, caps, heatCoolStatus(), temperature.Celsius)
	ctx := context.Background()

	_ = h.t.SetFanMode(ctx, "hurricane")
	_ = h.t.SetSwingMode(ctx, "swing")
	_ = h.t.SetFanMode(ctx, "low")
	if got := h.calls(); got != "SetFanSpeed(low)" {
		t.Fatalf("calls = %s", got)
	}
	if !warned(h.logs, "unsupported swing mode") {
		t.Fatalf("expected swing warning")
	}
}

func TestUpdateShortCircuitsWhenUnavailable(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)
	h.fake.Script(false)
	for i := 0; i < 3; i++ {
		h.coord.Refresh(context.Background())
	}

	status := heatCoolStatus()
	status.Mode = devicetest.Ptr("cool")
	h.fake.SetStatus(status)
	h.t.Update()

	if h.t.HVACMode() != ModeHeatCool {
		t.Fatalf("stale values must be kept while unavailable, got %s", h.t.HVACMode())
	}
}

func TestAttributes(t *testing.T) {
	h := newHarness(t, fullCaps, heatCoolStatus(), temperature.Celsius)
	attrs := h.t.Attributes()
	if attrs["hvac_mode"] != "heat_cool" || attrs["target_temperature"] != nil {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
	if attrs["last_hvac_mode"] != "heat_cool" {
		t.Fatalf("expected last mode to be remembered, got %v", attrs["last_hvac_mode"])
	}
	if modes, ok := attrs["hvac_modes"].([]any); !ok || len(modes) != 6 {
		t.Fatalf("unexpected hvac_modes: %v", attrs["hvac_modes"])
	}
}
