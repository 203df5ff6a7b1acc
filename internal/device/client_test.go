package device

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const indoorStatusJSON = `{"r":{"indoorUnit":{"status":{"mode":"autoHeat","standby":false,"fanSpeed":"quiet","vaneDir":"swing","roomTemp":20.5,"spHeat":21,"spCool":24,"filterDirty":true,"defrost":false,"runState":"normal"}},"adapter":{"status":{"rssi":-52}},"sensors":[{"battery":88,"rssi":-61,"humidity":43}]}}`

func TestLocalClientUpdateStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v0/room/Living Room/status" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = io.WriteString(w, indoorStatusJSON)
	}))
	defer server.Close()

	record := Record{Serial: "1234", Kind: KindIndoorUnit, Name: "Living Room", Address: server.URL, Capabilities: DefaultCapabilities}
	client, err := NewLocalClient(record, ClientOptions{})
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}

	if !client.UpdateStatus(context.Background()) {
		t.Fatalf("expected successful update")
	}

	status := client.Status()
	if status.Mode == nil || *status.Mode != "autoHeat" {
		t.Fatalf("unexpected mode: %v", status.Mode)
	}
	if status.HeatSetpoint == nil || *status.HeatSetpoint != 21 {
		t.Fatalf("unexpected heat setpoint: %v", status.HeatSetpoint)
	}
	if status.Humidity == nil || *status.Humidity != 43 {
		t.Fatalf("expected humidity from sensor, got %v", status.Humidity)
	}
	if status.SensorBattery == nil || *status.SensorBattery != 88 {
		t.Fatalf("unexpected battery: %v", status.SensorBattery)
	}
	if status.WifiRSSI == nil || *status.WifiRSSI != -52 {
		t.Fatalf("unexpected rssi: %v", status.WifiRSSI)
	}

	caps := client.Capabilities()
	if caps != DefaultCapabilities {
		t.Fatalf("unexpected capabilities: %+v", caps)
	}
	if len(client.VaneDirections()) == 0 {
		t.Fatalf("expected vane directions when vane is supported")
	}
}

func TestLocalClientFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/room/bad/status":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "/v0/room/empty/status":
			_, _ = io.WriteString(w, `{"r":{}}`)
		default:
			_, _ = io.WriteString(w, "not json")
		}
	}))
	defer server.Close()

	for _, name := range []string{"bad", "empty", "garbage"} {
		client, err := NewLocalClient(Record{Serial: name, Kind: KindIndoorUnit, Name: name, Address: server.URL}, ClientOptions{})
		if err != nil {
			t.Fatalf("NewLocalClient: %v", err)
		}
		if client.UpdateStatus(context.Background()) {
			t.Fatalf("%s: expected failed update", name)
		}
	}
}

func TestLocalClientTimeoutIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = io.WriteString(w, indoorStatusJSON)
	}))
	defer server.Close()

	client, err := NewLocalClient(Record{Serial: "1", Kind: KindIndoorUnit, Name: "slow", Address: server.URL}, ClientOptions{
		ResponseTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	if client.UpdateStatus(context.Background()) {
		t.Fatalf("expected timeout to be reported as failure")
	}
}

func TestLocalClientSetters(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("expected PUT, got %s", r.Method)
		}
		paths = append(paths, r.URL.Path)
		_, _ = io.WriteString(w, "ok\n")
	}))
	defer server.Close()

	client, err := NewLocalClient(Record{Serial: "1", Kind: KindIndoorUnit, Name: "den"}, ClientOptions{BridgeURL: server.URL})
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}

	ctx := context.Background()
	ack, err := client.SetMode(ctx, "cool")
	if err != nil || ack != "ok" {
		t.Fatalf("SetMode: %q %v", ack, err)
	}
	_, _ = client.SetHeatSetpoint(ctx, 19.5)
	_, _ = client.SetCoolSetpoint(ctx, 24)
	_, _ = client.SetFanSpeed(ctx, "low")
	_, _ = client.SetVaneDirection(ctx, "swing")

	want := []string{
		"/v0/room/den/mode/cool",
		"/v0/room/den/heat/temp/67",
		"/v0/room/den/cool/temp/75",
		"/v0/room/den/speed/low",
		"/v0/room/den/vent/swing",
	}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
}

func TestStationStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"r":{"kumoStation":{"status":{"outdoorTemp":-3.5}},"adapter":{"status":{"rssi":-70}}}}`)
	}))
	defer server.Close()

	client, err := NewLocalClient(Record{Serial: "st", Kind: KindOutdoorStation, Name: "Station", Address: server.URL}, ClientOptions{})
	if err != nil {
		t.Fatalf("NewLocalClient: %v", err)
	}
	if !client.UpdateStatus(context.Background()) {
		t.Fatalf("expected station update to succeed")
	}
	if got := client.Status().OutdoorTemp; got == nil || *got != -3.5 {
		t.Fatalf("unexpected outdoor temp: %v", got)
	}
	if client.FanSpeeds() != nil {
		t.Fatalf("stations have no fan speeds")
	}
}

func TestResolveBaseURL(t *testing.T) {
	if _, err := resolveBaseURL("", ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
	got, err := resolveBaseURL("192.168.1.20", "")
	if err != nil || got != "http://192.168.1.20" {
		t.Fatalf("resolveBaseURL = %q, %v", got, err)
	}
	got, err = resolveBaseURL("192.168.1.20", "http://bridge:8084/")
	if err != nil || got != "http://bridge:8084" {
		t.Fatalf("bridge override = %q, %v", got, err)
	}
}
