package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
schema_version: 1
core {
  grpc_addr: "127.0.0.1:9100"
  log_level: "debug"
}
kumo {
  username: "someone@example.com"
  password_file: "/run/secrets/kumo"
  prefer_cache: true
  connect_timeout_seconds: 2.5
  temperature_unit: "F"
  unit_addresses { key: "Office" value: "10.0.0.9" }
  unit_addresses { key: "1234" value: "10.0.0.10" }
  unit_capabilities { key: "Office" value { has_heat: true has_auto: true } }
}
cache {
  backend: "redis"
  redis { addr: "redis:6379" ttl_seconds: 3600 }
}
mqtt {
  broker: "tcp://mqtt:1883"
}
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Core.GRPCAddr != "127.0.0.1:9100" || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("unexpected core config: %+v", cfg.Core)
	}
	if cfg.Core.LogLevel != "debug" || cfg.Core.LogFormat != DefaultLogFormat {
		t.Fatalf("unexpected log config: %+v", cfg.Core)
	}

	k := cfg.Kumo
	if k == nil || !k.PreferCache || k.Username != "someone@example.com" {
		t.Fatalf("unexpected kumo config: %+v", k)
	}
	if k.ScanInterval() != time.Minute {
		t.Fatalf("scan interval = %s", k.ScanInterval())
	}
	if k.ConnectTimeout() != 2500*time.Millisecond || k.ResponseTimeout() != 8*time.Second {
		t.Fatalf("timeouts = %s / %s", k.ConnectTimeout(), k.ResponseTimeout())
	}
	if k.MaxSetupAttempts != DefaultMaxSetupAttempts || k.AvailabilityThreshold != DefaultAvailabilityTries {
		t.Fatalf("unexpected setup defaults: %+v", k)
	}
	if caps, ok := k.UnitCapabilities["Office"]; !ok || !caps.HasHeat || !caps.HasAuto || caps.HasDry {
		t.Fatalf("unexpected unit capabilities: %+v", k.UnitCapabilities)
	}
	if string(k.Unit()) != "F" {
		t.Fatalf("unit = %s", k.Unit())
	}
	if k.UnitAddresses["Office"] != "10.0.0.9" || len(k.UnitAddresses) != 2 {
		t.Fatalf("unit addresses = %v", k.UnitAddresses)
	}

	if cfg.Cache.Backend != CacheBackendRedis || cfg.Cache.Key != DefaultCacheKey || cfg.Cache.Redis.TTLSeconds != 3600 {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
	if cfg.MQTT == nil || cfg.MQTT.TopicPrefix != DefaultTopicPrefix {
		t.Fatalf("unexpected mqtt config: %+v", cfg.MQTT)
	}
	if !EnabledPlugins(cfg)["kumo"] {
		t.Fatalf("kumo should be enabled")
	}
}

func TestParseLocalUnits(t *testing.T) {
	cfg, err := Parse([]byte(`
schema_version: 1
kumo {
  units { serial: "1234" label: "Den" address: "10.0.0.2" password: "pw" crypto_serial: "cs" }
  units { serial: "9999" label: "Station" address: "10.0.0.3" unit_type: "kumoStation" }
}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cfg.Kumo.Units) != 2 || cfg.Kumo.Units[1].UnitType != "kumoStation" {
		t.Fatalf("units = %+v", cfg.Kumo.Units)
	}
	if cfg.Cache.Backend != CacheBackendFile {
		t.Fatalf("default backend = %s", cfg.Cache.Backend)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"schema":  `schema_version: 2`,
		"creds":   "schema_version: 1\nkumo { username: \"u\" }",
		"unit":    "schema_version: 1\nkumo { temperature_unit: \"K\" units { serial: \"1\" } }",
		"backend": "schema_version: 1\ncache { backend: \"ftp\" }",
		"s3":      "schema_version: 1\ncache { backend: \"s3\" s3 { endpoint: \"minio\" } }",
		"mqtt":    "schema_version: 1\nmqtt { topic_prefix: \"x\" }",
	}
	for name, raw := range cases {
		if _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	if _, err := Parse([]byte(`schema_version: 1 bogus_field: 3`)); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.pbtxt")
	if err := os.WriteFile(path, []byte("schema_version: 1\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GOKUMO_HTTP_ADDR", "127.0.0.1:18080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Core.HTTPAddr != "127.0.0.1:18080" {
		t.Fatalf("env override ignored: %s", cfg.Core.HTTPAddr)
	}
	if cfg.Kumo != nil || EnabledPlugins(cfg)["kumo"] {
		t.Fatalf("kumo should be disabled without a kumo block")
	}
}

func TestPasswordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pw")
	if err := os.WriteFile(path, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	k := &KumoConfig{PasswordFile: path}
	got, err := k.Password()
	if err != nil || got != "hunter2" {
		t.Fatalf("Password = %q, %v", got, err)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv("GOKUMO_CONFIG", "")
	if ResolvePath("") != DefaultPath {
		t.Fatalf("expected default path")
	}
	t.Setenv("GOKUMO_CONFIG", "/tmp/x.pbtxt")
	if !strings.HasSuffix(ResolvePath(""), "x.pbtxt") || ResolvePath("/a") != "/a" {
		t.Fatalf("unexpected resolution")
	}
}
