package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/joshp123/gokumo/internal/temperature"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/gokumo/config.pbtxt"
	DefaultGRPCAddr            = "0.0.0.0:9000"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultDashboardDir        = "/var/lib/gokumo/dashboards"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultScanIntervalSeconds = 60
	DefaultAvailabilityTries   = 3
	DefaultMaxSetupAttempts    = 10
	DefaultSetupRetrySeconds   = 30
	DefaultConnectTimeout      = 1.2
	DefaultResponseTimeout     = 8.0
	DefaultCacheKey            = "kumo_cache"
	DefaultCacheDir            = "/var/lib/gokumo"
	DefaultTopicPrefix         = "gokumo"

	CacheBackendFile  = "file"
	CacheBackendS3    = "s3"
	CacheBackendRedis = "redis"
)

const schemaFile = "config.proto"

//go:embed config.proto
var schema string

var (
	schemaOnce sync.Once
	schemaDesc protoreflect.MessageDescriptor
	schemaErr  error
)

type Config struct {
	SchemaVersion int         `json:"schema_version"`
	Core          CoreConfig  `json:"core"`
	Kumo          *KumoConfig `json:"kumo"`
	Cache         CacheConfig `json:"cache"`
	MQTT          *MQTTConfig `json:"mqtt"`
}

type CoreConfig struct {
	GRPCAddr     string `json:"grpc_addr"`
	HTTPAddr     string `json:"http_addr"`
	DashboardDir string `json:"dashboard_dir"`
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`
}

type KumoConfig struct {
	Username               string            `json:"username"`
	PasswordFile           string            `json:"password_file"`
	PreferCache            bool              `json:"prefer_cache"`
	ConnectTimeoutSeconds  float64           `json:"connect_timeout_seconds"`
	ResponseTimeoutSeconds float64           `json:"response_timeout_seconds"`
	ScanIntervalSeconds    int               `json:"scan_interval_seconds"`
	AvailabilityThreshold  int               `json:"availability_threshold"`
	MaxSetupAttempts       int               `json:"max_setup_attempts"`
	SetupRetrySeconds      int               `json:"setup_retry_seconds"`
	TemperatureUnit        string            `json:"temperature_unit"`
	BridgeURL              string            `json:"bridge_url"`
	CloudURL               string            `json:"cloud_url"`
	UnitAddresses          map[string]string `json:"unit_addresses"`
	Units                  []UnitConfig      `json:"units"`
	// UnitCapabilities maps a serial or label to the modes the unit supports. Units not
	// listed get the full indoor mode set.
	UnitCapabilities map[string]UnitCapabilities `json:"unit_capabilities"`
}

type UnitConfig struct {
	Serial       string `json:"serial"`
	Label        string `json:"label"`
	Address      string `json:"address"`
	UnitType     string `json:"unit_type"`
	Password     string `json:"password"`
	CryptoSerial string `json:"crypto_serial"`

	Capabilities *UnitCapabilities `json:"capabilities"`
}

type UnitCapabilities struct {
	HasDry           bool `json:"has_dry"`
	HasHeat          bool `json:"has_heat"`
	HasVent          bool `json:"has_vent"`
	HasAuto          bool `json:"has_auto"`
	HasVaneDirection bool `json:"has_vane_direction"`
}

type CacheConfig struct {
	Backend string            `json:"backend"`
	Key     string            `json:"key"`
	Dir     string            `json:"dir"`
	S3      *S3CacheConfig    `json:"s3"`
	Redis   *RedisCacheConfig `json:"redis"`
}

type S3CacheConfig struct {
	Endpoint      string `json:"endpoint"`
	Bucket        string `json:"bucket"`
	Prefix        string `json:"prefix"`
	Region        string `json:"region"`
	AccessKeyFile string `json:"access_key_file"`
	SecretKeyFile string `json:"secret_key_file"`
}

type RedisCacheConfig struct {
	Addr         string `json:"addr"`
	PasswordFile string `json:"password_file"`
	DB           int    `json:"db"`
	Prefix       string `json:"prefix"`
	TTLSeconds   int    `json:"ttl_seconds"`
}

type MQTTConfig struct {
	Broker         string `json:"broker"`
	Username       string `json:"username"`
	PasswordFile   string `json:"password_file"`
	TopicPrefix    string `json:"topic_prefix"`
	ClientIDPrefix string `json:"client_id_prefix"`
	QoS            int    `json:"qos"`
}

// Load parses the textproto config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes textproto against the embedded schema.
func Parse(data []byte) (*Config, error) {
	md, err := messageDescriptor()
	if err != nil {
		return nil, err
	}

	msg := dynamicpb.NewMessage(md)
	if err := prototext.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	encoded, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(encoded, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func messageDescriptor() (protoreflect.MessageDescriptor, error) {
	schemaOnce.Do(func() {
		parser := protoparse.Parser{
			Accessor: protoparse.FileContentsFromMap(map[string]string{schemaFile: schema}),
		}
		fds, err := parser.ParseFiles(schemaFile)
		if err != nil {
			schemaErr = fmt.Errorf("parse config schema: %w", err)
			return
		}
		md := fds[0].FindMessage("gokumo.config.v1.Config")
		if md == nil {
			schemaErr = fmt.Errorf("config schema missing Config message")
			return
		}
		schemaDesc = md.UnwrapMessage()
	})
	return schemaDesc, schemaErr
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}
	if cfg.Core.LogFormat == "" {
		cfg.Core.LogFormat = DefaultLogFormat
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheBackendFile
	}
	if cfg.Cache.Key == "" {
		cfg.Cache.Key = DefaultCacheKey
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = DefaultCacheDir
	}

	if k := cfg.Kumo; k != nil {
		if k.ScanIntervalSeconds == 0 {
			k.ScanIntervalSeconds = DefaultScanIntervalSeconds
		}
		if k.AvailabilityThreshold == 0 {
			k.AvailabilityThreshold = DefaultAvailabilityTries
		}
		if k.MaxSetupAttempts == 0 {
			k.MaxSetupAttempts = DefaultMaxSetupAttempts
		}
		if k.SetupRetrySeconds == 0 {
			k.SetupRetrySeconds = DefaultSetupRetrySeconds
		}
		if k.ConnectTimeoutSeconds == 0 {
			k.ConnectTimeoutSeconds = DefaultConnectTimeout
		}
		if k.ResponseTimeoutSeconds == 0 {
			k.ResponseTimeoutSeconds = DefaultResponseTimeout
		}
		if k.TemperatureUnit == "" {
			k.TemperatureUnit = string(temperature.Celsius)
		}
	}

	if m := cfg.MQTT; m != nil && m.TopicPrefix == "" {
		m.TopicPrefix = DefaultTopicPrefix
	}
}

func applyEnv(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv("GOKUMO_GRPC_ADDR")); addr != "" {
		cfg.Core.GRPCAddr = addr
	}
	if addr := strings.TrimSpace(os.Getenv("GOKUMO_HTTP_ADDR")); addr != "" {
		cfg.Core.HTTPAddr = addr
	}
}

// Validate enforces required invariants beyond schema typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if k := cfg.Kumo; k != nil {
		if len(k.Units) == 0 && (k.Username == "" || k.PasswordFile == "") {
			return fmt.Errorf("kumo needs username and password_file, or units")
		}
		for i, unit := range k.Units {
			if unit.Serial == "" {
				return fmt.Errorf("kumo.units[%d].serial is required", i)
			}
		}
		if k.ScanIntervalSeconds < 1 {
			return fmt.Errorf("kumo.scan_interval_seconds must be positive")
		}
		if k.ConnectTimeoutSeconds < 0 || k.ResponseTimeoutSeconds < 0 {
			return fmt.Errorf("kumo timeouts must not be negative")
		}
		if _, err := temperature.ParseUnit(k.TemperatureUnit); err != nil {
			return fmt.Errorf("kumo.temperature_unit: %w", err)
		}
	}

	switch cfg.Cache.Backend {
	case CacheBackendFile:
	case CacheBackendS3:
		s3 := cfg.Cache.S3
		if s3 == nil || s3.Endpoint == "" || s3.Bucket == "" || s3.AccessKeyFile == "" || s3.SecretKeyFile == "" {
			return fmt.Errorf("cache.s3 needs endpoint, bucket, access_key_file and secret_key_file")
		}
	case CacheBackendRedis:
		if cfg.Cache.Redis == nil || cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required")
		}
	default:
		return fmt.Errorf("unknown cache.backend %q", cfg.Cache.Backend)
	}

	if m := cfg.MQTT; m != nil && m.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Kumo != nil {
		enabled["kumo"] = true
	}
	return enabled
}

func (k *KumoConfig) ScanInterval() time.Duration {
	return time.Duration(k.ScanIntervalSeconds) * time.Second
}

func (k *KumoConfig) SetupRetryInterval() time.Duration {
	return time.Duration(k.SetupRetrySeconds) * time.Second
}

func (k *KumoConfig) ConnectTimeout() time.Duration {
	return seconds(k.ConnectTimeoutSeconds)
}

func (k *KumoConfig) ResponseTimeout() time.Duration {
	return seconds(k.ResponseTimeoutSeconds)
}

func (k *KumoConfig) Unit() temperature.Unit {
	unit, err := temperature.ParseUnit(k.TemperatureUnit)
	if err != nil {
		return temperature.Celsius
	}
	return unit
}

// Password reads the account password from password_file.
func (k *KumoConfig) Password() (string, error) {
	if k.PasswordFile == "" {
		return "", nil
	}
	return ReadSecretFile(k.PasswordFile)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ResolvePath picks the config path from the flag value, GOKUMO_CONFIG, then the default.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv("GOKUMO_CONFIG")); env != "" {
		return env
	}
	return DefaultPath
}
