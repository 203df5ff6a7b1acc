package kumo

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joshp123/gokumo/internal/account"
	"github.com/joshp123/gokumo/internal/blob"
	"github.com/joshp123/gokumo/internal/config"
	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/setup"
	"github.com/joshp123/gokumo/internal/temperature"
)

// Config is the resolved runtime configuration for the plugin.
type Config struct {
	Username         string
	Password         string
	CloudURL         string
	BridgeURL        string
	PreferCache      bool
	ScanInterval     time.Duration
	RetryInterval    time.Duration
	ConnectTimeout   time.Duration
	ResponseTimeout  time.Duration
	Threshold        int
	MaxSetupAttempts int
	Unit             temperature.Unit
	UnitAddresses    map[string]string
	Capabilities     map[string]device.Capabilities
	Units            []account.Unit
	CacheKey         string
}

// ConfigFromFile resolves secrets and durations from the loaded config file.
func ConfigFromFile(cfg *config.KumoConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("kumo config is required")
	}
	password, err := cfg.Password()
	if err != nil {
		return Config{}, fmt.Errorf("read kumo password: %w", err)
	}

	out := Config{
		Username:         cfg.Username,
		Password:         password,
		CloudURL:         cfg.CloudURL,
		BridgeURL:        cfg.BridgeURL,
		PreferCache:      cfg.PreferCache,
		ScanInterval:     cfg.ScanInterval(),
		RetryInterval:    cfg.SetupRetryInterval(),
		ConnectTimeout:   cfg.ConnectTimeout(),
		ResponseTimeout:  cfg.ResponseTimeout(),
		Threshold:        cfg.AvailabilityThreshold,
		MaxSetupAttempts: cfg.MaxSetupAttempts,
		Unit:             cfg.Unit(),
		UnitAddresses:    cfg.UnitAddresses,
	}
	for key, caps := range cfg.UnitCapabilities {
		if out.Capabilities == nil {
			out.Capabilities = map[string]device.Capabilities{}
		}
		out.Capabilities[key] = deviceCapabilities(caps)
	}
	for _, u := range cfg.Units {
		unit := account.Unit{
			Serial:       u.Serial,
			Label:        u.Label,
			Address:      u.Address,
			UnitType:     u.UnitType,
			Password:     u.Password,
			CryptoSerial: u.CryptoSerial,
		}
		if u.Capabilities != nil {
			caps := deviceCapabilities(*u.Capabilities)
			unit.Capabilities = &caps
		}
		out.Units = append(out.Units, unit)
	}
	return out, nil
}

func deviceCapabilities(c config.UnitCapabilities) device.Capabilities {
	return device.Capabilities{
		HasDry:           c.HasDry,
		HasHeat:          c.HasHeat,
		HasVent:          c.HasVent,
		HasAuto:          c.HasAuto,
		HasVaneDirection: c.HasVaneDirection,
	}
}

// NewStore builds the directory cache backend.
func NewStore(cfg config.CacheConfig) (blob.Store, error) {
	switch cfg.Backend {
	case config.CacheBackendS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("cache.s3 is required")
		}
		return blob.NewS3Store(blob.S3Options{
			Endpoint:      cfg.S3.Endpoint,
			Bucket:        cfg.S3.Bucket,
			Prefix:        cfg.S3.Prefix,
			Region:        cfg.S3.Region,
			AccessKeyFile: cfg.S3.AccessKeyFile,
			SecretKeyFile: cfg.S3.SecretKeyFile,
		})
	case config.CacheBackendRedis:
		if cfg.Redis == nil {
			return nil, fmt.Errorf("cache.redis is required")
		}
		return blob.NewRedisStore(blob.RedisOptions{
			Addr:         cfg.Redis.Addr,
			PasswordFile: cfg.Redis.PasswordFile,
			DB:           cfg.Redis.DB,
			Prefix:       cfg.Redis.Prefix,
			TTL:          time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
	default:
		return blob.NewFileStore(filepath.Clean(cfg.Dir)), nil
	}
}

func (c Config) setupOptions() setup.Options {
	return setup.Options{
		CacheKey:         c.CacheKey,
		PreferCache:      c.PreferCache,
		LocalUnits:       c.Units,
		AddressOverrides: c.UnitAddresses,
		Capabilities:     c.Capabilities,
		Unit:             c.Unit,
		Threshold:        c.Threshold,
		MaxSetupAttempts: c.MaxSetupAttempts,
	}
}

func (c Config) deviceFactory(logger *slog.Logger) setup.DeviceFactory {
	return func(record device.Record) (device.Capability, error) {
		return device.NewLocalClient(record, device.ClientOptions{
			BridgeURL:       c.BridgeURL,
			ConnectTimeout:  c.ConnectTimeout,
			ResponseTimeout: c.ResponseTimeout,
			Logger:          logger,
		})
	}
}
