package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/joshp123/gokumo/internal/account"
	"github.com/joshp123/gokumo/internal/blob"
	"github.com/joshp123/gokumo/internal/climate"
	"github.com/joshp123/gokumo/internal/coordinator"
	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/entity"
	"github.com/joshp123/gokumo/internal/sensor"
	"github.com/joshp123/gokumo/internal/temperature"
)

const DefaultMaxSetupAttempts = 10

const (
	SourceCloud = "cloud"
	SourceCache = "cache"
	SourceLocal = "local"
)

// DirectorySource fetches the raw account directory.
type DirectorySource interface {
	Login(ctx context.Context) ([]byte, error)
}

// DeviceFactory builds the access capability for one unit.
type DeviceFactory func(device.Record) (device.Capability, error)

type Options struct {
	Cloud            DirectorySource
	Cache            blob.Store
	CacheKey         string
	PreferCache      bool
	LocalUnits       []account.Unit
	AddressOverrides map[string]string
	Capabilities     map[string]device.Capabilities
	NewDevice        DeviceFactory
	Unit             temperature.Unit
	Threshold        int
	MaxSetupAttempts int
	Logger           *slog.Logger
}

// Device is one brought-up unit and the entities it backs.
type Device struct {
	Coordinator *coordinator.Coordinator
	Thermostat  *climate.Thermostat
	Sensors     []*sensor.Sensor
}

func (d *Device) Entities() []entity.Entity {
	var out []entity.Entity
	if d.Thermostat != nil {
		out = append(out, d.Thermostat)
	}
	for _, s := range d.Sensors {
		out = append(out, s)
	}
	return out
}

func (d *Device) close() {
	if d.Thermostat != nil {
		d.Thermostat.Close()
	}
	for _, s := range d.Sensors {
		s.Close()
	}
}

type pendingDevice struct {
	coordinator *coordinator.Coordinator
	attempts    int
}

// Integration owns every piece of state for one configured account.
type Integration struct {
	opts      Options
	logger    *slog.Logger
	lastModes *climate.LastModeStore

	mu        sync.Mutex
	setUp     bool
	settingUp bool
	source    string
	directory *account.Directory
	devices   map[string]*Device
	order     []string
	pending   map[string]*pendingDevice
	failed    map[string]error
	listeners []func(*Device)
}

func New(opts Options) *Integration {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxSetupAttempts <= 0 {
		opts.MaxSetupAttempts = DefaultMaxSetupAttempts
	}
	if opts.CacheKey == "" {
		opts.CacheKey = "kumo_cache"
	}
	if opts.Unit == "" {
		opts.Unit = temperature.Celsius
	}
	return &Integration{
		opts:      opts,
		logger:    opts.Logger,
		lastModes: climate.NewLastModeStore(),
		devices:   map[string]*Device{},
		pending:   map[string]*pendingDevice{},
		failed:    map[string]error{},
	}
}

// Loaded reports whether Setup has completed since construction or the last Unload.
func (i *Integration) Loaded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.setUp
}

// OnDeviceReady registers fn to run for every device once it has been brought up.
func (i *Integration) OnDeviceReady(fn func(*Device)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

// Setup loads the directory and brings up every unit once. Units that do not answer stay
// pending for RetryPending. Calling Setup again is a no-op until Unload; a call made while
// another is running returns ErrSetupInProgress.
func (i *Integration) Setup(ctx context.Context) error {
	if i.opts.NewDevice == nil {
		return fmt.Errorf("kumo setup needs a device factory")
	}
	i.mu.Lock()
	if i.setUp {
		i.mu.Unlock()
		return nil
	}
	if i.settingUp {
		i.mu.Unlock()
		return ErrSetupInProgress
	}
	i.settingUp = true
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.settingUp = false
		i.mu.Unlock()
	}()

	dir, source, err := i.loadDirectory(ctx)
	if err != nil {
		return err
	}
	dir = dir.WithAddresses(i.opts.AddressOverrides).WithCapabilities(i.opts.Capabilities)

	i.mu.Lock()
	i.directory = dir
	i.source = source
	for _, serial := range dir.AllUnits() {
		record, _ := dir.Record(serial)
		if strings.TrimSpace(record.Address) == "" {
			i.logger.Warn("kumo unit has no address, skipping", "serial", serial, "name", record.Name)
			continue
		}
		dev, err := i.opts.NewDevice(record)
		if err != nil {
			i.logger.Warn("kumo unit client failed", "serial", serial, "error", err)
			i.failed[serial] = fmt.Errorf("%w: %s: %v", ErrSetupFailed, serial, err)
			continue
		}
		coord := coordinator.New(dev, record,
			coordinator.WithThreshold(i.opts.Threshold),
			coordinator.WithLogger(i.logger),
		)
		i.pending[serial] = &pendingDevice{coordinator: coord}
	}
	i.setUp = true
	i.mu.Unlock()

	if err := i.RetryPending(ctx); err != nil {
		i.logger.Warn("kumo setup incomplete", "error", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.devices) == 0 && len(i.pending) == 0 {
		i.setUp = false
		return ErrNoDevices
	}
	i.logger.Info("kumo setup complete", "source", source, "ready", len(i.devices), "pending", len(i.pending))
	return nil
}

// RetryPending performs one bring-up attempt per pending unit. The returned error joins a
// NotReadyError per unit still pending and ErrSetupFailed for units that ran out of attempts.
func (i *Integration) RetryPending(ctx context.Context) error {
	i.mu.Lock()
	serials := make([]string, 0, len(i.pending))
	for serial := range i.pending {
		serials = append(serials, serial)
	}
	i.mu.Unlock()
	sort.Strings(serials)

	var errs []error
	for _, serial := range serials {
		i.mu.Lock()
		p, ok := i.pending[serial]
		if ok {
			p.attempts++
		}
		i.mu.Unlock()
		if !ok {
			continue
		}

		if p.coordinator.Refresh(ctx) == coordinator.Success {
			i.bringUp(serial, p.coordinator)
			continue
		}

		i.mu.Lock()
		if p.attempts >= i.opts.MaxSetupAttempts {
			delete(i.pending, serial)
			err := fmt.Errorf("%w: %s did not answer after %d attempts", ErrSetupFailed, serial, p.attempts)
			i.failed[serial] = err
			errs = append(errs, err)
			i.logger.Error("kumo unit abandoned", "serial", serial, "attempts", p.attempts)
		} else {
			errs = append(errs, &NotReadyError{Serial: serial, Attempt: p.attempts, MaxAttempts: i.opts.MaxSetupAttempts})
		}
		i.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (i *Integration) bringUp(serial string, coord *coordinator.Coordinator) {
	dev := &Device{Coordinator: coord}
	kind := coord.Record().Kind
	if kind == device.KindIndoorUnit {
		dev.Thermostat = climate.NewThermostat(coord, climate.Options{
			Unit:      i.opts.Unit,
			Logger:    i.logger,
			LastModes: i.lastModes,
		})
		dev.Thermostat.Start()
	}
	for _, desc := range sensor.ForKind(kind) {
		s := sensor.New(coord, desc, i.opts.Unit)
		s.Start()
		dev.Sensors = append(dev.Sensors, s)
	}

	i.mu.Lock()
	delete(i.pending, serial)
	i.devices[serial] = dev
	i.order = append(i.order, serial)
	listeners := slices.Clone(i.listeners)
	i.mu.Unlock()

	i.logger.Info("kumo unit ready", "serial", serial, "name", coord.Record().Name, "kind", kind)
	for _, fn := range listeners {
		fn(dev)
	}
}

func (i *Integration) loadDirectory(ctx context.Context) (*account.Directory, string, error) {
	if len(i.opts.LocalUnits) > 0 {
		dir, err := account.FromUnits(i.opts.LocalUnits)
		if err != nil {
			return nil, "", err
		}
		return dir, SourceLocal, nil
	}

	order := []string{SourceCloud, SourceCache}
	if i.opts.PreferCache {
		order = []string{SourceCache, SourceCloud}
	}

	var errs []error
	for n, source := range order {
		var (
			dir *account.Directory
			err error
		)
		if source == SourceCloud {
			dir, err = i.loadLive(ctx)
		} else {
			dir, err = i.loadCache(ctx)
		}
		if err == nil {
			if n > 0 {
				i.logger.Info("kumo directory loaded as fallback", "source", source)
			} else {
				i.logger.Info("kumo directory loaded", "source", source)
			}
			return dir, source, nil
		}
		i.logger.Warn("kumo directory load failed", "source", source, "error", err)
		errs = append(errs, err)
	}
	return nil, "", fmt.Errorf("%w: %w", ErrNoDirectory, errors.Join(errs...))
}

func (i *Integration) loadLive(ctx context.Context) (*account.Directory, error) {
	if i.opts.Cloud == nil {
		return nil, fmt.Errorf("no cloud account configured")
	}
	raw, err := i.opts.Cloud.Login(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := account.Parse(raw, i.logger)
	if err != nil {
		return nil, err
	}
	if i.opts.Cache != nil {
		if err := i.opts.Cache.Save(ctx, i.opts.CacheKey, dir.Raw()); err != nil {
			i.logger.Warn("kumo directory cache save failed", "error", err)
		}
	}
	return dir, nil
}

func (i *Integration) loadCache(ctx context.Context) (*account.Directory, error) {
	if i.opts.Cache == nil {
		return nil, fmt.Errorf("no directory cache configured")
	}
	raw, err := i.opts.Cache.Load(ctx, i.opts.CacheKey)
	if err != nil {
		return nil, err
	}
	return account.Parse(raw, i.logger)
}

// Unload removes every entity subscription and forgets all devices.
func (i *Integration) Unload() {
	i.mu.Lock()
	devices := i.devices
	i.devices = map[string]*Device{}
	i.order = nil
	i.pending = map[string]*pendingDevice{}
	i.failed = map[string]error{}
	i.directory = nil
	i.source = ""
	i.setUp = false
	i.mu.Unlock()

	for _, dev := range devices {
		dev.close()
	}
}

func (i *Integration) Devices() []*Device {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*Device, 0, len(i.order))
	for _, serial := range i.order {
		out = append(out, i.devices[serial])
	}
	return out
}

func (i *Integration) Device(serial string) (*Device, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	dev, ok := i.devices[serial]
	return dev, ok
}

func (i *Integration) Entities() []entity.Entity {
	var out []entity.Entity
	for _, dev := range i.Devices() {
		out = append(out, dev.Entities()...)
	}
	return out
}

func (i *Integration) Entity(uniqueID string) (entity.Entity, bool) {
	for _, e := range i.Entities() {
		if e.UniqueID() == uniqueID {
			return e, true
		}
	}
	return nil, false
}

func (i *Integration) Thermostat(uniqueID string) (*climate.Thermostat, bool) {
	e, ok := i.Entity(uniqueID)
	if !ok {
		return nil, false
	}
	t, ok := e.(*climate.Thermostat)
	return t, ok
}

func (i *Integration) Pending() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.pending))
	for serial := range i.pending {
		out = append(out, serial)
	}
	sort.Strings(out)
	return out
}

func (i *Integration) Failed() map[string]error {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]error, len(i.failed))
	for serial, err := range i.failed {
		out[serial] = err
	}
	return out
}

func (i *Integration) Source() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.source
}

func (i *Integration) Directory() *account.Directory {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.directory
}

func (i *Integration) LastModes() *climate.LastModeStore {
	return i.lastModes
}
