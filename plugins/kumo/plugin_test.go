package kumo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/joshp123/gokumo/internal/account"
	"github.com/joshp123/gokumo/internal/blob"
	"github.com/joshp123/gokumo/internal/config"
	"github.com/joshp123/gokumo/internal/core"
	"github.com/joshp123/gokumo/internal/device"
	"github.com/joshp123/gokumo/internal/device/devicetest"
	"github.com/joshp123/gokumo/internal/temperature"
)

const liveDirectory = `[{},{},{"children":[{"zoneTable":{
  "1111":{"label":"Den","address":"10.0.0.11","password":"p","cryptoSerial":"c"},
  "2222":{"label":"Station","address":"10.0.0.22","unitType":"kumoStation"}
}}]}]`

type fakeCloud struct {
	mu  sync.Mutex
	raw string
	err error
}

func (f *fakeCloud) Login(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.raw), nil
}

func (f *fakeCloud) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fleet struct {
	mu      sync.Mutex
	fakes   map[string]*devicetest.Fake
	scripts map[string][]bool
}

func newFleet() *fleet {
	return &fleet{fakes: map[string]*devicetest.Fake{}, scripts: map[string][]bool{}}
}

func (f *fleet) factory(record device.Record) (device.Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fake := devicetest.New(record.Serial, device.Capabilities{HasHeat: true, HasAuto: true, HasVaneDirection: true})
	if script, ok := f.scripts[record.Serial]; ok {
		fake.Script(script...)
	}
	fake.SetStatus(device.Status{
		Mode:         devicetest.Ptr("heat"),
		Standby:      devicetest.Ptr(false),
		HeatSetpoint: devicetest.Ptr(21.0),
		CoolSetpoint: devicetest.Ptr(25.0),
		CurrentTemp:  devicetest.Ptr(19.5),
		Humidity:     devicetest.Ptr(40.0),
		WifiRSSI:     devicetest.Ptr(-60.0),
		OutdoorTemp:  devicetest.Ptr(5.0),
	})
	f.fakes[record.Serial] = fake
	return fake, nil
}

func (f *fleet) get(serial string) *devicetest.Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fakes[serial]
}

type published struct {
	mu       sync.Mutex
	messages map[string]string
	topics   map[string]bool
}

func newPublished() *published {
	return &published{messages: map[string]string{}, topics: map[string]bool{}}
}

func (p *published) Publish(topic string, payload []byte, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[topic] = string(payload)
	return nil
}

func (p *published) Subscribe(topic string, _ func(string, []byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics[topic] = true
	return nil
}

func (p *published) Unsubscribe(topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.topics, topic)
	return nil
}

func (p *published) get(topic string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.messages[topic]
	return v, ok
}

func testConfig() Config {
	return Config{
		ScanInterval:     time.Minute,
		RetryInterval:    time.Minute,
		Threshold:        3,
		MaxSetupAttempts: 5,
		Unit:             temperature.Celsius,
		CacheKey:         "kumo-test",
	}
}

func newTestPlugin(t *testing.T, fl *fleet, opts Options) *Plugin {
	t.Helper()
	opts.Config = testConfig()
	if opts.Cloud == nil {
		opts.Cloud = &fakeCloud{raw: liveDirectory}
	}
	if opts.Store == nil {
		opts.Store = blob.NewFileStore(t.TempDir())
	}
	opts.NewDevice = fl.factory
	p := New(opts)
	t.Cleanup(p.Stop)
	return p
}

func startedPlugin(t *testing.T) (*Plugin, *fleet) {
	t.Helper()
	fl := newFleet()
	p := newTestPlugin(t, fl, Options{})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return p, fl
}

func TestStartSchedulesPollingAndRetries(t *testing.T) {
	fl := newFleet()
	fl.scripts["1111"] = []bool{false}
	mq := newPublished()
	p := newTestPlugin(t, fl, Options{MQTT: mq, TopicPrefix: "home"})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := p.Integration().Pending(); !slices.Equal(got, []string{"1111"}) {
		t.Fatalf("pending = %v", got)
	}
	if p.Health() != core.HealthDegraded {
		t.Fatalf("health = %s", p.Health())
	}
	jobs := p.scheduler.Jobs()
	if !slices.Contains(jobs, "kumo-poll-2222") || !slices.Contains(jobs, retryJob) {
		t.Fatalf("jobs = %v", jobs)
	}
	if slices.Contains(jobs, "kumo-poll-1111") {
		t.Fatalf("pending unit should not be polled yet: %v", jobs)
	}
	if v, _ := mq.get("home/status"); v != "online" {
		t.Fatalf("status = %q", v)
	}
	if _, ok := mq.get("home/2222-outdoor-temperature/state"); !ok {
		t.Fatalf("station sensor not published")
	}

	fl.get("1111").Script(true)
	p.retryPending(context.Background())

	if got := p.Integration().Pending(); len(got) != 0 {
		t.Fatalf("pending after retry = %v", got)
	}
	if p.Health() != core.HealthHealthy {
		t.Fatalf("health = %s (%s)", p.Health(), p.HealthMessage())
	}
	jobs = p.scheduler.Jobs()
	if !slices.Contains(jobs, "kumo-poll-1111") || slices.Contains(jobs, retryJob) {
		t.Fatalf("jobs after retry = %v", jobs)
	}
	if _, ok := mq.get("home/1111/state"); !ok {
		t.Fatalf("thermostat state not published")
	}

	p.Stop()
	if v, _ := mq.get("home/status"); v != "offline" {
		t.Fatalf("status after stop = %q", v)
	}
	if len(p.Integration().Devices()) != 0 {
		t.Fatalf("devices not unloaded")
	}
}

func TestStartFailsWithoutDirectory(t *testing.T) {
	p := newTestPlugin(t, newFleet(), Options{Cloud: &fakeCloud{err: errors.New("offline")}})
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if p.Health() != core.HealthError {
		t.Fatalf("health = %s", p.Health())
	}
}

func TestStartRetriesSetupWhenCloudUnreachable(t *testing.T) {
	cloud := &fakeCloud{raw: liveDirectory, err: fmt.Errorf("%w: dial tcp: timeout", account.ErrCannotConnect)}
	p := newTestPlugin(t, newFleet(), Options{Cloud: cloud})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Integration().Loaded() || p.Health() != core.HealthError {
		t.Fatalf("loaded = %v health = %s", p.Integration().Loaded(), p.Health())
	}
	if jobs := p.scheduler.Jobs(); !slices.Equal(jobs, []string{retryJob}) {
		t.Fatalf("jobs = %v", jobs)
	}

	p.retry(context.Background())
	if p.Integration().Loaded() || !slices.Contains(p.scheduler.Jobs(), retryJob) {
		t.Fatalf("failed retry must stay scheduled: %v", p.scheduler.Jobs())
	}

	cloud.setErr(nil)
	p.retry(context.Background())
	if !p.Integration().Loaded() || len(p.Integration().Devices()) != 2 {
		t.Fatalf("setup did not recover: %d devices", len(p.Integration().Devices()))
	}
	if p.Health() != core.HealthHealthy {
		t.Fatalf("health = %s (%s)", p.Health(), p.HealthMessage())
	}
	jobs := p.scheduler.Jobs()
	if slices.Contains(jobs, retryJob) || !slices.Contains(jobs, "kumo-poll-1111") {
		t.Fatalf("jobs after recovery = %v", jobs)
	}
}

func TestStartGivesUpOnInvalidAuth(t *testing.T) {
	p := newTestPlugin(t, newFleet(), Options{Cloud: &fakeCloud{err: account.ErrInvalidAuth}})
	if err := p.Start(context.Background()); !errors.Is(err, account.ErrInvalidAuth) {
		t.Fatalf("expected invalid auth, got %v", err)
	}
	if slices.Contains(p.scheduler.Jobs(), retryJob) {
		t.Fatalf("invalid credentials must not be retried")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	p, fl := startedPlugin(t)
	before := fl.get("2222").Updates()
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if fl.get("2222").Updates() != before {
		t.Fatalf("second Start polled again")
	}
}

func TestNewPluginRequiresKumoSection(t *testing.T) {
	if _, ok := NewPlugin(&config.Config{}, nil); ok {
		t.Fatalf("expected plugin to be disabled")
	}
}

func TestNewPluginReportsSecretErrors(t *testing.T) {
	cfg := &config.Config{Kumo: &config.KumoConfig{
		Username:     "user@example.com",
		PasswordFile: filepath.Join(t.TempDir(), "missing"),
	}}
	plugin, ok := NewPlugin(cfg, nil)
	if !ok {
		t.Fatalf("expected plugin")
	}
	p := plugin.(*Plugin)
	if p.Health() != core.HealthError || p.HealthMessage() == "" {
		t.Fatalf("health = %s %q", p.Health(), p.HealthMessage())
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail")
	}
	p.Stop()
}

func TestConfigFromFile(t *testing.T) {
	secret := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(secret, []byte("hunter2\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	cfg, err := ConfigFromFile(&config.KumoConfig{
		Username:            "user@example.com",
		PasswordFile:        secret,
		ScanIntervalSeconds: 60,
		TemperatureUnit:     "fahrenheit",
		Units: []config.UnitConfig{
			{Serial: "9999", Address: "10.0.0.9", Capabilities: &config.UnitCapabilities{HasHeat: true}},
			{Serial: "8888", Address: "10.0.0.8"},
		},
		UnitCapabilities: map[string]config.UnitCapabilities{"Den": {HasDry: true}},
	})
	if err != nil {
		t.Fatalf("ConfigFromFile: %v", err)
	}
	if cfg.Password != "hunter2" || cfg.ScanInterval != time.Minute || cfg.Unit != temperature.Fahrenheit {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if len(cfg.Units) != 2 || cfg.Units[0].Serial != "9999" {
		t.Fatalf("units = %+v", cfg.Units)
	}
	if caps := cfg.Units[0].Capabilities; caps == nil || *caps != (device.Capabilities{HasHeat: true}) {
		t.Fatalf("unit capabilities = %+v", caps)
	}
	if cfg.Units[1].Capabilities != nil {
		t.Fatalf("unconfigured unit should fall back to defaults")
	}
	if cfg.Capabilities["Den"] != (device.Capabilities{HasDry: true}) {
		t.Fatalf("capability overrides = %+v", cfg.Capabilities)
	}
}
