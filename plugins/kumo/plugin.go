package kumo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/gokumo/internal/account"
	"github.com/joshp123/gokumo/internal/blob"
	"github.com/joshp123/gokumo/internal/config"
	"github.com/joshp123/gokumo/internal/core"
	"github.com/joshp123/gokumo/internal/mqtt"
	"github.com/joshp123/gokumo/internal/rate"
	"github.com/joshp123/gokumo/internal/scheduler"
	"github.com/joshp123/gokumo/internal/setup"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const (
	PluginID    = "kumo"
	ServiceName = "gokumo.plugins.kumo.v1.KumoService"

	retryJob = "kumo-setup-retry"
)

// Options wire the plugin. A nil Cloud means a rate-limited cloud login unless Config lists
// static units; a nil NewDevice means the bridge client. MQTT is optional.
type Options struct {
	Config    Config
	Logger    *slog.Logger
	Cloud     setup.DirectorySource
	Store     blob.Store
	NewDevice setup.DeviceFactory
	MQTT      mqtt.Client
	// TopicPrefix is used when MQTT is set.
	TopicPrefix string
}

// Plugin implements the GoKumo plugin contract.
type Plugin struct {
	cfg         Config
	logger      *slog.Logger
	integration *setup.Integration
	scheduler   *scheduler.Scheduler
	cloud       *account.CloudClient
	bridge      *mqtt.Bridge
	mqttClient  *mqtt.PahoClient
	metrics     *MetricsCollector

	mu            sync.RWMutex
	health        core.HealthStatus
	healthMessage string
	started       bool
}

var (
	_ core.Plugin         = (*Plugin)(nil)
	_ core.Starter        = (*Plugin)(nil)
	_ core.HTTPRegistrant = (*Plugin)(nil)
	_ rate.RateLimited    = (*Plugin)(nil)
)

// NewPlugin constructs the Kumo plugin from the loaded config file. The bool is false when
// the config has no kumo section.
func NewPlugin(cfg *config.Config, logger *slog.Logger) (core.Plugin, bool) {
	if cfg == nil || cfg.Kumo == nil {
		return nil, false
	}
	if logger == nil {
		logger = slog.Default()
	}

	runtimeCfg, err := ConfigFromFile(cfg.Kumo)
	if err != nil {
		return errorPlugin(err), true
	}
	runtimeCfg.CacheKey = cfg.Cache.Key

	store, err := NewStore(cfg.Cache)
	if err != nil {
		return errorPlugin(err), true
	}

	opts := Options{Config: runtimeCfg, Logger: logger, Store: store}
	var pahoClient *mqtt.PahoClient
	if m := cfg.MQTT; m != nil {
		password := ""
		if m.PasswordFile != "" {
			if password, err = config.ReadSecretFile(m.PasswordFile); err != nil {
				return errorPlugin(fmt.Errorf("read mqtt password: %w", err)), true
			}
		}
		pahoClient, err = mqtt.Connect(mqtt.Options{
			Broker:         m.Broker,
			Username:       m.Username,
			Password:       password,
			ClientIDPrefix: m.ClientIDPrefix,
			QoS:            m.QoS,
			WillTopic:      mqtt.StatusTopic(m.TopicPrefix),
			Logger:         logger,
		})
		if err != nil {
			return errorPlugin(err), true
		}
		opts.MQTT = pahoClient
		opts.TopicPrefix = m.TopicPrefix
	}

	p := New(opts)
	p.mqttClient = pahoClient
	return p, true
}

func errorPlugin(err error) *Plugin {
	return &Plugin{logger: slog.Default(), health: core.HealthError, healthMessage: err.Error()}
}

// New builds the plugin from resolved options.
func New(opts Options) *Plugin {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("plugin", PluginID)

	p := &Plugin{
		cfg:       opts.Config,
		logger:    logger,
		scheduler: scheduler.New(logger),
		health:    core.HealthDegraded,
	}

	setupOpts := opts.Config.setupOptions()
	setupOpts.Logger = logger
	setupOpts.Cache = opts.Store
	setupOpts.Cloud = opts.Cloud
	setupOpts.NewDevice = opts.NewDevice
	if setupOpts.NewDevice == nil {
		setupOpts.NewDevice = opts.Config.deviceFactory(logger)
	}
	if setupOpts.Cloud == nil && len(opts.Config.Units) == 0 {
		p.cloud = account.NewCloudClient(account.CloudOptions{
			BaseURL:  opts.Config.CloudURL,
			Username: opts.Config.Username,
			Password: opts.Config.Password,
		})
		setupOpts.Cloud = p.cloud
	}
	p.integration = setup.New(setupOpts)

	if opts.MQTT != nil {
		p.bridge = mqtt.NewBridge(opts.MQTT, opts.TopicPrefix, logger)
	}
	p.metrics = NewMetricsCollector(p.integration)

	p.integration.OnDeviceReady(p.deviceReady)
	return p
}

func (p *Plugin) deviceReady(dev *setup.Device) {
	serial := dev.Coordinator.Serial()
	if err := p.scheduler.Every("kumo-poll-"+serial, p.cfg.ScanInterval, func(ctx context.Context) {
		dev.Coordinator.Refresh(ctx)
	}); err != nil {
		p.logger.Error("kumo poll job failed", "serial", serial, "error", err)
	}
	if p.bridge != nil {
		if err := p.bridge.Attach(dev); err != nil {
			p.logger.Warn("kumo mqtt attach failed", "serial", serial, "error", err)
		}
	}
}

// Start runs setup once, then schedules polling and retries for units that were not ready.
func (p *Plugin) Start(ctx context.Context) error {
	if p.integration == nil {
		return fmt.Errorf("kumo plugin not configured: %s", p.HealthMessage())
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	if p.bridge != nil {
		if err := p.bridge.Online(); err != nil {
			p.logger.Warn("kumo mqtt online publish failed", "error", err)
		}
	}

	if err := p.integration.Setup(ctx); err != nil {
		p.setHealth(core.HealthError, err.Error())
		if !retryableSetup(err) || p.cfg.RetryInterval <= 0 {
			p.mu.Lock()
			p.started = false
			p.mu.Unlock()
			return fmt.Errorf("kumo setup: %w", err)
		}
		p.logger.Warn("kumo cloud unreachable, setup will be retried", "interval", p.cfg.RetryInterval, "error", err)
	}

	loaded := p.integration.Loaded()
	if (!loaded || len(p.integration.Pending()) > 0) && p.cfg.RetryInterval > 0 {
		if err := p.scheduler.Every(retryJob, p.cfg.RetryInterval, p.retry); err != nil {
			return err
		}
	}
	p.scheduler.Start()
	if loaded {
		p.updateHealth()
	}
	return nil
}

// retryableSetup is true for failures that may clear without user action.
func retryableSetup(err error) bool {
	return errors.Is(err, account.ErrCannotConnect)
}

// retry finishes a setup that could not reach the cloud, then brings up pending units.
func (p *Plugin) retry(ctx context.Context) {
	if p.integration.Loaded() {
		p.retryPending(ctx)
		return
	}

	err := p.integration.Setup(ctx)
	switch {
	case errors.Is(err, setup.ErrSetupInProgress):
		return
	case err != nil && retryableSetup(err):
		p.logger.Warn("kumo setup retry failed", "error", err)
		p.setHealth(core.HealthError, err.Error())
		return
	case err != nil:
		p.logger.Error("kumo setup failed, not retrying", "error", err)
		p.setHealth(core.HealthError, err.Error())
		p.scheduler.Remove(retryJob)
		return
	}
	p.logger.Info("kumo setup recovered", "source", p.integration.Source())
	if len(p.integration.Pending()) == 0 {
		p.scheduler.Remove(retryJob)
	}
	p.updateHealth()
}

func (p *Plugin) retryPending(ctx context.Context) {
	if err := p.integration.RetryPending(ctx); err != nil {
		p.logger.Debug("kumo units still pending", "error", err)
	}
	if len(p.integration.Pending()) == 0 {
		p.scheduler.Remove(retryJob)
	}
	p.updateHealth()
}

// Stop halts polling, detaches MQTT and drops every entity. The plugin cannot be restarted.
func (p *Plugin) Stop() {
	if p.integration == nil {
		return
	}
	p.scheduler.Stop()
	if p.bridge != nil {
		p.bridge.Close()
	}
	if p.mqttClient != nil {
		p.mqttClient.Close()
	}
	p.integration.Unload()
}

func (p *Plugin) updateHealth() {
	pending := p.integration.Pending()
	failed := p.integration.Failed()
	switch {
	case len(p.integration.Devices()) == 0:
		p.setHealth(core.HealthDegraded, fmt.Sprintf("%d units pending", len(pending)))
	case len(pending) > 0 || len(failed) > 0:
		p.setHealth(core.HealthDegraded, fmt.Sprintf("%d units pending, %d failed", len(pending), len(failed)))
	default:
		p.setHealth(core.HealthHealthy, "")
	}
}

func (p *Plugin) setHealth(status core.HealthStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.health = status
	p.healthMessage = message
}

func (p *Plugin) ID() string {
	return PluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    PluginID,
		DisplayName: "Mitsubishi Kumo",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) RateLimits() rate.Declaration {
	return account.RateLimits()
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "kumo-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server *grpc.Server) error {
	return RegisterKumoService(server, p.integration)
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.metrics == nil {
		return nil
	}
	return []prometheus.Collector{p.metrics}
}

func (p *Plugin) Health() core.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

func (p *Plugin) HealthMessage() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthMessage
}

// Integration exposes the underlying setup instance.
func (p *Plugin) Integration() *setup.Integration {
	return p.integration
}
