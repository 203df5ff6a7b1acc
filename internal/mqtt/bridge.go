package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joshp123/gokumo/internal/climate"
	"github.com/joshp123/gokumo/internal/coordinator"
	"github.com/joshp123/gokumo/internal/entity"
	"github.com/joshp123/gokumo/internal/setup"
)

const (
	DefaultPrefix  = "gokumo"
	commandTimeout = 15 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Bridge mirrors entity state onto retained topics and routes set commands to thermostats.
//
//	{prefix}/{unique_id}/state         retained JSON attributes
//	{prefix}/{unique_id}/availability  retained online|offline
//	{prefix}/{unique_id}/set/{command} temperature|hvac_mode|fan_mode|swing_mode|power
type Bridge struct {
	client Client
	prefix string
	logger *slog.Logger

	mu         sync.Mutex
	subscribed []string
}

func NewBridge(client Client, prefix string, logger *slog.Logger) *Bridge {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{client: client, prefix: prefix, logger: logger}
}

// StatusTopic is the bridge-wide availability topic, also used as the connection will.
func StatusTopic(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "/status"
}

func (b *Bridge) topic(uniqueID, leaf string) string {
	return b.prefix + "/" + uniqueID + "/" + leaf
}

// Attach publishes the device's entities now and after every refresh, and subscribes to
// commands for its thermostat.
func (b *Bridge) Attach(dev *setup.Device) error {
	if dev == nil || dev.Coordinator == nil {
		return fmt.Errorf("mqtt attach: no device")
	}
	entities := dev.Entities()
	dev.Coordinator.OnRefresh(func(coordinator.Outcome) {
		for _, e := range entities {
			b.publish(e)
		}
	})
	for _, e := range entities {
		b.publish(e)
	}

	if dev.Thermostat == nil {
		return nil
	}
	topic := b.topic(dev.Thermostat.UniqueID(), "set/+")
	if err := b.client.Subscribe(topic, b.commandHandler(dev.Thermostat)); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	b.mu.Lock()
	b.subscribed = append(b.subscribed, topic)
	b.mu.Unlock()
	return nil
}

// Online marks the bridge itself as up.
func (b *Bridge) Online() error {
	return b.client.Publish(StatusTopic(b.prefix), []byte(payloadOnline), true)
}

// Close drops command subscriptions and marks the bridge offline.
func (b *Bridge) Close() {
	b.mu.Lock()
	topics := b.subscribed
	b.subscribed = nil
	b.mu.Unlock()
	for _, topic := range topics {
		if err := b.client.Unsubscribe(topic); err != nil {
			b.logger.Warn("mqtt unsubscribe failed", "topic", topic, "error", err)
		}
	}
	if err := b.client.Publish(StatusTopic(b.prefix), []byte(payloadOffline), true); err != nil {
		b.logger.Warn("mqtt offline publish failed", "error", err)
	}
}

func (b *Bridge) publish(e entity.Entity) {
	availability := payloadOffline
	if e.Available() {
		availability = payloadOnline
	}
	if err := b.client.Publish(b.topic(e.UniqueID(), "availability"), []byte(availability), true); err != nil {
		b.logger.Warn("mqtt availability publish failed", "entity", e.UniqueID(), "error", err)
		return
	}

	state := e.Attributes()
	state["available"] = e.Available()
	state["name"] = e.Name()
	payload, err := json.Marshal(state)
	if err != nil {
		b.logger.Warn("mqtt state encode failed", "entity", e.UniqueID(), "error", err)
		return
	}
	if err := b.client.Publish(b.topic(e.UniqueID(), "state"), payload, true); err != nil {
		b.logger.Warn("mqtt state publish failed", "entity", e.UniqueID(), "error", err)
	}
}

func (b *Bridge) commandHandler(t *climate.Thermostat) func(string, []byte) {
	return func(topic string, payload []byte) {
		command := topic[strings.LastIndex(topic, "/")+1:]
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := dispatch(ctx, t, command, payload); err != nil {
			b.logger.Warn("mqtt command failed", "entity", t.UniqueID(), "command", command, "error", err)
			return
		}
		b.logger.Debug("mqtt command handled", "entity", t.UniqueID(), "command", command)
	}
}

func dispatch(ctx context.Context, t *climate.Thermostat, command string, payload []byte) error {
	value := strings.TrimSpace(string(payload))
	switch command {
	case "temperature":
		req, err := parseTemperature(payload)
		if err != nil {
			return err
		}
		return t.SetTemperature(ctx, req)
	case "hvac_mode":
		mode, ok := climate.ParseHVACMode(value)
		if !ok {
			return fmt.Errorf("unknown hvac mode %q", value)
		}
		return t.SetHVACMode(ctx, mode)
	case "fan_mode":
		return t.SetFanMode(ctx, value)
	case "swing_mode":
		return t.SetSwingMode(ctx, value)
	case "power":
		switch strings.ToLower(value) {
		case "on", "1", "true":
			return t.TurnOn(ctx)
		case "off", "0", "false":
			return t.TurnOff(ctx)
		}
		return fmt.Errorf("invalid power payload %q", value)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

type temperaturePayload struct {
	Temperature *float64 `json:"temperature"`
	Low         *float64 `json:"target_temp_low"`
	High        *float64 `json:"target_temp_high"`
	Mode        string   `json:"hvac_mode"`
}

// parseTemperature accepts a bare number or a JSON object.
func parseTemperature(payload []byte) (climate.TemperatureRequest, error) {
	raw := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return climate.TemperatureRequest{Temperature: &v}, nil
	}
	var body temperaturePayload
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return climate.TemperatureRequest{}, fmt.Errorf("invalid temperature payload: %w", err)
	}
	req := climate.TemperatureRequest{Temperature: body.Temperature, Low: body.Low, High: body.High}
	if body.Mode != "" {
		mode, ok := climate.ParseHVACMode(body.Mode)
		if !ok {
			return climate.TemperatureRequest{}, fmt.Errorf("unknown hvac mode %q", body.Mode)
		}
		req.Mode = mode
	}
	return req, nil
}
