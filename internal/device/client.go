package device

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joshp123/gokumo/internal/temperature"
)

const (
	DefaultConnectTimeout  = 1200 * time.Millisecond
	DefaultResponseTimeout = 8 * time.Second
)

var (
	indoorFanSpeeds = []string{"superQuiet", "quiet", "low", "powerful", "superPowerful", "auto"}
	vaneDirections  = []string{"auto", "horizontal", "midhorizontal", "midpoint", "midvertical", "vertical", "swing"}
)

// ClientOptions configure the LAN client for a single unit.
type ClientOptions struct {
	// BridgeURL routes every unit through a shared kumojs bridge instead of the unit address.
	BridgeURL       string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	Logger          *slog.Logger
}

// LocalClient talks to a unit (or a kumojs bridge in front of it) over the room REST API.
type LocalClient struct {
	record       Record
	capabilities Capabilities
	baseURL      string
	httpClient   *http.Client
	logger       *slog.Logger

	mu     sync.RWMutex
	status Status
}

var _ Capability = (*LocalClient)(nil)

func NewLocalClient(record Record, opts ClientOptions) (*LocalClient, error) {
	baseURL, err := resolveBaseURL(record.Address, opts.BridgeURL)
	if err != nil {
		return nil, err
	}

	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	responseTimeout := opts.ResponseTimeout
	if responseTimeout <= 0 {
		responseTimeout = DefaultResponseTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: connectTimeout}).DialContext,
		ResponseHeaderTimeout: responseTimeout,
		MaxIdleConnsPerHost:   1,
	}

	return &LocalClient{
		record:  record,
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + responseTimeout,
		},
		logger:       logger.With("serial", record.Serial),
		capabilities: record.Capabilities,
	}, nil
}

func resolveBaseURL(address, bridgeURL string) (string, error) {
	raw := strings.TrimSpace(bridgeURL)
	if raw == "" {
		raw = strings.TrimSpace(address)
	}
	if raw == "" {
		return "", fmt.Errorf("unit address is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid unit address %q", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *LocalClient) Serial() string { return c.record.Serial }

func (c *LocalClient) Name() string { return c.record.Name }

// UpdateStatus fetches the room status once. Failures are reported as false, never as errors.
func (c *LocalClient) UpdateStatus(ctx context.Context) bool {
	body, err := c.do(ctx, http.MethodGet, "status")
	if err != nil {
		c.logger.Debug("kumo status fetch failed", "error", err)
		return false
	}

	var payload statusPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Debug("kumo status decode failed", "error", err)
		return false
	}

	status, ok := payload.toStatus(c.record.Kind)
	if !ok {
		c.logger.Debug("kumo status payload missing unit section")
		return false
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return true
}

func (c *LocalClient) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Capabilities are fixed by the record the client was built from.
func (c *LocalClient) Capabilities() Capabilities {
	return c.capabilities
}

func (c *LocalClient) FanSpeeds() []string {
	if c.record.Kind != KindIndoorUnit {
		return nil
	}
	return append([]string(nil), indoorFanSpeeds...)
}

func (c *LocalClient) VaneDirections() []string {
	if c.record.Kind != KindIndoorUnit || !c.Capabilities().HasVaneDirection {
		return nil
	}
	return append([]string(nil), vaneDirections...)
}

func (c *LocalClient) SetMode(ctx context.Context, mode string) (string, error) {
	return c.put(ctx, "mode", mode)
}

func (c *LocalClient) SetCoolSetpoint(ctx context.Context, celsius float64) (string, error) {
	return c.put(ctx, "cool", "temp", formatFahrenheit(celsius))
}

func (c *LocalClient) SetHeatSetpoint(ctx context.Context, celsius float64) (string, error) {
	return c.put(ctx, "heat", "temp", formatFahrenheit(celsius))
}

func (c *LocalClient) SetFanSpeed(ctx context.Context, speed string) (string, error) {
	return c.put(ctx, "speed", speed)
}

func (c *LocalClient) SetVaneDirection(ctx context.Context, direction string) (string, error) {
	return c.put(ctx, "vent", direction)
}

// The room API only accepts setpoints in whole Fahrenheit.
func formatFahrenheit(celsius float64) string {
	f := temperature.CToF(&celsius)
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func (c *LocalClient) put(ctx context.Context, segments ...string) (string, error) {
	body, err := c.do(ctx, http.MethodPut, segments...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *LocalClient) do(ctx context.Context, method string, segments ...string) ([]byte, error) {
	escaped := make([]string, 0, len(segments)+3)
	escaped = append(escaped, "v0", "room", url.PathEscape(c.record.Name))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	endpoint := c.baseURL + "/" + strings.Join(escaped, "/")

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request %s: %d %s", endpoint, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}
