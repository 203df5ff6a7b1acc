package mqtt

import (
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Client is the broker surface the bridge needs.
type Client interface {
	Publish(topic string, payload []byte, retain bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
}

type Options struct {
	Broker         string
	Username       string
	Password       string
	ClientIDPrefix string
	QoS            int
	// WillTopic receives "offline" if the connection drops.
	WillTopic string
	Logger    *slog.Logger
}

// PahoClient wraps a connected paho client. Subscriptions are replayed on every
// reconnect since sessions are not persisted by the broker.
type PahoClient struct {
	cli    paho.Client
	qos    byte
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]paho.MessageHandler
}

func newPahoClient(qos int, logger *slog.Logger) *PahoClient {
	return &PahoClient{qos: byte(qos), logger: logger, subs: map[string]paho.MessageHandler{}}
}

func Connect(opts Options) (*PahoClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broker, err := normalizeBroker(opts.Broker)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimSpace(opts.ClientIDPrefix)
	if prefix == "" {
		prefix = "gokumo"
	}

	co := paho.NewClientOptions()
	co.AddBroker(broker)
	co.SetClientID(prefix + "-" + uuid.NewString())
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(5 * time.Second)
	co.SetOrderMatters(false)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	if opts.WillTopic != "" {
		co.SetWill(opts.WillTopic, "offline", byte(opts.QoS), true)
	}
	pc := newPahoClient(opts.QoS, logger)
	co.OnConnect = func(cli paho.Client) {
		logger.Info("mqtt connected", "broker", broker)
		pc.resubscribeAll(cli)
	}
	co.OnConnectionLost = func(_ paho.Client, err error) { logger.Warn("mqtt connection lost", "error", err) }

	pc.cli = paho.NewClient(co)
	token := pc.cli.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	return pc, nil
}

func normalizeBroker(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("mqtt broker is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid mqtt broker %q", raw)
	}
	switch u.Scheme {
	case "mqtt", "tcp":
		return "tcp://" + u.Host, nil
	case "ssl", "tls", "mqtts":
		return "ssl://" + u.Host, nil
	case "ws", "wss":
		return u.Scheme + "://" + u.Host + u.Path, nil
	default:
		return "", fmt.Errorf("unsupported mqtt scheme %q", u.Scheme)
	}
}

func (c *PahoClient) Publish(topic string, payload []byte, retain bool) error {
	token := c.cli.Publish(topic, c.qos, retain, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *PahoClient) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	callback := func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	}
	c.mu.Lock()
	c.subs[topic] = callback
	c.mu.Unlock()

	token := c.cli.Subscribe(topic, c.qos, callback)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	c.logger.Debug("mqtt subscribed", "topic", topic)
	return nil
}

func (c *PahoClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	token := c.cli.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (c *PahoClient) resubscribeAll(cli paho.Client) {
	c.mu.Lock()
	subs := maps.Clone(c.subs)
	c.mu.Unlock()

	for topic, callback := range subs {
		token := cli.Subscribe(topic, c.qos, callback)
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt resubscribe failed", "topic", topic, "error", token.Error())
			continue
		}
		c.logger.Debug("mqtt resubscribed", "topic", topic)
	}
}

func (c *PahoClient) Close() {
	c.cli.Disconnect(250)
}
