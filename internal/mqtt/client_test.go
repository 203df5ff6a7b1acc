package mqtt

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeBroker keeps the subscriptions of the current session only.
type fakeBroker struct {
	paho.Client

	mu       sync.Mutex
	handlers map[string]paho.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: map[string]paho.MessageHandler{}}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = callback
	return doneToken{}
}

func (b *fakeBroker) Unsubscribe(topics ...string) paho.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range topics {
		delete(b.handlers, topic)
	}
	return doneToken{}
}

// dropSession forgets every subscription, as a clean-session reconnect does.
func (b *fakeBroker) dropSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = map[string]paho.MessageHandler{}
}

func (b *fakeBroker) deliver(filter, topic, payload string) bool {
	b.mu.Lock()
	handler, ok := b.handlers[filter]
	b.mu.Unlock()
	if !ok {
		return false
	}
	handler(b, inbound{topic: topic, payload: []byte(payload)})
	return true
}

type inbound struct {
	paho.Message
	topic   string
	payload []byte
}

func (m inbound) Topic() string   { return m.topic }
func (m inbound) Payload() []byte { return m.payload }

func TestReconnectRestoresSubscriptions(t *testing.T) {
	broker := newFakeBroker()
	client := newPahoClient(1, slog.Default())
	client.cli = broker

	var got []string
	if err := client.Subscribe("kumo/1234/set/+", func(topic string, payload []byte) {
		got = append(got, topic+"="+string(payload))
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Subscribe("kumo/5678/set/+", func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := client.Unsubscribe("kumo/5678/set/+"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}

	broker.dropSession()
	if broker.deliver("kumo/1234/set/+", "kumo/1234/set/mode", "heat") {
		t.Fatalf("dropped session should not deliver")
	}

	client.resubscribeAll(broker)
	if !broker.deliver("kumo/1234/set/+", "kumo/1234/set/mode", "heat") {
		t.Fatalf("subscription not restored after reconnect")
	}
	if broker.deliver("kumo/5678/set/+", "kumo/5678/set/mode", "cool") {
		t.Fatalf("unsubscribed topic was restored")
	}
	if len(got) != 1 || got[0] != "kumo/1234/set/mode=heat" {
		t.Fatalf("got = %v", got)
	}
}
