package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshp123/gokumo/internal/availability"
	"github.com/joshp123/gokumo/internal/device"
)

// Outcome is the result of one refresh.
type Outcome int

const (
	Failure Outcome = iota
	Success
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// PollState is an immutable snapshot published after each refresh.
type PollState struct {
	Status              device.Status
	ConsecutiveFailures int
	Available           bool
	LastSuccess         time.Time
	LastAttempt         time.Time
}

type Option func(*Coordinator)

func WithThreshold(threshold int) Option {
	return func(c *Coordinator) { c.tracker = availability.NewTracker(threshold) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

type subscriber struct {
	id int
	fn func()
}

// Coordinator owns polling for one physical device and fans successful refreshes out to
// every entity backed by it. It holds no timer.
type Coordinator struct {
	device  device.Capability
	record  device.Record
	tracker *availability.Tracker
	logger  *slog.Logger
	now     func() time.Time

	refreshMu sync.Mutex
	state     atomic.Pointer[PollState]

	subMu     sync.Mutex
	nextID    int
	updates   []subscriber
	observers []func(Outcome)
}

func New(dev device.Capability, record device.Record, opts ...Option) *Coordinator {
	c := &Coordinator{
		device:  dev,
		record:  record,
		tracker: availability.NewTracker(availability.DefaultThreshold),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("serial", record.Serial)
	c.state.Store(&PollState{})
	return c
}

// Refresh fetches status exactly once. On success every update method runs in registration
// order before Refresh returns; on failure none run.
func (c *Coordinator) Refresh(ctx context.Context) Outcome {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	ok := c.device.UpdateStatus(ctx)
	available := c.tracker.Record(ok)

	prev := c.state.Load()
	now := c.now()
	next := &PollState{
		Status:              prev.Status,
		ConsecutiveFailures: c.tracker.ConsecutiveFailures(),
		Available:           available,
		LastSuccess:         prev.LastSuccess,
		LastAttempt:         now,
	}

	outcome := Failure
	if ok {
		outcome = Success
		next.Status = c.device.Status()
		next.LastSuccess = now
	} else {
		c.logger.Debug("kumo refresh failed", "name", c.record.Name, "failures", next.ConsecutiveFailures, "available", available)
	}
	c.state.Store(next)

	if ok {
		for _, fn := range c.updateMethods() {
			fn()
		}
	}
	for _, fn := range c.refreshObservers() {
		fn(outcome)
	}
	return outcome
}

// AddUpdateMethod registers fn to run after every successful refresh.
func (c *Coordinator) AddUpdateMethod(fn func()) (remove func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	id := c.nextID
	c.updates = append(c.updates, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			for i, sub := range c.updates {
				if sub.id == id {
					c.updates = append(c.updates[:i:i], c.updates[i+1:]...)
					return
				}
			}
		})
	}
}

// OnRefresh registers fn to run after every refresh, whatever the outcome.
func (c *Coordinator) OnRefresh(fn func(Outcome)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Coordinator) SubscriberCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.updates)
}

func (c *Coordinator) updateMethods() []func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	out := make([]func(), 0, len(c.updates))
	for _, sub := range c.updates {
		out = append(out, sub.fn)
	}
	return out
}

func (c *Coordinator) refreshObservers() []func(Outcome) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return slices.Clone(c.observers)
}

func (c *Coordinator) Available() bool {
	return c.tracker.Available()
}

func (c *Coordinator) State() PollState {
	return *c.state.Load()
}

func (c *Coordinator) Device() device.Capability {
	return c.device
}

func (c *Coordinator) Record() device.Record {
	return c.record
}

func (c *Coordinator) Serial() string {
	return c.record.Serial
}
