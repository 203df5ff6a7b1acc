// Package devicetest provides an in-memory device.Capability for tests.
package devicetest

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/joshp123/gokumo/internal/device"
)

// Call records one setter invocation.
type Call struct {
	Method string
	Value  string
}

func (c Call) String() string { return c.Method + "(" + c.Value + ")" }

// Fake is a scripted device. Results are consumed one per UpdateStatus; once exhausted the
// last result repeats. An empty script always succeeds.
type Fake struct {
	mu           sync.Mutex
	serial       string
	name         string
	results      []bool
	updates      int
	status       device.Status
	capabilities device.Capabilities
	fanSpeeds    []string
	vanes        []string
	calls        []Call
	onUpdate     func()
}

func New(serial string, caps device.Capabilities) *Fake {
	return &Fake{
		serial:       serial,
		name:         "Unit " + serial,
		capabilities: caps,
		fanSpeeds:    []string{"quiet", "low", "powerful", "auto"},
		vanes:        []string{"auto", "horizontal", "vertical", "swing"},
	}
}

func (f *Fake) Script(results ...bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results[:0], results...)
	f.updates = 0
}

func (f *Fake) SetStatus(status device.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// OnUpdate runs fn inside every UpdateStatus call.
func (f *Fake) OnUpdate(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = fn
}

func (f *Fake) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) Serial() string { return f.serial }

func (f *Fake) Name() string { return f.name }

func (f *Fake) UpdateStatus(context.Context) bool {
	f.mu.Lock()
	hook := f.onUpdate
	result := true
	if len(f.results) > 0 {
		i := f.updates
		if i >= len(f.results) {
			i = len(f.results) - 1
		}
		result = f.results[i]
	}
	f.updates++
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return result
}

func (f *Fake) Status() device.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Fake) Capabilities() device.Capabilities { return f.capabilities }

func (f *Fake) FanSpeeds() []string { return append([]string(nil), f.fanSpeeds...) }

func (f *Fake) VaneDirections() []string {
	if !f.capabilities.HasVaneDirection {
		return nil
	}
	return append([]string(nil), f.vanes...)
}

func (f *Fake) SetMode(_ context.Context, mode string) (string, error) {
	return f.record("SetMode", mode)
}

func (f *Fake) SetCoolSetpoint(_ context.Context, celsius float64) (string, error) {
	return f.record("SetCoolSetpoint", strconv.FormatFloat(celsius, 'f', -1, 64))
}

func (f *Fake) SetHeatSetpoint(_ context.Context, celsius float64) (string, error) {
	return f.record("SetHeatSetpoint", strconv.FormatFloat(celsius, 'f', -1, 64))
}

func (f *Fake) SetFanSpeed(_ context.Context, speed string) (string, error) {
	return f.record("SetFanSpeed", speed)
}

func (f *Fake) SetVaneDirection(_ context.Context, direction string) (string, error) {
	return f.record("SetVaneDirection", direction)
}

func (f *Fake) record(method, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Method: method, Value: value})
	return fmt.Sprintf("%s ok", method), nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
