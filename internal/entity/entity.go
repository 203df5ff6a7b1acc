package entity

import (
	"sync"

	"github.com/joshp123/gokumo/internal/coordinator"
)

const Manufacturer = "Mitsubishi"

// DeviceInfo groups entities that share one physical unit.
type DeviceInfo struct {
	Identifier   string `json:"identifier"`
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
}

// Entity is the read surface every logical entity exposes to the host facades.
type Entity interface {
	UniqueID() string
	Name() string
	Platform() string
	Available() bool
	DeviceInfo() DeviceInfo
	EnabledByDefault() bool
	Attributes() map[string]any
}

// Coordinated is the base for entities backed by a coordinator.
type Coordinated struct {
	coordinator *coordinator.Coordinator

	mu     sync.Mutex
	remove []func()
}

func NewCoordinated(c *coordinator.Coordinator) *Coordinated {
	return &Coordinated{coordinator: c}
}

func (e *Coordinated) Coordinator() *coordinator.Coordinator {
	return e.coordinator
}

func (e *Coordinated) Serial() string {
	return e.coordinator.Serial()
}

func (e *Coordinated) Available() bool {
	return e.coordinator.Available()
}

func (e *Coordinated) DeviceInfo() DeviceInfo {
	record := e.coordinator.Record()
	return DeviceInfo{
		Identifier:   record.Serial,
		Manufacturer: Manufacturer,
		Name:         record.Name,
		Kind:         string(record.Kind),
	}
}

// Subscribe registers fn with the coordinator; Close removes it.
func (e *Coordinated) Subscribe(fn func()) {
	remove := e.coordinator.AddUpdateMethod(fn)
	e.mu.Lock()
	e.remove = append(e.remove, remove)
	e.mu.Unlock()
}

func (e *Coordinated) Close() {
	e.mu.Lock()
	removes := e.remove
	e.remove = nil
	e.mu.Unlock()
	for _, remove := range removes {
		remove()
	}
}
