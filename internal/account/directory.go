package account

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/joshp123/gokumo/internal/device"
)

var (
	ErrInvalidAuth   = errors.New("kumo cloud rejected credentials")
	ErrCannotConnect = errors.New("kumo cloud unreachable")
	ErrMalformed     = errors.New("kumo directory malformed")
)

const stationUnitType = "kumoStation"

// Unit is one zone table entry, flattened.
type Unit struct {
	Serial       string `json:"serial"`
	Label        string `json:"label"`
	Address      string `json:"address,omitempty"`
	MAC          string `json:"mac,omitempty"`
	UnitType     string `json:"unitType,omitempty"`
	Password     string `json:"password,omitempty"`
	CryptoSerial string `json:"cryptoSerial,omitempty"`

	Capabilities *device.Capabilities `json:"-"`
}

func (u Unit) Kind() device.Kind {
	if strings.EqualFold(u.UnitType, stationUnitType) {
		return device.KindOutdoorStation
	}
	return device.KindIndoorUnit
}

// Credentials returns the opaque blob handed to the device client.
func (u Unit) Credentials() json.RawMessage {
	data, _ := json.Marshal(struct {
		Password     string `json:"password"`
		CryptoSerial string `json:"crypto_serial"`
	}{u.Password, u.CryptoSerial})
	return data
}

// Directory is the parsed account directory. Raw keeps the exact bytes it was built from.
type Directory struct {
	raw   []byte
	units []Unit
	index map[string]int
}

// Parse walks raw once and keeps every well-formed unit.
func Parse(raw []byte, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := &Directory{raw: append([]byte(nil), raw...), index: map[string]int{}}
	err := Iterate(raw, func(unit Unit, err error) {
		if err != nil {
			logger.Warn("kumo directory entry skipped", "serial", unit.Serial, "error", err)
			return
		}
		if _, dup := dir.index[unit.Serial]; dup {
			return
		}
		dir.index[unit.Serial] = len(dir.units)
		dir.units = append(dir.units, unit)
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// FromUnits builds a directory from locally configured units. Raw is the JSON form of units.
func FromUnits(units []Unit) (*Directory, error) {
	dir := &Directory{index: map[string]int{}}
	for _, unit := range units {
		if strings.TrimSpace(unit.Serial) == "" {
			return nil, fmt.Errorf("%w: unit without serial", ErrMalformed)
		}
		if _, dup := dir.index[unit.Serial]; dup {
			return nil, fmt.Errorf("%w: duplicate serial %q", ErrMalformed, unit.Serial)
		}
		dir.index[unit.Serial] = len(dir.units)
		dir.units = append(dir.units, unit)
	}
	raw, err := json.Marshal(dir.units)
	if err != nil {
		return nil, err
	}
	dir.raw = raw
	return dir, nil
}

func (d *Directory) Raw() []byte {
	return append([]byte(nil), d.raw...)
}

func (d *Directory) Units() []Unit {
	return append([]Unit(nil), d.units...)
}

func (d *Directory) IndoorUnits() []string {
	return d.serials(device.KindIndoorUnit)
}

func (d *Directory) OutdoorStations() []string {
	return d.serials(device.KindOutdoorStation)
}

func (d *Directory) AllUnits() []string {
	out := make([]string, 0, len(d.units))
	for _, unit := range d.units {
		out = append(out, unit.Serial)
	}
	return out
}

func (d *Directory) serials(kind device.Kind) []string {
	var out []string
	for _, unit := range d.units {
		if unit.Kind() == kind {
			out = append(out, unit.Serial)
		}
	}
	return out
}

func (d *Directory) Unit(serial string) (Unit, bool) {
	i, ok := d.index[serial]
	if !ok {
		return Unit{}, false
	}
	return d.units[i], true
}

func (d *Directory) Address(serial string) string {
	unit, _ := d.Unit(serial)
	return unit.Address
}

func (d *Directory) Name(serial string) string {
	unit, _ := d.Unit(serial)
	return unit.Label
}

func (d *Directory) Credentials(serial string) json.RawMessage {
	unit, ok := d.Unit(serial)
	if !ok {
		return nil
	}
	return unit.Credentials()
}

// MissingAddresses lists serials the directory has no address for.
func (d *Directory) MissingAddresses() []string {
	var out []string
	for _, unit := range d.units {
		if strings.TrimSpace(unit.Address) == "" {
			out = append(out, unit.Serial)
		}
	}
	sort.Strings(out)
	return out
}

// WithAddresses returns a copy whose empty addresses are filled from overrides, keyed by
// serial or label. Raw is unchanged.
func (d *Directory) WithAddresses(overrides map[string]string) *Directory {
	out := &Directory{raw: d.raw, units: d.Units(), index: d.index}
	if len(overrides) == 0 {
		return out
	}
	for i, unit := range out.units {
		if strings.TrimSpace(unit.Address) != "" {
			continue
		}
		if addr, ok := overrides[unit.Serial]; ok {
			out.units[i].Address = addr
		} else if addr, ok := overrides[unit.Label]; ok {
			out.units[i].Address = addr
		}
	}
	return out
}

// WithCapabilities returns a copy whose units carry the configured mode set, keyed by
// serial or label. Units already carrying one keep it.
func (d *Directory) WithCapabilities(overrides map[string]device.Capabilities) *Directory {
	out := &Directory{raw: d.raw, units: d.Units(), index: d.index}
	for i, unit := range out.units {
		if unit.Capabilities != nil {
			continue
		}
		caps, ok := overrides[unit.Serial]
		if !ok {
			caps, ok = overrides[unit.Label]
		}
		if ok {
			out.units[i].Capabilities = &caps
		}
	}
	return out
}

// Record converts a directory unit into the device record used for setup. Indoor units
// with no configured capabilities get device.DefaultCapabilities.
func (d *Directory) Record(serial string) (device.Record, bool) {
	unit, ok := d.Unit(serial)
	if !ok {
		return device.Record{}, false
	}
	record := device.Record{
		Serial:      unit.Serial,
		Kind:        unit.Kind(),
		Name:        unit.Label,
		Address:     unit.Address,
		Credentials: unit.Credentials(),
	}
	switch {
	case record.Kind == device.KindOutdoorStation:
	case unit.Capabilities != nil:
		record.Capabilities = *unit.Capabilities
	default:
		record.Capabilities = device.DefaultCapabilities
	}
	return record, true
}
