package account

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// The login response is a JSON array; element 2 is the account tree. Zones live under
// children[].zoneTable and again one level down under children[].children[].zoneTable.
const treeIndex = 2

type treeNode struct {
	ZoneTable map[string]json.RawMessage `json:"zoneTable"`
	Children  []json.RawMessage          `json:"children"`
}

type zoneEntry struct {
	Label        *string `json:"label"`
	Address      string  `json:"address"`
	MAC          string  `json:"mac"`
	UnitType     string  `json:"unitType"`
	Password     string  `json:"password"`
	CryptoSerial string  `json:"cryptoSerial"`
}

// Iterate is the only code that knows the directory's nesting. fn sees each zone once; a
// non-nil error means that entry was unusable and the caller should skip it.
func Iterate(raw []byte, fn func(Unit, error)) error {
	var top []json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(top) <= treeIndex {
		return fmt.Errorf("%w: expected at least %d elements, got %d", ErrMalformed, treeIndex+1, len(top))
	}

	var root treeNode
	if err := json.Unmarshal(top[treeIndex], &root); err != nil {
		return fmt.Errorf("%w: account tree: %v", ErrMalformed, err)
	}

	for _, child := range root.Children {
		walk(child, fn)
	}
	return nil
}

func walk(raw json.RawMessage, fn func(Unit, error)) {
	var node treeNode
	if err := json.Unmarshal(raw, &node); err != nil {
		fn(Unit{}, fmt.Errorf("child node: %w", err))
		return
	}

	serials := make([]string, 0, len(node.ZoneTable))
	for serial := range node.ZoneTable {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	for _, serial := range serials {
		fn(decodeZone(serial, node.ZoneTable[serial]))
	}
	for _, child := range node.Children {
		walk(child, fn)
	}
}

func decodeZone(serial string, raw json.RawMessage) (Unit, error) {
	unit := Unit{Serial: serial}
	var zone zoneEntry
	if err := json.Unmarshal(raw, &zone); err != nil {
		return unit, fmt.Errorf("zone entry: %w", err)
	}
	if zone.Label == nil {
		return unit, fmt.Errorf("zone entry missing label")
	}
	unit.Label = *zone.Label
	unit.Address = strings.TrimSpace(zone.Address)
	unit.MAC = zone.MAC
	unit.UnitType = zone.UnitType
	unit.Password = zone.Password
	unit.CryptoSerial = zone.CryptoSerial
	return unit, nil
}
