package temperature

import (
	"fmt"
	"math"
	"strings"
)

// Unit is the display unit a user works in. Devices always store Celsius.
type Unit string

const (
	Celsius    Unit = "C"
	Fahrenheit Unit = "F"
)

// ParseUnit accepts "C", "F", "celsius" or "fahrenheit" (case-insensitive). Empty means Celsius.
func ParseUnit(raw string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "c", "celsius":
		return Celsius, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	default:
		return "", fmt.Errorf("unknown temperature unit %q", raw)
	}
}

// Mitsubishi setpoint mapping for whole Fahrenheit values 61-80.
var fToC = map[int]float64{
	61: 16.0, 62: 16.5, 63: 17.0, 64: 17.5, 65: 18.0, 66: 18.5,
	67: 19.5, 68: 20.0, 69: 21.0, 70: 21.5, 71: 22.0, 72: 22.5,
	73: 23.0, 74: 23.5, 75: 24.0, 76: 24.5, 77: 25.0, 78: 25.5,
	79: 26.0, 80: 26.5,
}

// Display mapping in half-degree steps. Not the inverse of fToC: 19.0 and 19.5 both show 67,
// 20.5 and 21.0 both show 69.
var cToF = map[float64]float64{
	16.0: 61, 16.5: 62, 17.0: 63, 17.5: 64, 18.0: 65, 18.5: 66,
	19.0: 67, 19.5: 67, 20.0: 68, 20.5: 69,
	21.0: 69, 21.5: 70, 22.0: 71, 22.5: 72,
	23.0: 73, 23.5: 74, 24.0: 75, 24.5: 76, 25.0: 77, 25.5: 78,
	26.0: 79, 26.5: 80,
}

// CToF converts a Celsius reading to the Fahrenheit value the unit itself displays.
func CToF(celsius *float64) *float64 {
	if celsius == nil {
		return nil
	}
	if f, ok := cToF[*celsius]; ok {
		return &f
	}
	// Off-table halves round to even: 12.5C shows 54F.
	f := math.RoundToEven(*celsius*9/5 + 32)
	return &f
}

// FToC converts a Fahrenheit setpoint to the Celsius value the unit expects.
func FToC(fahrenheit *float64) *float64 {
	if fahrenheit == nil {
		return nil
	}
	if c, ok := fToC[int(*fahrenheit)]; ok {
		return &c
	}
	raw := (*fahrenheit - 32) * 5 / 9
	c := math.Floor(raw*2+0.5) / 2
	return &c
}

// ToDisplay converts a device Celsius value into the given display unit.
func ToDisplay(celsius *float64, unit Unit) *float64 {
	if unit == Fahrenheit {
		return CToF(celsius)
	}
	return celsius
}

// ToCelsius converts a value entered in the display unit into device Celsius.
func ToCelsius(value *float64, unit Unit) *float64 {
	if unit == Fahrenheit {
		return FToC(value)
	}
	return value
}
