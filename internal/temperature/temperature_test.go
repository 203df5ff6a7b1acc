package temperature

import (
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func TestFToCTable(t *testing.T) {
	want := map[float64]float64{
		61: 16.0, 64: 17.5, 66: 18.5, 67: 19.5, 68: 20.0, 69: 21.0,
		70: 21.5, 72: 22.5, 75: 24.0, 80: 26.5,
	}
	for f, c := range want {
		got := FToC(ptr(f))
		if got == nil || *got != c {
			t.Fatalf("FToC(%v) = %v, want %v", f, got, c)
		}
	}
}

func TestFToCFallbackStaysNearLinear(t *testing.T) {
	for f := 40.0; f <= 100; f++ {
		if f >= 61 && f <= 80 {
			continue
		}
		got := FToC(ptr(f))
		linear := (f - 32) * 5 / 9
		if math.Abs(*got-linear) > 0.5 {
			t.Fatalf("FToC(%v) = %v, more than 0.5 from %v", f, *got, linear)
		}
		if math.Mod(*got*2, 1) != 0 {
			t.Fatalf("FToC(%v) = %v is not a half degree", f, *got)
		}
	}
}

func TestCToFTableQuirks(t *testing.T) {
	cases := map[float64]float64{19.0: 67, 19.5: 67, 20.5: 69, 21.0: 69, 16.0: 61, 26.5: 80}
	for c, f := range cases {
		got := CToF(ptr(c))
		if got == nil || *got != f {
			t.Fatalf("CToF(%v) = %v, want %v", c, got, f)
		}
	}
	if got := CToF(ptr(30)); *got != 86 {
		t.Fatalf("CToF(30) = %v, want 86", *got)
	}
	if got := CToF(ptr(10.2)); *got != 50 {
		t.Fatalf("CToF(10.2) = %v, want 50", *got)
	}
}

func TestCToFFallbackRoundsHalfToEven(t *testing.T) {
	cases := map[float64]float64{12.5: 54, 27.5: 82, 32.5: 90, 37.5: 100}
	for c, f := range cases {
		if got := CToF(ptr(c)); *got != f {
			t.Fatalf("CToF(%v) = %v, want %v", c, *got, f)
		}
	}
}

func TestRoundTripOnSharedKeys(t *testing.T) {
	for f, c := range fToC {
		back, ok := cToF[c]
		if !ok {
			continue
		}
		if back != float64(f) {
			continue
		}
		got := CToF(FToC(ptr(float64(f))))
		if *got != float64(f) {
			t.Fatalf("round trip of %dF gave %v", f, *got)
		}
	}
	// 67F is reached from both 19.0 and 19.5; the setpoint table picks 19.5.
	if got := FToC(CToF(ptr(19.0))); *got != 19.5 {
		t.Fatalf("expected 19.0C to land on 19.5C, got %v", *got)
	}
}

func TestNilPropagates(t *testing.T) {
	if CToF(nil) != nil || FToC(nil) != nil {
		t.Fatalf("expected nil to propagate")
	}
	if ToDisplay(nil, Fahrenheit) != nil || ToCelsius(nil, Fahrenheit) != nil {
		t.Fatalf("expected nil to propagate through unit helpers")
	}
}

func TestUnitHelpers(t *testing.T) {
	if got := ToDisplay(ptr(21.5), Celsius); *got != 21.5 {
		t.Fatalf("celsius display changed value: %v", *got)
	}
	if got := ToDisplay(ptr(21.5), Fahrenheit); *got != 70 {
		t.Fatalf("fahrenheit display = %v, want 70", *got)
	}
	if got := ToCelsius(ptr(70), Fahrenheit); *got != 21.5 {
		t.Fatalf("fahrenheit input = %v, want 21.5", *got)
	}

	unit, err := ParseUnit("Fahrenheit")
	if err != nil || unit != Fahrenheit {
		t.Fatalf("ParseUnit: %v %v", unit, err)
	}
	if _, err := ParseUnit("kelvin"); err == nil {
		t.Fatalf("expected error for kelvin")
	}
}
