package main

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"Living Room":    "living_room",
		" living-room ":  "living_room",
		"LIVING__ROOM":   "living_room",
		"Den - Upstairs": "den_upstairs",
		"":               "",
	}
	for in, want := range cases {
		if got := normalizeName(in); got != want {
			t.Fatalf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveNamedID(t *testing.T) {
	options := map[string]string{"Living Room": "1111", "Den": "2222"}
	id, err := resolveNamedID("unit", "living-room", options)
	if err != nil || id != "1111" {
		t.Fatalf("resolve = %q, %v", id, err)
	}
	if _, err := resolveNamedID("unit", "kitchen", options); err == nil {
		t.Fatalf("expected not found")
	}

	options["living_room"] = "3333"
	if _, err := resolveNamedID("unit", "Living Room", options); err == nil {
		t.Fatalf("expected ambiguity error")
	}
}
