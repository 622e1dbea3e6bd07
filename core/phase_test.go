package core

import "testing"

func TestTwoWirePatterns(t *testing.T) {
	want := [][2]bool{
		{false, true},
		{true, true},
		{true, false},
		{false, false},
	}
	for phase := 0; phase < 12; phase++ {
		got := PhasePattern(TwoWire, phase)
		w := want[phase%4]
		if got[0] != w[0] || got[1] != w[1] || got[2] || got[3] {
			t.Errorf("phase %d: got %v, want %v", phase, got, w)
		}
	}
}

func TestFourWirePatterns(t *testing.T) {
	want := [][4]bool{
		{true, false, true, false},
		{false, true, true, false},
		{false, true, false, true},
		{true, false, false, true},
	}
	for phase := 0; phase < 12; phase++ {
		if got := PhasePattern(FourWire, phase); got != want[phase%4] {
			t.Errorf("phase %d: got %v, want %v", phase, got, want[phase%4])
		}
	}
}

func TestWireMode(t *testing.T) {
	if TwoWire.Pins() != 2 || FourWire.Pins() != 4 {
		t.Error("unexpected pin counts")
	}
	if TwoWire.String() != "two-wire" || WireMode(3).String() != "unknown" {
		t.Error("unexpected mode names")
	}
}
