package pio

import (
	"errors"
	"testing"
)

func TestAllocatorRoundRobin(t *testing.T) {
	var a Allocator

	want := []Slot{{0, 0}, {0, 1}, {0, 2}, {0, 3}, {1, 0}, {1, 1}, {1, 2}, {1, 3}}
	for i, w := range want {
		s, err := a.Allocate()
		if err != nil {
			t.Fatalf("allocation %d: %v", i, err)
		}
		if s != w {
			t.Errorf("allocation %d = %+v, want %+v", i, s, w)
		}
	}

	if _, err := a.Allocate(); !errors.Is(err, ErrNoStateMachine) {
		t.Errorf("expected ErrNoStateMachine, got %v", err)
	}

	a.Release(Slot{PIO: 1, SM: 2})
	if s, err := a.Allocate(); err != nil || s != (Slot{PIO: 1, SM: 2}) {
		t.Errorf("released slot not reused: %+v %v", s, err)
	}

	a.Reset()
	if a.Status() != [NumPIO][StateMachinesPerPIO]bool{} {
		t.Error("Reset left slots in use")
	}
}

func TestPackLevels(t *testing.T) {
	testCases := []struct {
		levels [4]bool
		n      int
		want   uint32
	}{
		{[4]bool{true, false, true, false}, 4, 0b0101},
		{[4]bool{false, true, true, false}, 4, 0b0110},
		{[4]bool{true, false, false, true}, 4, 0b1001},
		{[4]bool{true, true, true, true}, 2, 0b11},
		{[4]bool{}, 4, 0},
	}
	for _, tc := range testCases {
		if got := PackLevels(tc.levels, tc.n); got != tc.want {
			t.Errorf("PackLevels(%v, %d) = %04b, want %04b", tc.levels, tc.n, got, tc.want)
		}
	}
}
