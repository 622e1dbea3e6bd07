package pio

import "errors"

// RP2040/RP2350 have 2 PIO blocks with 4 state machines each
const (
	NumPIO              = 2
	StateMachinesPerPIO = 4
)

var ErrNoStateMachine = errors.New("no free PIO state machine")

// Slot identifies one PIO state machine
type Slot struct {
	PIO uint8
	SM  uint8
}

// Allocator hands out PIO state machines round-robin across both blocks
type Allocator struct {
	used    [NumPIO][StateMachinesPerPIO]bool
	nextPIO uint8
	nextSM  uint8
}

// Allocate reserves the next free state machine
func (a *Allocator) Allocate() (Slot, error) {
	for i := 0; i < NumPIO*StateMachinesPerPIO; i++ {
		pioNum := a.nextPIO
		smNum := a.nextSM

		// Advance to next slot
		a.nextSM++
		if a.nextSM >= StateMachinesPerPIO {
			a.nextSM = 0
			a.nextPIO = (a.nextPIO + 1) % NumPIO
		}

		if !a.used[pioNum][smNum] {
			a.used[pioNum][smNum] = true
			return Slot{PIO: pioNum, SM: smNum}, nil
		}
	}

	return Slot{}, ErrNoStateMachine
}

// Release returns a slot to the pool
func (a *Allocator) Release(s Slot) {
	if s.PIO < NumPIO && s.SM < StateMachinesPerPIO {
		a.used[s.PIO][s.SM] = false
	}
}

// Status returns the allocation table for debugging
func (a *Allocator) Status() [NumPIO][StateMachinesPerPIO]bool {
	return a.used
}

// Reset frees every slot
func (a *Allocator) Reset() {
	*a = Allocator{}
}

// PackLevels packs a phase pattern into the word shifted out to the
// pins; bit i drives base+i
func PackLevels(levels [4]bool, n int) uint32 {
	var word uint32
	for i := 0; i < n && i < len(levels); i++ {
		if levels[i] {
			word |= 1 << i
		}
	}
	return word
}
