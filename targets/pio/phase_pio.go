//go:build rp2040 || rp2350

package pio

// PIO phase output: one state machine owns four consecutive pins and
// switches them together, so a phase change never shows an intermediate
// pattern on the coils.

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"stepmulti/core"
)

var ErrPinOutOfRange = errors.New("pin not owned by this PIO phase driver")

// PhasePins is the number of consecutive pins a PhaseDriver drives
const PhasePins = 4

// buildPhaseProgram returns the two-instruction output program:
//
//	.wrap_target
//	pull block
//	out pins, 4
//	.wrap
func buildPhaseProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),                  // 0: pull block
		asm.Out(rp2pio.OutDestPins, PhasePins).Encode(), // 1: out pins, 4
	}
}

var (
	allocator Allocator

	// offsets of the loaded program per PIO block, -1 until loaded
	programOffset = [NumPIO]int16{-1, -1}
)

// PhaseDriver is a core.GPIODriver and core.PatternWriter for one motor
type PhaseDriver struct {
	pio  *rp2pio.PIO
	sm   rp2pio.StateMachine
	slot Slot
	base machine.Pin

	// Last word written; SetPin updates a single bit of it
	shadow uint32
}

// NewPhaseDriver claims a state machine and drives base..base+3 from it
func NewPhaseDriver(base core.GPIOPin) (*PhaseDriver, error) {
	slot, err := allocator.Allocate()
	if err != nil {
		return nil, err
	}

	var pioHW *rp2pio.PIO
	if slot.PIO == 0 {
		pioHW = rp2pio.PIO0
	} else {
		pioHW = rp2pio.PIO1
	}

	d := &PhaseDriver{
		pio:  pioHW,
		sm:   pioHW.StateMachine(slot.SM),
		slot: slot,
		base: machine.Pin(base),
	}
	if err := d.init(); err != nil {
		allocator.Release(slot)
		return nil, err
	}
	return d, nil
}

func (d *PhaseDriver) init() error {
	d.sm.TryClaim()

	// Every state machine in a block shares one copy of the program
	program := buildPhaseProgram()
	if programOffset[d.slot.PIO] < 0 {
		offset, err := d.pio.AddProgram(program, -1)
		if err != nil {
			return err
		}
		programOffset[d.slot.PIO] = int16(offset)
	}
	offset := uint8(programOffset[d.slot.PIO])

	for i := machine.Pin(0); i < PhasePins; i++ {
		(d.base + i).Configure(machine.PinConfig{Mode: d.pio.PinMode()})
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutPins(d.base, PhasePins)

	// Shift right so bit 0 lands on the base pin, explicit PULL
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)

	// The program only waits on the FIFO, speed is irrelevant
	cfg.SetClkDivIntFrac(1000, 0)

	// Init first, pin directions after
	d.sm.Init(offset, cfg)
	d.sm.SetPindirsConsecutive(d.base, PhasePins, true)
	d.sm.SetPinsConsecutive(d.base, PhasePins, false)
	d.sm.SetEnabled(true)

	core.DebugPrintln("[PIO] phase driver pio=" + itoa(int(d.slot.PIO)) +
		" sm=" + itoa(int(d.slot.SM)) + " base=gpio" + itoa(int(d.base)))
	return nil
}

// ConfigureOutput checks that pin belongs to this driver; the pins were
// handed to the PIO block at construction.
func (d *PhaseDriver) ConfigureOutput(pin core.GPIOPin) error {
	if _, err := d.bit(pin); err != nil {
		return err
	}
	return nil
}

// SetPin changes one pin, leaving the others at their last level
func (d *PhaseDriver) SetPin(pin core.GPIOPin, value bool) error {
	bit, err := d.bit(pin)
	if err != nil {
		return err
	}
	word := d.shadow &^ (1 << bit)
	if value {
		word |= 1 << bit
	}
	d.put(word)
	return nil
}

// WritePattern switches all four pins with a single FIFO write
func (d *PhaseDriver) WritePattern(pins []core.GPIOPin, levels [4]bool) error {
	for i, p := range pins {
		if p != core.GPIOPin(d.base)+core.GPIOPin(i) {
			return ErrPinOutOfRange
		}
	}
	d.put(PackLevels(levels, len(pins)))
	return nil
}

func (d *PhaseDriver) bit(pin core.GPIOPin) (uint32, error) {
	base := core.GPIOPin(d.base)
	if pin < base || pin >= base+PhasePins {
		return 0, ErrPinOutOfRange
	}
	return uint32(pin - base), nil
}

func (d *PhaseDriver) put(word uint32) {
	// The FIFO drains within a few PIO cycles
	for d.sm.IsTxFIFOFull() {
	}
	d.sm.TxPut(word)
	d.shadow = word
}

// Close stops the state machine and frees its slot
func (d *PhaseDriver) Close() {
	d.sm.SetEnabled(false)
	d.sm.ClearFIFOs()
	allocator.Release(d.slot)
}

// AllocationStatus returns the PIO allocation table for debugging
func AllocationStatus() [NumPIO][StateMachinesPerPIO]bool {
	return allocator.Status()
}

// itoa converts int to string without strconv
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [12]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}
