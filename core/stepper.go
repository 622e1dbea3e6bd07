package core

// Non-blocking stepper motor controller for unipolar/bipolar motors driven
// directly from 2 or 4 GPIO lines. The embedding loop calls Tick as often
// as it likes; a step is taken only once the current interval has elapsed.

import (
	"errors"
)

var (
	ErrInvalidStepsPerRevolution = errors.New("steps per revolution must be positive")
	ErrInvalidPinCount           = errors.New("stepper needs 2 or 4 control pins")
	ErrNilDriver                 = errors.New("nil GPIO driver")
	ErrNilClock                  = errors.New("nil clock")
)

// Direction of rotation
type Direction uint8

const (
	Reverse Direction = 0
	Forward Direction = 1
)

func (d Direction) String() string {
	if d == Forward {
		return "forward"
	}
	return "reverse"
}

// Controller owns the motion state of a single motor
type Controller struct {
	// Topology, fixed at construction
	stepsPerRev int
	mode        WireMode
	pins        []GPIOPin

	gpio  GPIODriver
	clock Clock

	// Motion state
	phase     int       // current electrical phase, [0, stepsPerRev)
	direction Direction // direction of the current move
	remaining uint32    // steps left in the current move
	total     uint32    // |steps| requested at move start
	speedRPM  uint32    // cruise speed
	interval  uint32    // current inter-step delay in microseconds
	lastStep  uint32    // clock reading at the last step
}

// NewController creates a controller for a motor with stepsPerRev phase
// positions per revolution, driven through 2 or 4 pins. The pins are
// configured as outputs immediately.
func NewController(stepsPerRev int, pins []GPIOPin, gpio GPIODriver, clock Clock) (*Controller, error) {
	if stepsPerRev <= 0 {
		return nil, ErrInvalidStepsPerRevolution
	}
	if gpio == nil {
		return nil, ErrNilDriver
	}
	if clock == nil {
		return nil, ErrNilClock
	}

	var mode WireMode
	switch len(pins) {
	case 2:
		mode = TwoWire
	case 4:
		mode = FourWire
	default:
		return nil, ErrInvalidPinCount
	}

	c := &Controller{
		stepsPerRev: stepsPerRev,
		mode:        mode,
		pins:        append([]GPIOPin(nil), pins...),
		gpio:        gpio,
		clock:       clock,
	}

	for _, p := range c.pins {
		if err := gpio.ConfigureOutput(p); err != nil {
			return nil, errors.New("configure pin " + itoa(int(p)) + ": " + err.Error())
		}
	}

	return c, nil
}

// SetSpeed sets the cruise speed in revolutions per minute. It takes effect
// on the next Tick, in the cruise part of a move only. rpm must be positive.
func (c *Controller) SetSpeed(rpm uint32) {
	c.speedRPM = rpm
}

// Move starts a move of steps phase positions; negative values rotate in
// reverse. Any move in progress is abandoned. Move(0) leaves the direction
// unchanged and stops the motor.
func (c *Controller) Move(steps int32) {
	n := uint32(steps)
	if steps < 0 {
		n = uint32(-int64(steps))
	}
	c.remaining = n
	c.total = n

	if steps > 0 {
		c.direction = Forward
	} else if steps < 0 {
		c.direction = Reverse
	}
}

// Stop abandons the move in progress
func (c *Controller) Stop() {
	c.Move(0)
}

// Tick advances the motor by at most one step. It reports whether a step
// was taken. A GPIO error is returned after the step has been accounted
// for, so motion state stays consistent with the requested move.
func (c *Controller) Tick() (bool, error) {
	if c.remaining == 0 {
		return false, nil
	}

	c.interval = rampInterval(c.stepsPerRev, c.speedRPM, c.remaining, c.total)

	now := c.clock.NowMicros()
	if ElapsedMicros(now, c.lastStep) < c.interval {
		return false, nil
	}
	c.lastStep = now

	if c.direction == Forward {
		c.phase++
		if c.phase == c.stepsPerRev {
			c.phase = 0
		}
	} else {
		if c.phase == 0 {
			c.phase = c.stepsPerRev
		}
		c.phase--
	}
	c.remaining--

	return true, c.emit(c.phase)
}

// emit drives the control pins to the pattern for phase
func (c *Controller) emit(phase int) error {
	levels := PhasePattern(c.mode, phase)

	if pw, ok := c.gpio.(PatternWriter); ok {
		return pw.WritePattern(c.pins, levels)
	}

	for i, p := range c.pins {
		if err := c.gpio.SetPin(p, levels[i]); err != nil {
			return err
		}
	}
	return nil
}

// Phase returns the current electrical phase index
func (c *Controller) Phase() int {
	return c.phase
}

// Direction returns the direction of the current (or last) move
func (c *Controller) Direction() Direction {
	return c.direction
}

// Remaining returns the steps left in the current move
func (c *Controller) Remaining() uint32 {
	return c.remaining
}

// Total returns the length of the current move
func (c *Controller) Total() uint32 {
	return c.total
}

// Interval returns the step interval computed by the last active Tick
func (c *Controller) Interval() uint32 {
	return c.interval
}

// Speed returns the configured cruise speed in RPM
func (c *Controller) Speed() uint32 {
	return c.speedRPM
}

// StepsPerRevolution returns the number of phase positions per revolution
func (c *Controller) StepsPerRevolution() int {
	return c.stepsPerRev
}

// WireMode returns the wiring topology
func (c *Controller) WireMode() WireMode {
	return c.mode
}

// Pins returns a copy of the control pins in pattern order
func (c *Controller) Pins() []GPIOPin {
	return append([]GPIOPin(nil), c.pins...)
}

// Active returns true while a move has steps left
func (c *Controller) Active() bool {
	return c.remaining > 0
}
