package core

import "errors"

type pinWrite struct {
	pin   GPIOPin
	value bool
}

// fakeGPIO records every pin operation
type fakeGPIO struct {
	configured []GPIOPin
	writes     []pinWrite
	levels     map[GPIOPin]bool

	configureErr error
	writeErr     error
}

func newFakeGPIO() *fakeGPIO {
	return &fakeGPIO{levels: make(map[GPIOPin]bool)}
}

func (g *fakeGPIO) ConfigureOutput(pin GPIOPin) error {
	if g.configureErr != nil {
		return g.configureErr
	}
	g.configured = append(g.configured, pin)
	return nil
}

func (g *fakeGPIO) SetPin(pin GPIOPin, value bool) error {
	if g.writeErr != nil {
		return g.writeErr
	}
	g.writes = append(g.writes, pinWrite{pin, value})
	g.levels[pin] = value
	return nil
}

// levelsOf returns the current level of each pin in order
func (g *fakeGPIO) levelsOf(pins []GPIOPin) []bool {
	out := make([]bool, len(pins))
	for i, p := range pins {
		out[i] = g.levels[p]
	}
	return out
}

// fakePatternGPIO additionally implements PatternWriter
type fakePatternGPIO struct {
	fakeGPIO
	patterns [][4]bool
}

func (g *fakePatternGPIO) WritePattern(pins []GPIOPin, levels [4]bool) error {
	g.patterns = append(g.patterns, levels)
	return nil
}

// fakeClock is a manually advanced microsecond clock
type fakeClock struct {
	now uint32
}

func (c *fakeClock) NowMicros() uint32 { return c.now }

func (c *fakeClock) advance(us uint32) { c.now += us }

var errWrite = errors.New("write failed")
