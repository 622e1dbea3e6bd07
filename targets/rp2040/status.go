//go:build rp2040 || rp2350

package main

import (
	"image/color"
	"machine"

	"tinygo.org/x/drivers/ws2812"
)

// statusLEDPin is the onboard WS2812 on RP2040-Zero style boards
const statusLEDPin = machine.GPIO16

type ledState uint8

const (
	ledOff ledState = iota
	ledIdle
	ledMoving
	ledError
)

var ledColors = [...]color.RGBA{
	ledOff:    {},
	ledIdle:   {G: 0x08},
	ledMoving: {B: 0x20},
	ledError:  {R: 0x20},
}

// StatusLED shows the firmware state on a single WS2812
type StatusLED struct {
	dev   ws2812.Device
	state ledState
	buf   [1]color.RGBA
}

// NewStatusLED configures the LED pin and switches the LED off
func NewStatusLED() *StatusLED {
	statusLEDPin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	s := &StatusLED{dev: ws2812.New(statusLEDPin), state: ledIdle}
	s.set(ledOff)
	return s
}

// Update shows moving or idle. The LED is only written on a change; a
// WS2812 frame blocks for about 30us.
func (s *StatusLED) Update(moving bool) {
	if s.state == ledError {
		return
	}
	if moving {
		s.set(ledMoving)
	} else {
		s.set(ledIdle)
	}
}

// Fail latches the error colour
func (s *StatusLED) Fail() {
	s.set(ledError)
}

func (s *StatusLED) set(state ledState) {
	if s.state == state {
		return
	}
	s.state = state
	s.buf[0] = ledColors[state]
	s.dev.WriteColors(s.buf[:])
}
