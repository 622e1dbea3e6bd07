package core

import (
	"errors"

	"stepmulti/protocol"
)

var ErrInvalidSpeed = errors.New("speed must be positive")

// steppers holds the controllers configured over the protocol or from the
// standalone configuration
var steppers = NewRegistry()

// Steppers returns the firmware's controller registry
func Steppers() *Registry {
	return steppers
}

// RegisterStepperCommands registers the stepper command set
func RegisterStepperCommands() {
	RegisterCommand("config_stepper",
		"oid=%c steps_per_rev=%u pin_count=%c pin1=%u pin2=%u pin3=%u pin4=%u",
		handleConfigStepper)
	RegisterCommand("set_stepper_speed", "oid=%c rpm=%u", handleSetStepperSpeed)
	RegisterCommand("stepper_move", "oid=%c steps=%i", handleStepperMove)
	RegisterCommand("stepper_stop", "oid=%c", handleStepperStop)
	RegisterCommand("query_stepper", "oid=%c", handleQueryStepper)

	RegisterResponse("stepper_state",
		"oid=%c phase=%u remaining=%u total=%u direction=%c interval=%u rpm=%u")

	RegisterConstant("STEPPER_MAX", itoa(MaxSteppers))
}

// decodeArgs decodes len(dst) unsigned arguments in order
func decodeArgs(data *[]byte, dst ...*uint32) error {
	for _, d := range dst {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

// lookupStepper decodes an oid argument and returns its controller
func lookupStepper(data *[]byte) (uint8, *Controller, error) {
	var oid uint32
	if err := decodeArgs(data, &oid); err != nil {
		return 0, nil, err
	}
	if oid >= MaxSteppers {
		return 0, nil, ErrOIDRange
	}
	c, err := steppers.Lookup(uint8(oid))
	if err != nil {
		return 0, nil, err
	}
	return uint8(oid), c, nil
}

// handleConfigStepper creates a controller
// Format: config_stepper oid=%c steps_per_rev=%u pin_count=%c pin1=%u pin2=%u pin3=%u pin4=%u
func handleConfigStepper(data *[]byte) error {
	var oid, stepsPerRev, pinCount uint32
	var raw [4]uint32
	if err := decodeArgs(data, &oid, &stepsPerRev, &pinCount, &raw[0], &raw[1], &raw[2], &raw[3]); err != nil {
		return err
	}
	if pinCount != 2 && pinCount != 4 {
		return ErrInvalidPinCount
	}

	pins := make([]GPIOPin, pinCount)
	for i := range pins {
		pins[i] = GPIOPin(raw[i])
	}

	return ConfigureStepper(uint8(oid), int(stepsPerRev), pins)
}

// ConfigureStepper creates a controller on the registered GPIO driver and
// the system clock and stores it under oid
func ConfigureStepper(oid uint8, stepsPerRev int, pins []GPIOPin) error {
	if oid >= MaxSteppers {
		return ErrOIDRange
	}
	if steppers.Get(oid) != nil {
		return ErrOIDInUse
	}

	c, err := NewController(stepsPerRev, pins, MustGPIO(), SystemClock{})
	if err != nil {
		return err
	}
	if err := steppers.Add(oid, c); err != nil {
		return err
	}

	DebugPrintln("[STEPPER] oid=" + itoa(int(oid)) + " " + c.WireMode().String() +
		" steps=" + itoa(stepsPerRev))
	return nil
}

// handleSetStepperSpeed sets the cruise speed
// Format: set_stepper_speed oid=%c rpm=%u
func handleSetStepperSpeed(data *[]byte) error {
	_, c, err := lookupStepper(data)
	if err != nil {
		return err
	}
	var rpm uint32
	if err := decodeArgs(data, &rpm); err != nil {
		return err
	}
	if rpm == 0 {
		return ErrInvalidSpeed
	}
	c.SetSpeed(rpm)
	return nil
}

// handleStepperMove starts a move, replacing any move in progress
// Format: stepper_move oid=%c steps=%i
func handleStepperMove(data *[]byte) error {
	oid, c, err := lookupStepper(data)
	if err != nil {
		return err
	}
	steps, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}

	if c.Active() {
		RecordTiming(EvtStop, oid, c.Remaining(), 0)
	}
	c.Move(steps)
	RecordTiming(EvtMove, oid, uint32(steps), uint32(c.Direction()))
	DebugPrintln("[STEPPER] oid=" + itoa(int(oid)) + " move " + itoa(int(steps)))
	return nil
}

// handleStepperStop abandons the move in progress
// Format: stepper_stop oid=%c
func handleStepperStop(data *[]byte) error {
	oid, c, err := lookupStepper(data)
	if err != nil {
		return err
	}
	RecordTiming(EvtStop, oid, c.Remaining(), 0)
	c.Stop()
	return nil
}

// handleQueryStepper reports the controller state
// Format: query_stepper oid=%c
func handleQueryStepper(data *[]byte) error {
	oid, c, err := lookupStepper(data)
	if err != nil {
		return err
	}

	SendResponse("stepper_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(c.Phase()))
		protocol.EncodeVLQUint(output, c.Remaining())
		protocol.EncodeVLQUint(output, c.Total())
		protocol.EncodeVLQUint(output, uint32(c.Direction()))
		protocol.EncodeVLQUint(output, c.Interval())
		protocol.EncodeVLQUint(output, c.Speed())
	})
	return nil
}
