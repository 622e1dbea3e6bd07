package core

import (
	"stepmulti/protocol"
)

var (
	globalTransport *protocol.Transport
	resetHandler    func()
)

// SetGlobalTransport sets the transport used for responses
func SetGlobalTransport(t *protocol.Transport) {
	globalTransport = t
}

// SetResetHandler sets the function run by the reset command. Targets use
// it to reboot the MCU.
func SetResetHandler(handler func()) {
	resetHandler = handler
}

// SendResponse encodes a registered response through the global transport.
// Responses are dropped when no transport is attached.
func SendResponse(name string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	id, ok := globalRegistry.LookupID(name)
	if !ok {
		DebugPrintln("[CMD] unregistered response " + name)
		return
	}
	globalTransport.SendResponse(id, args)
}

// InitCoreCommands registers the protocol bootstrap and housekeeping
// commands. identify_response and identify must keep IDs 0 and 1; the
// host bootstraps with them before it has a dictionary.
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s") // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("reset", "", handleReset)

	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("clock", "clock=%u")

	RegisterConstant("CLOCK_FREQ", itoa(ClockFreq))
}

// handleIdentify returns a chunk of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

// handleGetUptime returns the 64-bit uptime split in two words
func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
	return nil
}

// handleGetClock returns the current system time
func handleGetClock(data *[]byte) error {
	now := GetTime()
	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, now)
	})
	return nil
}

// handleConfigReset stops and removes every stepper
func handleConfigReset(data *[]byte) error {
	ResetFirmwareState()
	return nil
}

// handleReset stops all motion and hands over to the target's reset handler
func handleReset(data *[]byte) error {
	ResetFirmwareState()
	if resetHandler != nil {
		resetHandler()
	}
	return nil
}

// ResetFirmwareState stops and forgets all configured steppers
func ResetFirmwareState() {
	steppers.Reset()
	DebugPrintln("[CMD] firmware state reset")
}
