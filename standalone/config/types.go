package config

// MotorConfig describes one motor wired directly to 2 or 4 GPIO lines
type MotorConfig struct {
	OID                uint8    // Object ID used on the wire, 0-15
	StepsPerRevolution int      // Phase positions per revolution
	Pins               []uint32 // Control pins in pattern order
	SpeedRPM           uint32   // Cruise speed
	UsePIO             bool     // Drive the pins from a PIO state machine (4 consecutive pins)
	InitialMove        int32    // Steps to run at startup in standalone mode
}

// MachineConfig is the complete firmware configuration
type MachineConfig struct {
	Mode   string                 // "host" or "standalone"
	Motors map[string]MotorConfig // keyed by motor name
}
