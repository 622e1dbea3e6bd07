package config

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"stepmulti/core"
)

const (
	ModeHost       = "host"
	ModeStandalone = "standalone"
)

var (
	ErrUnknownMode   = errors.New("unknown mode")
	ErrNoMotors      = errors.New("no motors configured")
	ErrDuplicateOID  = errors.New("duplicate motor OID")
	ErrPIOPinCount   = errors.New("PIO output needs 4 pins")
	ErrPIOPinsLayout = errors.New("PIO output needs consecutive pins")
)

// LoadConfig parses a JSON configuration and applies defaults. The result
// is not validated; call Validate before use.
func LoadConfig(jsonData []byte) (*MachineConfig, error) {
	var config MachineConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *MachineConfig) {
	if config.Mode == "" {
		config.Mode = ModeHost
	}

	for name, motor := range config.Motors {
		if motor.StepsPerRevolution == 0 {
			motor.StepsPerRevolution = 200 // 1.8 degree motor
		}
		if motor.SpeedRPM == 0 {
			motor.SpeedRPM = 60
		}
		config.Motors[name] = motor
	}
}

// Validate checks the configuration against what the firmware accepts
func (c *MachineConfig) Validate() error {
	if c.Mode != ModeHost && c.Mode != ModeStandalone {
		return errors.New(ErrUnknownMode.Error() + ": " + c.Mode)
	}
	if len(c.Motors) == 0 {
		return ErrNoMotors
	}

	seen := make(map[uint8]string)
	for _, name := range c.MotorNames() {
		m := c.Motors[name]
		if err := m.validate(); err != nil {
			return errors.New("motor " + name + ": " + err.Error())
		}
		if other, dup := seen[m.OID]; dup {
			return errors.New(ErrDuplicateOID.Error() + ": " + name + " and " + other)
		}
		seen[m.OID] = name
	}
	return nil
}

func (m *MotorConfig) validate() error {
	if m.OID >= core.MaxSteppers {
		return core.ErrOIDRange
	}
	if m.StepsPerRevolution <= 0 {
		return core.ErrInvalidStepsPerRevolution
	}
	if len(m.Pins) != 2 && len(m.Pins) != 4 {
		return core.ErrInvalidPinCount
	}
	if m.SpeedRPM == 0 {
		return core.ErrInvalidSpeed
	}
	if m.UsePIO {
		if len(m.Pins) != 4 {
			return ErrPIOPinCount
		}
		for i := 1; i < len(m.Pins); i++ {
			if m.Pins[i] != m.Pins[0]+uint32(i) {
				return ErrPIOPinsLayout
			}
		}
	}
	return nil
}

// GPIOPins converts the configured pins
func (m *MotorConfig) GPIOPins() []core.GPIOPin {
	pins := make([]core.GPIOPin, len(m.Pins))
	for i, p := range m.Pins {
		pins[i] = core.GPIOPin(p)
	}
	return pins
}

// MotorNames returns the motor names in OID order
func (c *MachineConfig) MotorNames() []string {
	names := make([]string, 0, len(c.Motors))
	for name := range c.Motors {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := c.Motors[names[i]], c.Motors[names[j]]
		if a.OID != b.OID {
			return a.OID < b.OID
		}
		return names[i] < names[j]
	})
	return names
}

// DriverSelector picks the GPIO driver for a motor. Targets use it to hand
// PIO-backed motors a different driver.
type DriverSelector func(name string, motor MotorConfig) (core.GPIODriver, error)

// Build creates a controller per motor, sets its cruise speed and adds it
// to reg under the motor's OID.
func (c *MachineConfig) Build(reg *core.Registry, clock core.Clock, driverFor DriverSelector) error {
	for _, name := range c.MotorNames() {
		m := c.Motors[name]

		driver, err := driverFor(name, m)
		if err != nil {
			return errors.New("motor " + name + ": " + err.Error())
		}
		ctl, err := core.NewController(m.StepsPerRevolution, m.GPIOPins(), driver, clock)
		if err != nil {
			return errors.New("motor " + name + ": " + err.Error())
		}
		ctl.SetSpeed(m.SpeedRPM)

		if err := reg.Add(m.OID, ctl); err != nil {
			return errors.New("motor " + name + " oid " + strconv.Itoa(int(m.OID)) + ": " + err.Error())
		}
	}
	return nil
}

// Driver returns a DriverSelector that always returns d
func Driver(d core.GPIODriver) DriverSelector {
	return func(string, MotorConfig) (core.GPIODriver, error) {
		return d, nil
	}
}

// DefaultConfig returns a single 28BYJ-48 style four-wire motor
func DefaultConfig() *MachineConfig {
	return &MachineConfig{
		Mode: ModeStandalone,
		Motors: map[string]MotorConfig{
			"main": {
				OID:                0,
				StepsPerRevolution: 2048,
				Pins:               []uint32{2, 3, 4, 5},
				SpeedRPM:           10,
				InitialMove:        2048,
			},
		},
	}
}
