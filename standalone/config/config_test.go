package config

import (
	"errors"
	"strings"
	"testing"

	"stepmulti/core"
)

type nopGPIO struct{ configured int }

func (g *nopGPIO) ConfigureOutput(pin core.GPIOPin) error { g.configured++; return nil }
func (g *nopGPIO) SetPin(pin core.GPIOPin, value bool) error { return nil }

type zeroClock struct{}

func (zeroClock) NowMicros() uint32 { return 0 }

const sampleConfig = `{
	"Mode": "standalone",
	"Motors": {
		"pan":  {"OID": 1, "StepsPerRevolution": 2048, "Pins": [2, 3, 4, 5], "SpeedRPM": 12, "UsePIO": true},
		"tilt": {"OID": 0, "Pins": [10, 11], "InitialMove": -400}
	}
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tilt := cfg.Motors["tilt"]
	if tilt.StepsPerRevolution != 200 || tilt.SpeedRPM != 60 || tilt.InitialMove != -400 {
		t.Errorf("defaults not applied: %+v", tilt)
	}
	if pan := cfg.Motors["pan"]; pan.SpeedRPM != 12 || !pan.UsePIO {
		t.Errorf("explicit values overwritten: %+v", pan)
	}

	names := cfg.MotorNames()
	if len(names) != 2 || names[0] != "tilt" || names[1] != "pan" {
		t.Errorf("MotorNames should follow OID order, got %v", names)
	}

	empty, err := LoadConfig([]byte(`{"Motors": {"m": {"Pins": [1, 2]}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if empty.Mode != ModeHost {
		t.Errorf("default mode %q", empty.Mode)
	}

	if _, err := LoadConfig([]byte(`{"Motors": [}`)); err == nil {
		t.Error("malformed JSON should fail")
	}
}

func TestValidate(t *testing.T) {
	motor := func(mod func(m *MotorConfig)) *MachineConfig {
		m := MotorConfig{OID: 0, StepsPerRevolution: 200, Pins: []uint32{1, 2}, SpeedRPM: 60}
		mod(&m)
		return &MachineConfig{Mode: ModeHost, Motors: map[string]MotorConfig{"m": m}}
	}

	testCases := []struct {
		name string
		cfg  *MachineConfig
		want error
	}{
		{"valid", motor(func(m *MotorConfig) {}), nil},
		{"bad mode", &MachineConfig{Mode: "klipper", Motors: motor(func(*MotorConfig) {}).Motors}, ErrUnknownMode},
		{"no motors", &MachineConfig{Mode: ModeHost}, ErrNoMotors},
		{"oid range", motor(func(m *MotorConfig) { m.OID = 16 }), core.ErrOIDRange},
		{"steps", motor(func(m *MotorConfig) { m.StepsPerRevolution = -1 }), core.ErrInvalidStepsPerRevolution},
		{"three pins", motor(func(m *MotorConfig) { m.Pins = []uint32{1, 2, 3} }), core.ErrInvalidPinCount},
		{"zero speed", motor(func(m *MotorConfig) { m.SpeedRPM = 0 }), core.ErrInvalidSpeed},
		{"pio two pins", motor(func(m *MotorConfig) { m.UsePIO = true }), ErrPIOPinCount},
		{"pio gap", motor(func(m *MotorConfig) { m.UsePIO = true; m.Pins = []uint32{1, 2, 4, 5} }), ErrPIOPinsLayout},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.want == nil {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !containsError(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	dup := &MachineConfig{Mode: ModeHost, Motors: map[string]MotorConfig{
		"a": {OID: 3, StepsPerRevolution: 200, Pins: []uint32{1, 2}, SpeedRPM: 60},
		"b": {OID: 3, StepsPerRevolution: 200, Pins: []uint32{3, 4}, SpeedRPM: 60},
	}}
	if err := dup.Validate(); err == nil || !containsError(err, ErrDuplicateOID) {
		t.Errorf("expected duplicate OID error, got %v", err)
	}
}

// containsError matches the message of a wrapped sentinel; the firmware
// build wraps by concatenation
func containsError(err, target error) bool {
	if errors.Is(err, target) {
		return true
	}
	return strings.Contains(err.Error(), target.Error())
}

func TestBuild(t *testing.T) {
	cfg, err := LoadConfig([]byte(sampleConfig))
	if err != nil {
		t.Fatal(err)
	}

	plain, pio := &nopGPIO{}, &nopGPIO{}
	reg := core.NewRegistry()
	err = cfg.Build(reg, zeroClock{}, func(name string, m MotorConfig) (core.GPIODriver, error) {
		if m.UsePIO {
			return pio, nil
		}
		return plain, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if reg.Len() != 2 {
		t.Fatalf("expected 2 controllers, got %d", reg.Len())
	}
	pan := reg.Get(1)
	if pan == nil || pan.StepsPerRevolution() != 2048 || pan.Speed() != 12 || pan.WireMode() != core.FourWire {
		t.Errorf("pan controller %+v", pan)
	}
	if plain.configured != 2 || pio.configured != 4 {
		t.Errorf("driver selection: plain=%d pio=%d", plain.configured, pio.configured)
	}

	// Building twice collides on OIDs
	if err := cfg.Build(reg, zeroClock{}, Driver(plain)); err == nil {
		t.Error("expected OID collision")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Error(err)
	}
}
