package mcu

import (
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"stepmulti/core"
	"stepmulti/protocol"
	"stepmulti/standalone/config"
)

type recordingGPIO struct {
	mu         sync.Mutex
	configured []core.GPIOPin
}

func (g *recordingGPIO) ConfigureOutput(pin core.GPIOPin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.configured = append(g.configured, pin)
	return nil
}

func (g *recordingGPIO) SetPin(pin core.GPIOPin, value bool) error { return nil }

var registerOnce sync.Once

// startFirmware runs the firmware command set behind a pipe and returns a
// connected MCU with its dictionary loaded
func startFirmware(t *testing.T) (*MCU, *recordingGPIO) {
	t.Helper()

	registerOnce.Do(func() {
		core.InitCoreCommands()
		core.RegisterStepperCommands()
	})
	core.ResetFirmwareState()

	gpio := &recordingGPIO{}
	core.SetGPIODriver(gpio)

	hostEnd, deviceEnd := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		serveFirmware(deviceEnd)
	}()

	m := NewMCU()
	m.SetOutput(io.Discard)
	m.Attach(hostEnd)
	t.Cleanup(func() {
		m.Close()
		deviceEnd.Close()
		<-done
		core.SetGlobalTransport(nil)
	})

	if err := m.RetrieveDictionary(); err != nil {
		t.Fatalf("RetrieveDictionary: %v", err)
	}
	return m, gpio
}

// serveFirmware is the device main loop without stepping
func serveFirmware(conn net.Conn) {
	out := protocol.NewScratchOutput()
	tr := protocol.NewTransport(out, core.DispatchCommand)
	core.SetGlobalTransport(tr)

	input := protocol.NewFifoBuffer(256)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		input.Write(buf[:n])
		tr.Receive(input)
		if out.CurPosition() > 0 {
			if _, err := conn.Write(out.Result()); err != nil {
				return
			}
			out.Reset()
		}
	}
}

func TestRetrieveDictionary(t *testing.T) {
	m, _ := startFirmware(t)

	dict := m.GetDictionary()
	if dict.Version != protocol.Version {
		t.Errorf("version %q", dict.Version)
	}
	if dict.Config["STEPPER_MAX"] != "16" {
		t.Errorf("config %v", dict.Config)
	}
	for _, name := range []string{"config_stepper", "stepper_move", "query_stepper", "stepper_state", "uptime"} {
		if _, ok := m.commandIDs[name]; !ok {
			t.Errorf("%s missing from the dictionary index", name)
		}
	}
	if string(m.GetDictionaryRaw()) != string(core.GetGlobalDictionary().Generate()) {
		t.Error("reassembled dictionary differs from the firmware's")
	}
}

func TestStepperCommands(t *testing.T) {
	m, gpio := startFirmware(t)

	if err := m.ConfigStepper(3, 2048, []uint32{6, 7, 8, 9}); err != nil {
		t.Fatal(err)
	}
	if err := m.SetSpeed(3, 12); err != nil {
		t.Fatal(err)
	}
	if err := m.Move(3, -1500); err != nil {
		t.Fatal(err)
	}

	state, err := m.Query(3)
	if err != nil {
		t.Fatal(err)
	}
	if state.OID != 3 || state.Remaining != 1500 || state.Total != 1500 ||
		state.Direction != core.Reverse || state.SpeedRPM != 12 {
		t.Errorf("unexpected state %s", state)
	}
	if len(gpio.configured) != 4 {
		t.Errorf("configured pins %v", gpio.configured)
	}

	if err := m.Stop(3); err != nil {
		t.Fatal(err)
	}
	state, err = m.Query(3)
	if err != nil {
		t.Fatal(err)
	}
	if state.Remaining != 0 {
		t.Errorf("stepper still moving after stop: %s", state)
	}

	if err := m.SetSpeed(3, 0); !errors.Is(err, core.ErrInvalidSpeed) {
		t.Errorf("expected ErrInvalidSpeed, got %v", err)
	}
	if err := m.ConfigStepper(4, 200, []uint32{1, 2, 3}); !errors.Is(err, core.ErrInvalidPinCount) {
		t.Errorf("expected ErrInvalidPinCount, got %v", err)
	}
	if err := m.SendCommand("home_all", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}

	// Handler errors are silent on the wire; the query simply goes unanswered
	m.ResponseTimeout = 100 * time.Millisecond
	if _, err := m.Query(9); err == nil {
		t.Error("query of an unconfigured stepper should time out")
	}
}

func TestApplyConfig(t *testing.T) {
	m, _ := startFirmware(t)

	cfg := &config.MachineConfig{
		Mode: config.ModeHost,
		Motors: map[string]config.MotorConfig{
			"a": {OID: 0, StepsPerRevolution: 200, Pins: []uint32{2, 3}, SpeedRPM: 30, InitialMove: 50},
			"b": {OID: 1, StepsPerRevolution: 48, Pins: []uint32{4, 5, 6, 7}, SpeedRPM: 90},
		},
	}
	if err := m.ApplyConfig(cfg); err != nil {
		t.Fatal(err)
	}

	a, err := m.Query(0)
	if err != nil {
		t.Fatal(err)
	}
	if a.Remaining != 50 || a.Direction != core.Forward || a.SpeedRPM != 30 {
		t.Errorf("motor a: %s", a)
	}
	b, err := m.Query(1)
	if err != nil {
		t.Fatal(err)
	}
	if b.Remaining != 0 || b.SpeedRPM != 90 {
		t.Errorf("motor b: %s", b)
	}

	if core.Steppers().Len() != 2 {
		t.Errorf("firmware has %d steppers", core.Steppers().Len())
	}
	if err := m.ConfigReset(); err != nil {
		t.Fatal(err)
	}
	if core.Steppers().Len() != 0 {
		t.Error("config_reset did not clear the firmware")
	}
}

func TestUptime(t *testing.T) {
	m, _ := startFirmware(t)
	core.ResetTime()
	core.SetTime(2500000)

	up, err := m.Uptime()
	if err != nil {
		t.Fatal(err)
	}
	if up != 2500*time.Millisecond {
		t.Errorf("uptime %v", up)
	}
}

func TestNotConnected(t *testing.T) {
	m := NewMCU()
	if err := m.RetrieveDictionary(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := m.Move(0, 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestMessageName(t *testing.T) {
	if messageName("stepper_move oid=%c steps=%i") != "stepper_move" || messageName("get_uptime") != "get_uptime" {
		t.Error("messageName")
	}
}
