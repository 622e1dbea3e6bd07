package standalone

import (
	"strings"
	"testing"

	"stepmulti/core"
	"stepmulti/standalone/config"
)

type nopGPIO struct{ writes int }

func (g *nopGPIO) ConfigureOutput(pin core.GPIOPin) error  { return nil }
func (g *nopGPIO) SetPin(pin core.GPIOPin, value bool) error { g.writes++; return nil }

type stepClock struct{ now uint32 }

func (c *stepClock) NowMicros() uint32 {
	c.now += 100000
	return c.now
}

const managerConfig = `{
	"Mode": "standalone",
	"Motors": {
		"left":  {"OID": 0, "Pins": [2, 3], "InitialMove": 5},
		"right": {"OID": 1, "Pins": [6, 7, 8, 9], "StepsPerRevolution": 48}
	}
}`

func newTestManager(t *testing.T) (*Manager, *core.Registry, *nopGPIO) {
	t.Helper()
	mgr, err := NewManager([]byte(managerConfig))
	if err != nil {
		t.Fatal(err)
	}
	reg := core.NewRegistry()
	gpio := &nopGPIO{}
	if err := mgr.Initialize(reg, &stepClock{}, config.Driver(gpio)); err != nil {
		t.Fatal(err)
	}
	return mgr, reg, gpio
}

func sendLine(mgr *Manager, line string) string {
	for i := 0; i < len(line); i++ {
		mgr.ProcessByte(line[i])
	}
	mgr.ProcessByte('\n')
	return string(mgr.GetOutput())
}

func TestManagerInitialMove(t *testing.T) {
	mgr, reg, gpio := newTestManager(t)

	if mgr.Tick() != 0 {
		t.Error("Tick before Start must not step")
	}
	if err := mgr.Start(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(mgr.GetOutput()), "ready") {
		t.Error("missing ready banner")
	}

	for i := 0; i < 100 && reg.Active(); i++ {
		mgr.Tick()
	}
	if reg.Get(0).Phase() != 5 || reg.Get(1).Phase() != 0 {
		t.Errorf("phases left=%d right=%d", reg.Get(0).Phase(), reg.Get(1).Phase())
	}
	if gpio.writes != 10 {
		t.Errorf("expected 10 pin writes, got %d", gpio.writes)
	}
}

func TestManagerConsole(t *testing.T) {
	mgr, reg, _ := newTestManager(t)
	mgr.Start()
	mgr.GetOutput()

	if out := sendLine(mgr, "speed right 30"); out != "ok\n" {
		t.Errorf("speed: %q", out)
	}
	if reg.Get(1).Speed() != 30 {
		t.Error("speed not applied")
	}

	if out := sendLine(mgr, "move right -3"); out != "ok\n" {
		t.Errorf("move: %q", out)
	}
	for i := 0; i < 100 && reg.Get(1).Active(); i++ {
		mgr.Tick()
	}
	if reg.Get(1).Phase() != 45 {
		t.Errorf("right phase %d, want 45", reg.Get(1).Phase())
	}

	out := sendLine(mgr, "status right")
	if !strings.HasPrefix(out, "right phase=45 remaining=0 dir=reverse rpm=30\n") || !strings.HasSuffix(out, "ok\n") {
		t.Errorf("status: %q", out)
	}

	sendLine(mgr, "move left 1000")
	sendLine(mgr, "stop")
	if reg.Active() {
		t.Error("stop left motors running")
	}

	errorCases := []string{
		"move nowhere 5",
		"move left",
		"move left abc",
		"speed left 0",
		"jump",
	}
	for _, line := range errorCases {
		if out := sendLine(mgr, line); !strings.HasPrefix(out, "error: ") {
			t.Errorf("%q: expected error, got %q", line, out)
		}
	}

	if out := sendLine(mgr, "   "); out != "" {
		t.Errorf("blank line produced %q", out)
	}
}

func TestManagerRejectsInvalidConfig(t *testing.T) {
	if _, err := NewManager([]byte(`{"Motors": {}}`)); err == nil {
		t.Error("expected validation error")
	}

	mgr, reg, _ := newTestManager(t)
	if err := mgr.Initialize(reg, &stepClock{}, nil); err == nil {
		t.Error("second Initialize should fail")
	}
}
