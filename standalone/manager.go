package standalone

import (
	"errors"
	"strconv"
	"strings"

	"stepmulti/core"
	"stepmulti/standalone/config"
)

var (
	ErrNotInitialized = errors.New("manager not initialized")
	ErrUnknownMotor   = errors.New("unknown motor")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUsage          = errors.New("wrong number of arguments")
)

// Manager runs the configured motors without a host. It accepts a small
// line-oriented console ("move main 2048", "speed main 15", "stop",
// "status") on the same serial port the protocol would use.
type Manager struct {
	config   *config.MachineConfig
	registry *core.Registry

	// Serial interface
	inputBuffer  []byte
	outputBuffer []byte

	// Status
	initialized bool
	running     bool
}

// NewManager creates a manager from a JSON configuration
func NewManager(configData []byte) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *config.MachineConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mgr := &Manager{
		config:       cfg,
		inputBuffer:  make([]byte, 0, 256),
		outputBuffer: make([]byte, 0, 256),
	}

	return mgr, nil
}

// Initialize builds the controllers into reg
func (m *Manager) Initialize(reg *core.Registry, clock core.Clock, driverFor config.DriverSelector) error {
	if m.initialized {
		return errors.New("already initialized")
	}

	if err := m.config.Build(reg, clock, driverFor); err != nil {
		reg.Reset()
		return err
	}

	m.registry = reg
	m.initialized = true
	return nil
}

// Start begins standalone operation and launches every motor's initial move
func (m *Manager) Start() error {
	if !m.initialized {
		return ErrNotInitialized
	}

	for _, name := range m.config.MotorNames() {
		motor := m.config.Motors[name]
		if motor.InitialMove != 0 {
			m.registry.Get(motor.OID).Move(motor.InitialMove)
			core.RecordTiming(core.EvtMove, motor.OID, uint32(motor.InitialMove), 0)
		}
	}

	m.running = true
	m.SendResponse("stepmulti standalone mode ready\n")
	return nil
}

// Tick steps the motors once. The caller's loop calls it continuously.
func (m *Manager) Tick() int {
	if !m.running {
		return 0
	}
	return m.registry.TickAll()
}

// Stop halts all motors
func (m *Manager) Stop() {
	m.running = false
	if m.registry != nil {
		m.registry.Each(func(_ uint8, c *core.Controller) { c.Stop() })
	}
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running
}

// ProcessByte processes a single byte of console input
func (m *Manager) ProcessByte(b byte) error {
	if b != '\n' && b != '\r' {
		m.inputBuffer = append(m.inputBuffer, b)
		return nil
	}

	line := strings.TrimSpace(string(m.inputBuffer))
	m.inputBuffer = m.inputBuffer[:0]
	if line == "" {
		return nil
	}

	if err := m.ProcessLine(line); err != nil {
		m.SendResponse("error: " + err.Error() + "\n")
		return err
	}
	m.SendResponse("ok\n")
	return nil
}

// ProcessLine executes one console command
func (m *Manager) ProcessLine(line string) error {
	if !m.initialized {
		return ErrNotInitialized
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "move":
		if len(fields) != 3 {
			return ErrUsage
		}
		c, err := m.motor(fields[1])
		if err != nil {
			return err
		}
		steps, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return err
		}
		c.Move(int32(steps))
		m.running = true

	case "speed":
		if len(fields) != 3 {
			return ErrUsage
		}
		c, err := m.motor(fields[1])
		if err != nil {
			return err
		}
		rpm, err := strconv.ParseUint(fields[2], 10, 32)
		if err != nil {
			return err
		}
		if rpm == 0 {
			return core.ErrInvalidSpeed
		}
		c.SetSpeed(uint32(rpm))

	case "stop":
		if len(fields) == 1 {
			m.registry.Each(func(_ uint8, c *core.Controller) { c.Stop() })
			return nil
		}
		c, err := m.motor(fields[1])
		if err != nil {
			return err
		}
		c.Stop()

	case "status":
		for _, name := range m.config.MotorNames() {
			if len(fields) > 1 && fields[1] != name {
				continue
			}
			m.SendResponse(m.status(name) + "\n")
		}

	default:
		return errors.New(ErrUnknownCommand.Error() + ": " + fields[0])
	}
	return nil
}

func (m *Manager) motor(name string) (*core.Controller, error) {
	motor, ok := m.config.Motors[name]
	if !ok {
		return nil, errors.New(ErrUnknownMotor.Error() + ": " + name)
	}
	return m.registry.Get(motor.OID), nil
}

func (m *Manager) status(name string) string {
	c, _ := m.motor(name)
	return name +
		" phase=" + strconv.Itoa(c.Phase()) +
		" remaining=" + strconv.FormatUint(uint64(c.Remaining()), 10) +
		" dir=" + c.Direction().String() +
		" rpm=" + strconv.FormatUint(uint64(c.Speed()), 10)
}

// SendResponse queues a response to be sent to the console
func (m *Manager) SendResponse(response string) {
	m.outputBuffer = append(m.outputBuffer, response...)
}

// GetOutput returns any pending output and clears the buffer
func (m *Manager) GetOutput() []byte {
	if len(m.outputBuffer) == 0 {
		return nil
	}

	output := make([]byte, len(m.outputBuffer))
	copy(output, m.outputBuffer)
	m.outputBuffer = m.outputBuffer[:0]
	return output
}
