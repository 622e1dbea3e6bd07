package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"stepmulti/core"
	"stepmulti/host/serial"
	"stepmulti/protocol"
	"stepmulti/standalone/config"
)

var (
	ErrNotConnected   = errors.New("not connected to MCU")
	ErrNoDictionary   = errors.New("dictionary not loaded")
	ErrUnknownCommand = errors.New("unknown command")
)

// MCU is a connection to the stepper firmware
type MCU struct {
	// Transport layer
	transport *protocol.HostTransport

	// Serial port
	port io.ReadWriteCloser

	// Dictionary data
	dictionary     *Dictionary
	dictionaryData []byte
	commandIDs     map[string]uint16
	responseNames  map[uint16]string

	// Progress output
	out io.Writer

	// ResponseTimeout bounds the wait for a reply to a query
	ResponseTimeout time.Duration

	// Connection state
	connected bool
}

// Dictionary is the parsed firmware dictionary
type Dictionary struct {
	Version   string            `json:"version"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`
}

// StepperState is the decoded stepper_state response
type StepperState struct {
	OID       uint8
	Phase     uint32
	Remaining uint32
	Total     uint32
	Direction core.Direction
	Interval  uint32 // microseconds
	SpeedRPM  uint32
}

func (s *StepperState) String() string {
	return fmt.Sprintf("oid=%d phase=%d remaining=%d/%d dir=%s interval=%dus rpm=%d",
		s.OID, s.Phase, s.Remaining, s.Total, s.Direction, s.Interval, s.SpeedRPM)
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		out:             os.Stdout,
		ResponseTimeout: time.Second,
	}
}

// SetOutput redirects progress messages
func (m *MCU) SetOutput(w io.Writer) {
	m.out = w
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		port.Close()
		return fmt.Errorf("failed to flush serial port: %w", err)
	}

	m.Attach(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)

	return nil
}

// Attach uses an already open stream to the firmware
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return err
		}
	}
	m.connected = false
	return nil
}

// RetrieveDictionary retrieves the complete dictionary from the MCU
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	fmt.Fprintln(m.out, "Retrieving dictionary from MCU...")

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	chunkSize := uint8(40)
	maxIterations := 1000

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		if len(chunk) == 0 {
			break
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < int(chunkSize) {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()
	fmt.Fprintf(m.out, "Dictionary retrieved: %d bytes\n", len(m.dictionaryData))

	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}

	return nil
}

// sendIdentify sends an identify command and waits for response. The
// bootstrap IDs are fixed: identify is 1, identify_response is 0.
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(1, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	payload, err := m.awaitResponse(0)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}

	return data, nil
}

// awaitResponse returns the arguments of the next response with id,
// discarding any other responses that arrive first
func (m *MCU) awaitResponse(id uint16) ([]byte, error) {
	deadline := time.Now().Add(m.ResponseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("no response %d within %v", id, m.ResponseTimeout)
		}

		msg, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}

		payload := msg.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response command ID: %w", err)
		}
		if uint16(got) == id {
			return payload, nil
		}
	}
}

// parseDictionary parses the dictionary JSON and indexes messages by name
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	m.commandIDs = make(map[string]uint16)
	m.responseNames = make(map[uint16]string)
	for sig, id := range dict.Commands {
		m.commandIDs[messageName(sig)] = uint16(id)
	}
	for sig, id := range dict.Responses {
		m.commandIDs[messageName(sig)] = uint16(id)
		m.responseNames[uint16(id)] = messageName(sig)
	}

	m.dictionary = dict
	return nil
}

// messageName strips the argument format from a dictionary signature
func messageName(signature string) string {
	if i := strings.IndexByte(signature, ' '); i >= 0 {
		return signature[:i]
	}
	return signature
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary prints a summary of the dictionary
func (m *MCU) PrintDictionary() {
	if m.dictionary == nil {
		fmt.Fprintln(m.out, "No dictionary loaded")
		return
	}

	fmt.Fprintln(m.out, "\n=== MCU Dictionary ===")
	fmt.Fprintf(m.out, "Version: %s\n", m.dictionary.Version)

	fmt.Fprintln(m.out, "\nConfig:")
	for k, v := range m.dictionary.Config {
		fmt.Fprintf(m.out, "  %s = %s\n", k, v)
	}

	fmt.Fprintf(m.out, "\nCommands (%d):\n", len(m.dictionary.Commands))
	for name, id := range m.dictionary.Commands {
		fmt.Fprintf(m.out, "  [%d] %s\n", id, name)
	}

	fmt.Fprintf(m.out, "\nResponses (%d):\n", len(m.dictionary.Responses))
	for name, id := range m.dictionary.Responses {
		fmt.Fprintf(m.out, "  [%d] %s\n", id, name)
	}
	fmt.Fprintln(m.out)
}

// SendCommand sends a command by name
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}

	cmdID, ok := m.commandIDs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	return m.transport.SendCommand(cmdID, args)
}

// query sends a command and decodes the unsigned arguments of the named
// response
func (m *MCU) query(name string, args func(output protocol.OutputBuffer), response string) ([]uint32, error) {
	if err := m.SendCommand(name, args); err != nil {
		return nil, err
	}

	respID, ok := m.commandIDs[response]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, response)
	}
	payload, err := m.awaitResponse(respID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var values []uint32
	for len(payload) > 0 {
		v, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", response, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// ConfigStepper creates a controller on the firmware. pins must hold 2 or
// 4 pin numbers.
func (m *MCU) ConfigStepper(oid uint8, stepsPerRev int, pins []uint32) error {
	if len(pins) != 2 && len(pins) != 4 {
		return core.ErrInvalidPinCount
	}
	var padded [4]uint32
	copy(padded[:], pins)

	return m.SendCommand("config_stepper", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, uint32(stepsPerRev))
		protocol.EncodeVLQUint(output, uint32(len(pins)))
		for _, p := range padded {
			protocol.EncodeVLQUint(output, p)
		}
	})
}

// SetSpeed sets the cruise speed of a stepper
func (m *MCU) SetSpeed(oid uint8, rpm uint32) error {
	if rpm == 0 {
		return core.ErrInvalidSpeed
	}
	return m.SendCommand("set_stepper_speed", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQUint(output, rpm)
	})
}

// Move starts a relative move, replacing any move in progress
func (m *MCU) Move(oid uint8, steps int32) error {
	return m.SendCommand("stepper_move", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
		protocol.EncodeVLQInt(output, steps)
	})
}

// Stop abandons the move in progress
func (m *MCU) Stop(oid uint8) error {
	return m.SendCommand("stepper_stop", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
	})
}

// Query returns the state of a stepper
func (m *MCU) Query(oid uint8) (*StepperState, error) {
	v, err := m.query("query_stepper", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(oid))
	}, "stepper_state")
	if err != nil {
		return nil, err
	}
	if len(v) != 7 {
		return nil, fmt.Errorf("stepper_state: expected 7 values, got %d", len(v))
	}

	return &StepperState{
		OID:       uint8(v[0]),
		Phase:     v[1],
		Remaining: v[2],
		Total:     v[3],
		Direction: core.Direction(v[4]),
		Interval:  v[5],
		SpeedRPM:  v[6],
	}, nil
}

// Uptime returns the firmware uptime
func (m *MCU) Uptime() (time.Duration, error) {
	v, err := m.query("get_uptime", nil, "uptime")
	if err != nil {
		return 0, err
	}
	if len(v) != 2 {
		return 0, fmt.Errorf("uptime: expected 2 values, got %d", len(v))
	}
	us := uint64(v[0])<<32 | uint64(v[1])
	return time.Duration(us) * time.Microsecond, nil
}

// ConfigReset removes every stepper on the firmware
func (m *MCU) ConfigReset() error {
	return m.SendCommand("config_reset", nil)
}

// ApplyConfig configures every motor in cfg and starts its initial move
func (m *MCU) ApplyConfig(cfg *config.MachineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	for _, name := range cfg.MotorNames() {
		motor := cfg.Motors[name]
		if err := m.ConfigStepper(motor.OID, motor.StepsPerRevolution, motor.Pins); err != nil {
			return fmt.Errorf("motor %s: %w", name, err)
		}
		if err := m.SetSpeed(motor.OID, motor.SpeedRPM); err != nil {
			return fmt.Errorf("motor %s: %w", name, err)
		}
		if motor.InitialMove != 0 {
			if err := m.Move(motor.OID, motor.InitialMove); err != nil {
				return fmt.Errorf("motor %s: %w", name, err)
			}
		}
		fmt.Fprintf(m.out, "Configured motor %s (oid %d, %d pins)\n", name, motor.OID, len(motor.Pins))
	}
	return nil
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}
