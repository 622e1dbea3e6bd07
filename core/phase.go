package core

// WireMode selects how many control lines drive the motor
type WireMode uint8

const (
	TwoWire  WireMode = 2
	FourWire WireMode = 4
)

func (m WireMode) String() string {
	switch m {
	case TwoWire:
		return "two-wire"
	case FourWire:
		return "four-wire"
	default:
		return "unknown"
	}
}

// Pins returns the number of control lines used by the mode
func (m WireMode) Pins() int {
	return int(m)
}

// PhaseCount is the length of the repeating excitation sequence
const PhaseCount = 4

var (
	// 01, 11, 10, 00
	twoWireSequence = [PhaseCount][2]bool{
		{false, true},
		{true, true},
		{true, false},
		{false, false},
	}

	// 1010, 0110, 0101, 1001
	fourWireSequence = [PhaseCount][4]bool{
		{true, false, true, false},
		{false, true, true, false},
		{false, true, false, true},
		{true, false, false, true},
	}
)

// PhasePattern returns the pin levels for a phase index. Only the first
// mode.Pins() entries are used. Any non-negative index is accepted and
// reduced mod 4.
func PhasePattern(mode WireMode, phase int) [4]bool {
	idx := phase % PhaseCount
	var levels [4]bool
	switch mode {
	case TwoWire:
		copy(levels[:], twoWireSequence[idx][:])
	case FourWire:
		levels = fourWireSequence[idx]
	}
	return levels
}
