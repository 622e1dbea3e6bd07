package core

import "math"

// Ramp policy constants. These are empirical values kept for behavioural
// parity with existing motors; they are not derived from a motion model.
const (
	// microsecondsPerMinute converts RPM to a per-step delay
	microsecondsPerMinute = 60 * 1000 * 1000

	// rampTailSteps is the absolute step count (about 30 degrees on a
	// 4096-step motor) below which a move decelerates
	rampTailSteps = 300

	// rampFloorRPM is the slowest ramp speed, reached at either end of a move
	rampFloorRPM = 4

	// rampSpeedDivisor converts steps into ramp speed increments
	rampSpeedDivisor = 100
)

// rampInterval computes the inter-step delay in microseconds for the
// current position in a move. The regimes are checked in order:
//
//	tail:   remaining < 300          -> remaining/100 + 4 RPM
//	head:   remaining/total >= 0.75  -> (total-remaining)/100 + 4 RPM
//	cruise: otherwise                -> speedRPM
//
// total must be non-zero and stepsPerRev positive. The result is never
// below 1us. A zero speedRPM yields math.MaxUint32 in the cruise regime.
func rampInterval(stepsPerRev int, speedRPM, remaining, total uint32) uint32 {
	perRev := uint32(microsecondsPerMinute / stepsPerRev)

	var interval uint32
	switch {
	case remaining < rampTailSteps:
		interval = perRev / (remaining/rampSpeedDivisor + rampFloorRPM)
	case 4*uint64(remaining) >= 3*uint64(total): // remaining/total >= 0.75
		interval = perRev / ((total-remaining)/rampSpeedDivisor + rampFloorRPM)
	case speedRPM == 0:
		return math.MaxUint32
	default:
		interval = perRev / speedRPM
	}

	if interval == 0 {
		interval = 1
	}
	return interval
}
