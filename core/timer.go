package core

// Clock is a monotonic microsecond counter that wraps at 2^32.
type Clock interface {
	NowMicros() uint32
}

// ClockFreq is the tick rate of the system time counter (1MHz)
const ClockFreq = 1000000

var (
	systemTicks uint32
	uptimeHigh  uint32 // number of times systemTicks has wrapped
)

// GetTime returns the current system time in microseconds
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time. Targets call this from the main
// loop with the hardware timer value; tests use it to drive time.
func SetTime(ticks uint32) {
	if ticks < getSystemTicks() {
		uptimeHigh++
	}
	setSystemTicks(ticks)
}

// GetUptime returns 64-bit uptime in microseconds
func GetUptime() uint64 {
	return uint64(uptimeHigh)<<32 | uint64(GetTime())
}

// ResetTime zeroes the system time and uptime
func ResetTime() {
	uptimeHigh = 0
	setSystemTicks(0)
}

// SystemClock reads the package system time. It is the clock controllers
// use on real hardware.
type SystemClock struct{}

// NowMicros implements Clock
func (SystemClock) NowMicros() uint32 {
	return GetTime()
}

// ElapsedMicros returns now-since using wrapping unsigned subtraction,
// so a counter overflow between the two readings is harmless.
func ElapsedMicros(now, since uint32) uint32 {
	return now - since
}
