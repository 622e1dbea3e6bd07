package core

// itoa converts an integer to a string without the fmt package, which is
// too heavy for the firmware image
func itoa(n int) string {
	if n == 0 {
		return "0"
	}

	var buf [20]byte
	pos := len(buf)

	u := uint64(n)
	if n < 0 {
		u = uint64(-int64(n))
	}
	for u > 0 {
		pos--
		buf[pos] = byte('0' + u%10)
		u /= 10
	}

	if n < 0 {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// utoa converts an unsigned 32-bit value to a string
func utoa(n uint32) string {
	return itoa(int(n))
}
