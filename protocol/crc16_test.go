package protocol

import "testing"

func TestCRC16Empty(t *testing.T) {
	if got := CRC16(nil); got != 0xFFFF {
		t.Errorf("CRC16(nil) = 0x%04X, want 0xFFFF", got)
	}
}

func TestCRC16Check(t *testing.T) {
	// CRC-16/MCRF4XX check value
	if got := CRC16([]byte("123456789")); got != 0x6F91 {
		t.Errorf("CRC16(123456789) = 0x%04X, want 0x6F91", got)
	}
}

func TestCRC16Sensitivity(t *testing.T) {
	a := CRC16([]byte{5, MessageDest})
	b := CRC16([]byte{5, MessageDest + 1})
	if a == b {
		t.Errorf("CRC16 did not change with input: 0x%04X", a)
	}
	if a != CRC16([]byte{5, MessageDest}) {
		t.Error("CRC16 is not deterministic")
	}
}
