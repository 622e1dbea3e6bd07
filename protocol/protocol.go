// Package protocol implements the framed binary protocol spoken between the
// stepmulti firmware and its host tool. Framing follows Klipper's format:
//
//	<len> <seq> <payload...> <crc_hi> <crc_lo> 0x7E
//
// The payload is a sequence of VLQ-encoded command IDs and arguments.
package protocol

// Version is the firmware/protocol version reported in the dictionary
const Version = "stepmulti-0.1.0"

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F

	// ScratchSize bounds the data queued for output between flushes
	ScratchSize = 512
)

// nextSeq returns the sequence number following seq
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// frameLength validates the header of a candidate frame at the start of
// data. It returns the frame length, 0 if more data is needed, or -1 if the
// bytes cannot start a valid frame.
func frameLength(data []byte) int {
	if len(data) < MessageLengthMin {
		return 0
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return -1
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return -1
	}
	if len(data) < n {
		return 0
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return -1
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return -1
	}
	return n
}

// appendTrailer appends the CRC of frame and the sync byte
func appendTrailer(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc>>8), byte(crc), MessageValueSync)
}
