package protocol

import "errors"

// ErrHandlerPanic is reported when a command handler panics
var ErrHandlerPanic = errors.New("command handler panicked")

// CommandHandler handles one decoded command. It must consume its own
// arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware side of the protocol: it validates incoming
// frames, acknowledges them and encodes response frames. It is owned by
// the main loop and is not safe for concurrent use.
type Transport struct {
	synchronized bool
	// Next sequence expected from the host; also stamped on responses
	nextSequence uint8

	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()
	errorCallback func(error)
}

// NewTransport creates a Transport writing to output
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synchronized: true,
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive consumes complete frames from input, dispatching their commands
// and acknowledging each one. Partial frames are left in input.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.synchronized {
			i := indexSync(data)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			t.synchronized = true
			t.encodeAckNak()
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}

		n := frameLength(data)
		if n == 0 {
			break
		}
		if n < 0 {
			t.synchronized = false
			continue
		}

		seq := data[MessagePositionSeq]
		frame := data[MessageHeaderSize : n-MessageTrailerSize]
		data = data[n:]

		// A host restarting its sequence means the host was reset
		if seq == MessageDest && t.nextSequence != MessageDest {
			t.nextSequence = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		if seq == t.nextSequence {
			t.nextSequence = nextSeq(seq)
			if err := t.parseFrame(frame); err != nil && t.errorCallback != nil {
				t.errorCallback(err)
			}
		}
		// Sent for every frame; on a sequence mismatch it acts as a NAK
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame dispatches every command in frame
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.synchronized = false
			err = ErrHandlerPanic
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.synchronized = false
			return err
		}
		if t.handler == nil {
			return nil
		}
		// Handler errors are reported but do not desynchronise
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

// encodeAckNak writes an empty frame carrying the next expected sequence
func (t *Transport) encodeAckNak() {
	t.output.Output(appendTrailer([]byte{MessageLengthMin, t.nextSequence}))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, t.nextSequence})
	frameData(t.output)

	body := t.output.DataSince(start)
	t.output.Update(start, uint8(len(body)+MessageTrailerSize))

	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), MessageValueSync})
}

// SendResponse encodes a response message with its arguments
func (t *Transport) SendResponse(msgID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(msgID))
		if args != nil {
			args(output)
		}
	})
}

// Reset restores the initial state after a reconnect
func (t *Transport) Reset() {
	t.synchronized = true
	t.nextSequence = MessageDest
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// Synchronized reports whether the transport is in frame sync
func (t *Transport) Synchronized() bool {
	return t.synchronized
}

// SetResetCallback sets a callback run when a host reset is detected
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets a callback that pushes ACKs out immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback sets a callback for command handler errors
func (t *Transport) SetErrorCallback(callback func(error)) {
	t.errorCallback = callback
}

func indexSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i
		}
	}
	return -1
}
