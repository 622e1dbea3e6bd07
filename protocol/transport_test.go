package protocol

import (
	"bytes"
	"errors"
	"net"
	"testing"
	"time"
)

type recordedCommand struct {
	id   uint16
	args []int32
}

// newTestTransport returns a device transport whose handler decodes nargs
// signed arguments per command
func newTestTransport(nargs int) (*Transport, *ScratchOutput, *[]recordedCommand) {
	out := NewScratchOutput()
	var got []recordedCommand
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		rc := recordedCommand{id: cmdID}
		for i := 0; i < nargs; i++ {
			v, err := DecodeVLQInt(data)
			if err != nil {
				return err
			}
			rc.args = append(rc.args, v)
		}
		got = append(got, rc)
		return nil
	})
	return tr, out, &got
}

func mustFrame(t *testing.T, seq uint8, id uint16, args ...int32) []byte {
	t.Helper()
	frame, err := BuildFrame(seq, id, func(output OutputBuffer) {
		for _, a := range args {
			EncodeVLQInt(output, a)
		}
	})
	if err != nil {
		t.Fatalf("BuildFrame: %v", err)
	}
	return frame
}

func TestTransportReceiveAndAck(t *testing.T) {
	tr, out, got := newTestTransport(2)

	input := NewSliceInputBuffer(mustFrame(t, MessageDest, 4, 3, -5))
	tr.Receive(input)

	if input.Available() != 0 {
		t.Errorf("frame not consumed, %d bytes left", input.Available())
	}
	if len(*got) != 1 || (*got)[0].id != 4 || (*got)[0].args[0] != 3 || (*got)[0].args[1] != -5 {
		t.Fatalf("unexpected dispatch %+v", *got)
	}

	ack := out.Result()
	if len(ack) != MessageLengthMin || ack[MessagePositionSeq] != MessageDest+1 {
		t.Errorf("unexpected ACK %x", ack)
	}
	if frameLength(ack) != MessageLengthMin {
		t.Errorf("ACK is not a valid frame: %x", ack)
	}
}

func TestTransportPartialFrame(t *testing.T) {
	tr, _, got := newTestTransport(1)
	frame := mustFrame(t, MessageDest, 2, 1000)

	fifo := NewFifoBuffer(128)
	fifo.Write(frame[:4])
	tr.Receive(fifo)
	if len(*got) != 0 || fifo.Available() != 4 {
		t.Fatalf("partial frame handled early: dispatched=%d left=%d", len(*got), fifo.Available())
	}

	fifo.Write(frame[4:])
	tr.Receive(fifo)
	if len(*got) != 1 || (*got)[0].args[0] != 1000 {
		t.Errorf("expected dispatch after completion, got %+v", *got)
	}
}

func TestTransportBadCRCResyncs(t *testing.T) {
	tr, _, got := newTestTransport(1)

	bad := mustFrame(t, MessageDest, 2, 7)
	bad[len(bad)-2] ^= 0xFF
	good := mustFrame(t, MessageDest, 2, 8)

	tr.Receive(NewSliceInputBuffer(append(bad, good...)))

	if len(*got) != 1 || (*got)[0].args[0] != 8 {
		t.Errorf("expected only the good frame, got %+v", *got)
	}
	if !tr.Synchronized() {
		t.Error("transport should be synchronized again")
	}
}

func TestTransportSequenceMismatchNaks(t *testing.T) {
	tr, out, got := newTestTransport(0)

	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, 1)))
	out.Reset()

	// Repeat of the same sequence is ignored but answered
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest+3, 1)))
	if len(*got) != 1 {
		t.Errorf("out-of-sequence frame was dispatched")
	}
	if ack := out.Result(); ack[MessagePositionSeq] != MessageDest+1 {
		t.Errorf("NAK should carry expected sequence, got 0x%02x", ack[MessagePositionSeq])
	}
}

func TestTransportHostReset(t *testing.T) {
	tr, _, _ := newTestTransport(0)
	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, 1)))
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, 1)))

	if resets != 1 {
		t.Errorf("expected 1 reset, got %d", resets)
	}
}

func TestTransportHandlerError(t *testing.T) {
	out := NewScratchOutput()
	var reported error
	tr := NewTransport(out, func(cmdID uint16, data *[]byte) error {
		return errors.New("boom")
	})
	tr.SetErrorCallback(func(err error) { reported = err })

	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, 1)))

	if reported == nil || reported.Error() != "boom" {
		t.Errorf("handler error not reported: %v", reported)
	}
	if !tr.Synchronized() {
		t.Error("handler errors must not desynchronize")
	}
}

func TestTransportEncodeResponse(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)

	tr.SendResponse(9, func(output OutputBuffer) {
		EncodeVLQUint(output, 5000)
	})

	frame := out.Result()
	n := frameLength(frame)
	if n != len(frame) {
		t.Fatalf("invalid response frame %x", frame)
	}

	payload := frame[MessageHeaderSize : n-MessageTrailerSize]
	id, _ := DecodeVLQUint(&payload)
	v, _ := DecodeVLQUint(&payload)
	if id != 9 || v != 5000 {
		t.Errorf("decoded id=%d value=%d", id, v)
	}
}

func TestBuildFrameTooLong(t *testing.T) {
	_, err := BuildFrame(MessageDest, 1, func(output OutputBuffer) {
		output.Output(bytes.Repeat([]byte{1}, MessageLengthMax))
	})
	if !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("expected ErrMessageTooLong, got %v", err)
	}
}

// serveDevice runs a device Transport on the far end of a pipe
func serveDevice(conn net.Conn, handler CommandHandler, respond func(*Transport, uint16)) {
	out := NewScratchOutput()
	var tr *Transport
	tr = NewTransport(out, func(cmdID uint16, data *[]byte) error {
		if err := handler(cmdID, data); err != nil {
			return err
		}
		respond(tr, cmdID)
		return nil
	})

	input := NewFifoBuffer(256)
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		input.Write(buf[:n])
		tr.Receive(input)
		if out.CurPosition() > 0 {
			if _, err := conn.Write(out.Result()); err != nil {
				return
			}
			out.Reset()
		}
	}
}

func TestHostTransportRoundTrip(t *testing.T) {
	hostEnd, deviceEnd := net.Pipe()
	defer deviceEnd.Close()

	go serveDevice(deviceEnd,
		func(cmdID uint16, data *[]byte) error {
			_, err := DecodeVLQInt(data)
			return err
		},
		func(tr *Transport, cmdID uint16) {
			tr.SendResponse(cmdID+100, func(output OutputBuffer) {
				EncodeVLQInt(output, -42)
			})
		})

	host := NewHostTransport(hostEnd)
	defer host.Close()

	for i := 0; i < 20; i++ {
		if err := host.SendCommand(uint16(i%3), func(output OutputBuffer) {
			EncodeVLQInt(output, int32(i))
		}); err != nil {
			t.Fatalf("SendCommand %d: %v", i, err)
		}

		msg, err := host.ReceiveResponse(time.Second)
		if err != nil {
			t.Fatalf("ReceiveResponse %d: %v", i, err)
		}
		payload := msg.Payload
		id, _ := DecodeVLQUint(&payload)
		v, _ := DecodeVLQInt(&payload)
		if id != uint32(i%3)+100 || v != -42 {
			t.Errorf("response %d: id=%d v=%d", i, id, v)
		}
	}

	// 20 frames wrap the 4-bit sequence once
	if seq := host.Sequence(); seq != MessageDest|(20&MessageSeqMask) {
		t.Errorf("unexpected sequence 0x%02x", seq)
	}
}

func TestHostTransportAckTimeout(t *testing.T) {
	hostEnd, deviceEnd := net.Pipe()
	defer deviceEnd.Close()

	// Swallow everything, never answer
	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := deviceEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	host := NewHostTransport(hostEnd)
	defer host.Close()

	err := host.SendCommandWithTimeout(1, nil, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected ACK timeout")
	}
}
