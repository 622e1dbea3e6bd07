package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrMessageTooLong  = errors.New("message too long")
)

// Message is a validated frame received from the firmware
type Message struct {
	Sequence uint8
	Payload  []byte // frame data without header and trailer
}

// HostTransport is the host side of the protocol. It sends command frames,
// waits for their ACK and hands response frames to the caller.
type HostTransport struct {
	port io.ReadWriteCloser

	mu  sync.Mutex // serialises Send
	seq uint8

	ackChan      chan uint8
	responseChan chan *Message

	closeOnce sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewHostTransport starts a transport reading from port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:         port,
		seq:          MessageDest,
		ackChan:      make(chan uint8, 1),
		responseChan: make(chan *Message, 16),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// BuildFrame encodes a complete frame for cmdID with the given sequence
func BuildFrame(seq uint8, cmdID uint16, args func(output OutputBuffer)) ([]byte, error) {
	scratch := NewScratchOutput()
	EncodeVLQUint(scratch, uint32(cmdID))
	if args != nil {
		args(scratch)
	}
	payload := scratch.Result()

	n := MessageHeaderSize + len(payload) + MessageTrailerSize
	if n > MessageLengthMax {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrMessageTooLong, n, MessageLengthMax)
	}

	frame := make([]byte, 0, n)
	frame = append(frame, uint8(n), seq)
	frame = append(frame, payload...)
	return appendTrailer(frame), nil
}

// SendCommand sends a command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, 2*time.Second)
}

// SendCommandWithTimeout sends a command and waits up to timeout for the ACK
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame, err := BuildFrame(t.seq, cmdID, args)
	if err != nil {
		return err
	}

	n, err := t.port.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(frame))
	}

	want := nextSeq(t.seq)
	select {
	case got := <-t.ackChan:
		if got != want {
			return fmt.Errorf("sequence mismatch: expected 0x%02x, got 0x%02x", want, got)
		}
		t.seq = want
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ACK timeout after %v", timeout)
	case <-t.stopChan:
		return ErrTransportClosed
	}
}

// ReceiveResponse waits up to timeout for the next response frame
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (*Message, error) {
	select {
	case msg := <-t.responseChan:
		return msg, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("response timeout after %v", timeout)
	case <-t.stopChan:
		return nil, ErrTransportClosed
	}
}

// readLoop feeds bytes from the port into the frame parser
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	input := NewFifoBuffer(1024)
	buf := make([]byte, 256)
	synced := true

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if n == 0 {
			continue
		}

		input.Write(buf[:n])
		synced = t.processFrames(input, synced)
	}
}

// processFrames extracts every complete frame from input and returns the
// updated sync state
func (t *HostTransport) processFrames(input *FifoBuffer, synced bool) bool {
	data := input.Data()

	for len(data) > 0 {
		if !synced {
			i := indexSync(data)
			if i < 0 {
				data = nil
				break
			}
			data = data[i+1:]
			synced = true
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
			synced = false
			continue
		}

		msg := &Message{
			Sequence: data[MessagePositionSeq],
			Payload:  append([]byte(nil), data[MessageHeaderSize:n-MessageTrailerSize]...),
		}
		data = data[n:]
		t.dispatch(msg)
	}

	input.Pop(input.Available() - len(data))
	return synced
}

// dispatch routes ACKs and responses to their channels
func (t *HostTransport) dispatch(msg *Message) {
	if len(msg.Payload) == 0 {
		select {
		case t.ackChan <- msg.Sequence:
		default:
		}
		return
	}

	select {
	case t.responseChan <- msg:
	default:
		// Drop the oldest response to make room
		select {
		case <-t.responseChan:
		default:
		}
		t.responseChan <- msg
	}
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		err = t.port.Close()
		<-t.doneChan
	})
	return err
}

// Sequence returns the sequence number of the next command
func (t *HostTransport) Sequence() uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq
}
