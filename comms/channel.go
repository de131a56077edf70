package comms

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// Channel sends one framed payload at a time.
type Channel interface {
	SendFrame(payload []byte) error
	Close() error
}

// StreamChannel frames payloads onto any writer. Concurrent senders are
// serialized so frames never interleave.
type StreamChannel struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
	sent   uint64
}

var _ Channel = (*StreamChannel)(nil)

func NewStreamChannel(w io.WriteCloser) *StreamChannel {
	return &StreamChannel{w: w}
}

func (c *StreamChannel) SendFrame(payload []byte) error {
	frame, err := Encode(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, err := c.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	c.sent++
	return nil
}

// Sent is the number of frames written.
func (c *StreamChannel) Sent() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func (c *StreamChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.w.Close()
}

type SerialConfig struct {
	Device   string
	BaudRate int
}

// OpenSerial opens a UART at 8N1. BaudRate 0 means 115200.
func OpenSerial(cfg SerialConfig) (*StreamChannel, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Device, err)
	}
	return NewStreamChannel(port), nil
}
