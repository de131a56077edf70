package utils

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

type CANWriter interface {
	WriteFrame(ctx context.Context, frame can.Frame) error
	Close() error
}

// SocketCANWriter transmits on a raw CAN socket and counts what went out.
type SocketCANWriter struct {
	conn net.Conn
	tx   *socketcan.Transmitter
	sent atomic.Uint64
}

// NewSocketCANWriter dials a raw CAN socket on iface ("can0", "vcan0", ...).
func NewSocketCANWriter(ctx context.Context, iface string) (*SocketCANWriter, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return newSocketCANWriter(conn), nil
}

func newSocketCANWriter(conn net.Conn) *SocketCANWriter {
	return &SocketCANWriter{conn: conn, tx: socketcan.NewTransmitter(conn)}
}

func (w *SocketCANWriter) WriteFrame(ctx context.Context, frame can.Frame) error {
	if err := w.tx.TransmitFrame(ctx, frame); err != nil {
		return fmt.Errorf("transmit 0x%X: %w", frame.ID, err)
	}
	w.sent.Add(1)
	return nil
}

// Sent is the number of frames transmitted without error.
func (w *SocketCANWriter) Sent() uint64 { return w.sent.Load() }

func (w *SocketCANWriter) Close() error {
	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}
