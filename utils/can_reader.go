package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

var ErrReaderClosed = errors.New("can reader closed")

type CANReader interface {
	ReadFrame(ctx context.Context) (can.Frame, error)
	Close() error
}

// SocketCANReader pumps frames from one receive goroutine so a cancelled
// ReadFrame never leaves a blocked Receive behind.
type SocketCANReader struct {
	conn   net.Conn
	frames chan can.Frame
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func NewSocketCANReader(ctx context.Context, iface string) (*SocketCANReader, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("socketcan dial %s: %w", iface, err)
	}
	return newSocketCANReader(conn), nil
}

func newSocketCANReader(conn net.Conn) *SocketCANReader {
	r := &SocketCANReader{
		conn:   conn,
		frames: make(chan can.Frame, 16),
		done:   make(chan struct{}),
	}
	go r.pump(socketcan.NewReceiver(conn))
	return r
}

func (r *SocketCANReader) pump(recv *socketcan.Receiver) {
	defer close(r.done)
	for recv.Receive() {
		if recv.HasErrorFrame() {
			continue
		}
		select {
		case r.frames <- recv.Frame():
		default:
			// consumer is behind; drop the oldest frame
			select {
			case <-r.frames:
			default:
			}
			r.frames <- recv.Frame()
		}
	}
	r.mu.Lock()
	r.err = recv.Err()
	r.mu.Unlock()
}

// ReadFrame blocks until a frame arrives, ctx is done or the socket closes.
// Once the receiver has stopped every call fails with an error wrapping
// ErrReaderClosed, plus the receive error if there was one.
func (r *SocketCANReader) ReadFrame(ctx context.Context) (can.Frame, error) {
	select {
	case <-ctx.Done():
		return can.Frame{}, ctx.Err()
	case f := <-r.frames:
		return f, nil
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.err != nil {
			return can.Frame{}, fmt.Errorf("%w: receive: %w", ErrReaderClosed, r.err)
		}
		return can.Frame{}, ErrReaderClosed
	}
}

func (r *SocketCANReader) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
