// Package comms carries telemetry frames over a byte link.
//
// Wire format: STX payload ETX. Payloads are text and may not contain the
// two delimiters.
package comms

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	STX byte = 0x02
	ETX byte = 0x03

	MaxPayload = 1024
)

var (
	ErrClosed         = errors.New("channel closed")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrFrameTooLong   = errors.New("frame too long")
)

func validate(payload []byte) error {
	switch {
	case len(payload) == 0:
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	case len(payload) > MaxPayload:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(payload), MaxPayload)
	case bytes.IndexByte(payload, STX) >= 0 || bytes.IndexByte(payload, ETX) >= 0:
		return fmt.Errorf("%w: contains frame delimiter", ErrInvalidPayload)
	}
	return nil
}

// Encode wraps payload in frame delimiters.
func Encode(payload []byte) ([]byte, error) {
	if err := validate(payload); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(payload)+2)
	out = append(out, STX)
	out = append(out, payload...)
	return append(out, ETX), nil
}

// Decoder splits a byte stream back into payloads. Bytes outside a frame
// are skipped; a second STX before ETX restarts the frame.
type Decoder struct {
	r   *bufio.Reader
	buf []byte
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete payload. An oversized frame is dropped
// and reported as ErrFrameTooLong; the decoder stays usable.
func (d *Decoder) Next() ([]byte, error) {
	in := false
	tooLong := false
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch {
		case c == STX:
			in = true
			tooLong = false
			d.buf = d.buf[:0]
		case !in:
		case c == ETX:
			in = false
			if tooLong {
				return nil, ErrFrameTooLong
			}
			if len(d.buf) == 0 {
				continue
			}
			out := make([]byte, len(d.buf))
			copy(out, d.buf)
			return out, nil
		case len(d.buf) >= MaxPayload:
			tooLong = true
		default:
			d.buf = append(d.buf, c)
		}
	}
}
