package comms

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufCloser) Close() error {
	b.closed = true
	return nil
}

func TestEncodeRejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":     {},
		"stx":       []byte("a\x02b"),
		"etx":       []byte("a\x03"),
		"oversized": bytes.Repeat([]byte{'x'}, MaxPayload+1),
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(p)
			assert.ErrorIs(t, err, ErrInvalidPayload)
		})
	}
}

func TestChannelFramesDecode(t *testing.T) {
	w := &bufCloser{}
	ch := NewStreamChannel(w)

	require.NoError(t, ch.SendFrame([]byte("12.000,1,0.5000")))
	require.NoError(t, ch.SendFrame([]byte("22.000,-1,0.2500")))
	assert.Equal(t, uint64(2), ch.Sent())
	assert.Equal(t, byte(STX), w.Bytes()[0])

	dec := NewDecoder(bytes.NewReader(w.Bytes()))
	p, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "12.000,1,0.5000", string(p))
	p, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "22.000,-1,0.2500", string(p))
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestChannelClosed(t *testing.T) {
	w := &bufCloser{}
	ch := NewStreamChannel(w)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, ch.SendFrame([]byte("x")), ErrClosed)
}

func TestDecoderResyncs(t *testing.T) {
	stream := "noise\x03\x02lost\x02one\x03junk\x02\x03\x02two\x03"
	dec := NewDecoder(strings.NewReader(stream))

	p, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", string(p))
	p, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "two", string(p), "empty frames are skipped")
}

func TestDecoderDropsOversized(t *testing.T) {
	stream := "\x02" + strings.Repeat("x", MaxPayload+10) + "\x03\x02ok\x03"
	dec := NewDecoder(strings.NewReader(stream))

	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrFrameTooLong)
	p, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(p))
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, errors.New("link down") }
func (failWriter) Close() error              { return nil }

func TestChannelWriteError(t *testing.T) {
	ch := NewStreamChannel(failWriter{})
	err := ch.SendFrame([]byte("x"))
	assert.ErrorContains(t, err, "link down")
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	w := &bufCloser{}
	ch := NewStreamChannel(w)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = ch.SendFrame([]byte(strings.Repeat("ab", 20)))
			}
		}()
	}
	wg.Wait()

	dec := NewDecoder(bytes.NewReader(w.Bytes()))
	n := 0
	for {
		p, err := dec.Next()
		if err != nil {
			break
		}
		assert.Len(t, p, 40)
		n++
	}
	assert.Equal(t, 400, n)
}
