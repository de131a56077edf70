// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package sysfs

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"dcmotor-core/hal"
)

// quadStep maps (previous AB << 2 | current AB) to a count step.
// The sequence 00, 01, 11, 10 (AB) counts up.
var quadStep = [16]int8{
	0, +1, -1, 0,
	-1, 0, 0, +1,
	+1, 0, 0, -1,
	0, -1, +1, 0,
}

const pollInterval = 50 * time.Millisecond

// QuadratureCounter decodes an A/B encoder on two GPIO inputs into a
// software pulse unit. Both lines are polled from one goroutine.
type QuadratureCounter struct {
	*hal.Unit

	pinA, pinB int
	invert     bool
	clock      hal.Clock

	a, b  *Gpio
	state uint8

	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

var _ hal.PulseCounter = (*QuadratureCounter)(nil)

func NewQuadratureCounter(pinA, pinB int, invert bool, clock hal.Clock) *QuadratureCounter {
	return &QuadratureCounter{
		Unit:   hal.NewUnit(),
		pinA:   pinA,
		pinB:   pinB,
		invert: invert,
		clock:  clock,
	}
}

// Start opens the encoder lines and begins decoding.
func (q *QuadratureCounter) Start() error {
	if q.stop != nil {
		return q.Unit.Start()
	}
	a, err := InputPin(q.pinA, EdgeBoth)
	if err != nil {
		return fmt.Errorf("encoder A: %w", err)
	}
	b, err := InputPin(q.pinB, EdgeBoth)
	if err != nil {
		a.Close()
		return fmt.Errorf("encoder B: %w", err)
	}
	q.a, q.b = a, b

	st, err := q.read()
	if err != nil {
		q.closePins()
		return err
	}
	q.state = st

	if err := q.Unit.Start(); err != nil {
		q.closePins()
		return err
	}

	q.stop = make(chan struct{})
	q.wg.Add(1)
	go q.decode()
	return nil
}

func (q *QuadratureCounter) read() (uint8, error) {
	va, err := q.a.Value()
	if err != nil {
		return 0, err
	}
	vb, err := q.b.Value()
	if err != nil {
		return 0, err
	}
	var st uint8
	if va {
		st |= 2
	}
	if vb {
		st |= 1
	}
	return st, nil
}

func (q *QuadratureCounter) decode() {
	defer q.wg.Done()
	fds := []unix.PollFd{q.a.pollfd[0], q.b.pollfd[0]}
	for {
		select {
		case <-q.stop:
			return
		default:
		}
		fds[0].Revents, fds[1].Revents = 0, 0
		n, err := unix.Poll(fds, int(pollInterval.Milliseconds()))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			q.setErr(err)
			return
		}
		if n == 0 {
			continue
		}
		// Reading both values re-arms both lines.
		st, err := q.read()
		if err != nil {
			q.setErr(err)
			return
		}
		step := quadStep[q.state<<2|st]
		q.state = st
		if step == 0 {
			continue
		}
		if q.invert {
			step = -step
		}
		q.Unit.Edge(int(step), q.clock.Now())
	}
}

func (q *QuadratureCounter) setErr(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastErr = err
}

// Count fails once the decoder has stopped on a read error.
func (q *QuadratureCounter) Count() (int, error) {
	q.mu.Lock()
	err := q.lastErr
	q.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("encoder decode: %w", err)
	}
	return q.Unit.Count()
}

func (q *QuadratureCounter) closePins() {
	if q.a != nil {
		q.a.Close()
		q.a = nil
	}
	if q.b != nil {
		q.b.Close()
		q.b = nil
	}
}

func (q *QuadratureCounter) Close() {
	if q.stop != nil {
		close(q.stop)
		q.wg.Wait()
		q.stop = nil
	}
	q.Unit.Stop()
	q.closePins()
}
