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
	"os"
	"time"

	"golang.org/x/sys/unix"

	"dcmotor-core/hal"
)

const (
	gpioDir          = "/sys/class/gpio/"
	gpioExportFile   = gpioDir + "export"
	gpioUnexportFile = gpioDir + "unexport"
)

type Edge string

const (
	EdgeNone    Edge = "none"
	EdgeRising  Edge = "rising"
	EdgeFalling Edge = "falling"
	EdgeBoth    Edge = "both"
)

// Gpio is one exported GPIO line.
type Gpio struct {
	number int
	output bool
	edge   Edge
	value  *os.File
	buf    []byte
	pollfd []unix.PollFd
}

func openGpio(number int) (*Gpio, error) {
	g := &Gpio{number: number, buf: make([]byte, 1), edge: EdgeNone}
	val := g.path("value")
	if err := export(val, gpioExportFile, number); err != nil {
		return nil, fmt.Errorf("gpio%d export: %w", number, err)
	}
	f, err := os.OpenFile(val, os.O_RDWR, 0600)
	if err != nil {
		unexport(gpioUnexportFile, number)
		return nil, err
	}
	g.value = f
	g.pollfd = []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
	return g, nil
}

func (g *Gpio) path(leaf string) string {
	return fmt.Sprintf("%sgpio%d/%s", gpioDir, g.number, leaf)
}

// Output is a hal.DigitalOutput on a GPIO line.
type Output struct {
	number int
	g      *Gpio
}

var _ hal.DigitalOutput = (*Output)(nil)

func NewOutput(number int) *Output {
	return &Output{number: number}
}

func (o *Output) Configure() error {
	if o.g != nil {
		return o.Set(false)
	}
	g, err := openGpio(o.number)
	if err != nil {
		return err
	}
	// "low" sets the direction and drives 0 in one write.
	if err := writeFile(g.path("direction"), "low"); err != nil {
		g.Close()
		return fmt.Errorf("gpio%d direction: %w", o.number, err)
	}
	g.output = true
	o.g = g
	return nil
}

func (o *Output) Set(high bool) error {
	if o.g == nil {
		return fmt.Errorf("gpio%d: %w", o.number, hal.ErrNotConfigured)
	}
	o.g.buf[0] = '0'
	if high {
		o.g.buf[0] = '1'
	}
	_, err := o.g.value.WriteAt(o.g.buf, 0)
	return err
}

func (o *Output) Close() {
	if o.g != nil {
		o.g.Close()
		o.g = nil
	}
}

// InputPin opens a GPIO line as an input with the given edge detection.
func InputPin(number int, edge Edge) (*Gpio, error) {
	g, err := openGpio(number)
	if err != nil {
		return nil, err
	}
	if err := writeFile(g.path("direction"), "in"); err != nil {
		g.Close()
		return nil, fmt.Errorf("gpio%d direction: %w", number, err)
	}
	if err := writeFile(g.path("edge"), string(edge)); err != nil {
		g.Close()
		return nil, fmt.Errorf("gpio%d edge: %w", number, err)
	}
	g.edge = edge
	// Reading once clears any pending edge.
	if _, err := g.Value(); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// Value reads the line level without waiting.
func (g *Gpio) Value() (bool, error) {
	if _, err := g.value.ReadAt(g.buf, 0); err != nil {
		return false, err
	}
	switch g.buf[0] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	default:
		return false, fmt.Errorf("gpio%d: unknown value %q", g.number, g.buf)
	}
}

// Wait blocks until an edge or the timeout. ok is false on timeout.
func (g *Gpio) Wait(timeout time.Duration) (ok bool, err error) {
	if g.edge == EdgeNone {
		return false, fmt.Errorf("gpio%d: no edge configured", g.number)
	}
	g.pollfd[0].Revents = 0
	n, err := unix.Poll(g.pollfd, int(timeout.Milliseconds()))
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (g *Gpio) Close() {
	g.value.Close()
	unexport(gpioUnexportFile, g.number)
}
