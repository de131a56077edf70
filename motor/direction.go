package motor

import (
	"errors"
	"fmt"
	"sync"

	"dcmotor-core/hal"
)

var ErrInvalidDirection = errors.New("invalid direction")

type Direction int

const (
	CounterClockwise Direction = -1
	Stopped          Direction = 0
	Clockwise        Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Clockwise:
		return "CW"
	case CounterClockwise:
		return "CCW"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

func directionOf(delta int) Direction {
	switch {
	case delta > 0:
		return Clockwise
	case delta < 0:
		return CounterClockwise
	default:
		return Stopped
	}
}

// DirectionDriver owns the two H-bridge inputs. in1 high drives clockwise,
// in2 high drives counter-clockwise; both are never high together.
type DirectionDriver struct {
	mu       sync.Mutex
	in1, in2 hal.DigitalOutput
	current  Direction
}

func NewDirectionDriver(in1, in2 hal.DigitalOutput) *DirectionDriver {
	return &DirectionDriver{in1: in1, in2: in2}
}

func (d *DirectionDriver) Configure() error {
	if err := d.in1.Configure(); err != nil {
		return fmt.Errorf("in1: %w", err)
	}
	if err := d.in2.Configure(); err != nil {
		return fmt.Errorf("in2: %w", err)
	}
	return d.Stop()
}

// Set releases the opposite input before asserting the requested one.
func (d *DirectionDriver) Set(dir Direction) error {
	var on, off hal.DigitalOutput
	switch dir {
	case Clockwise:
		on, off = d.in1, d.in2
	case CounterClockwise:
		on, off = d.in2, d.in1
	default:
		return fmt.Errorf("%w: %v", ErrInvalidDirection, dir)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := off.Set(false); err != nil {
		return err
	}
	if err := on.Set(true); err != nil {
		return err
	}
	d.current = dir
	return nil
}

// Stop releases both inputs so the bridge coasts.
func (d *DirectionDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err1 := d.in1.Set(false)
	err2 := d.in2.Set(false)
	if err := errors.Join(err1, err2); err != nil {
		return err
	}
	d.current = Stopped
	return nil
}

// Commanded is the last successfully applied drive direction.
func (d *DirectionDriver) Commanded() Direction {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
