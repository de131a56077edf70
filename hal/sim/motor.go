// Package sim is a first-order brushed DC motor with a quadrature encoder,
// exposed through the hal interfaces.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"dcmotor-core/hal"
)

type Params struct {
	// MaxSpeed is the output shaft speed at full duty, rad/s.
	MaxSpeed float64
	// Stiction is the duty below which the rotor does not turn.
	Stiction float64
	// TimeConstant of the speed response.
	TimeConstant time.Duration
	// CountsPerRad is encoder edges per output shaft radian.
	CountsPerRad float64
}

// DefaultParams models a 200:1 gearmotor with an 11 PPR encoder.
func DefaultParams() Params {
	return Params{
		MaxSpeed:     1.2,
		Stiction:     0.5,
		TimeConstant: 50 * time.Millisecond,
		CountsPerRad: 200 * 11 * 4 / (2 * math.Pi),
	}
}

// Motor owns the simulated peripherals and advances the plant on Step.
type Motor struct {
	p     Params
	clock *ManualClock
	pwm   *PWM
	in1   *Pin
	in2   *Pin
	unit  *hal.Unit

	mu       sync.Mutex
	omega    float64
	angle    float64
	frac     float64
	bothHigh int
}

func NewMotor(p Params) *Motor {
	m := &Motor{
		p:     p,
		clock: &ManualClock{},
		pwm:   &PWM{},
		in1:   &Pin{name: "in1"},
		in2:   &Pin{name: "in2"},
		unit:  hal.NewUnit(),
	}
	m.in1.onSet = m.checkPins
	m.in2.onSet = m.checkPins
	return m
}

func (m *Motor) Clock() *ManualClock { return m.clock }
func (m *Motor) PWM() *PWM           { return m.pwm }
func (m *Motor) In1() *Pin           { return m.in1 }
func (m *Motor) In2() *Pin           { return m.in2 }
func (m *Motor) Counter() *hal.Unit  { return m.unit }
func (m *Motor) Params() Params      { return m.p }

// ShootThroughs counts pin writes that left both bridge inputs high.
func (m *Motor) ShootThroughs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bothHigh
}

// Speed is the signed shaft speed, rad/s (positive is clockwise).
func (m *Motor) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.omega
}

// Angle is the signed shaft angle since start, rad.
func (m *Motor) Angle() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.angle
}

func (m *Motor) checkPins() {
	if m.in1.High() && m.in2.High() {
		m.mu.Lock()
		m.bothHigh++
		m.mu.Unlock()
	}
}

// drive is the commanded signed target speed from the bridge inputs.
func (m *Motor) drive() float64 {
	sign := 0.0
	switch a, b := m.in1.High(), m.in2.High(); {
	case a && !b:
		sign = 1
	case b && !a:
		sign = -1
	default:
		return 0
	}
	d := m.pwm.Duty()
	if d <= m.p.Stiction {
		return 0
	}
	return sign * m.p.MaxSpeed * (d - m.p.Stiction) / (1 - m.p.Stiction)
}

// Step integrates the plant over dt, feeds the resulting encoder edges to
// the counter and advances the clock.
func (m *Motor) Step(dt time.Duration) {
	if dt <= 0 {
		return
	}
	target := m.drive()
	t0 := m.clock.Now()

	m.mu.Lock()
	alpha := 1.0
	if m.p.TimeConstant > 0 {
		alpha = 1 - math.Exp(-dt.Seconds()/m.p.TimeConstant.Seconds())
	}
	m.omega += (target - m.omega) * alpha
	dAngle := m.omega * dt.Seconds()
	m.angle += dAngle
	m.frac += dAngle * m.p.CountsPerRad
	edges := int(m.frac)
	m.frac -= float64(edges)
	m.mu.Unlock()

	step := 1
	if edges < 0 {
		step, edges = -1, -edges
	}
	if edges > 0 {
		spacing := dt / time.Duration(edges)
		for i := 0; i < edges; i++ {
			m.unit.Edge(step, t0+time.Duration(i)*spacing)
		}
	}
	m.clock.Advance(dt)
}

// Run steps the plant in real time until ctx is done.
func (m *Motor) Run(ctx context.Context, step time.Duration) error {
	ticker := time.NewTicker(step)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Step(step)
		}
	}
}
