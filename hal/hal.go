// Package hal describes the peripherals the motor controller drives.
//
// Backends: hal/sim (plant simulator, host default) and hal/sysfs (Linux
// GPIO/PWM class devices). Both share the software pulse Unit below.
package hal

import (
	"errors"
	"time"
)

var (
	ErrNotConfigured = errors.New("peripheral not configured")
	ErrNotRunning    = errors.New("peripheral not running")
	ErrInvalidConfig = errors.New("invalid peripheral config")
)

// PWMConfig mirrors an up-counting timer: ResolutionHz ticks per second,
// PeriodTicks ticks per PWM period. Compare values are in ticks.
type PWMConfig struct {
	ResolutionHz uint32
	PeriodTicks  uint32
}

func (c PWMConfig) Frequency() float64 {
	if c.PeriodTicks == 0 {
		return 0
	}
	return float64(c.ResolutionHz) / float64(c.PeriodTicks)
}

type PWM interface {
	Configure(cfg PWMConfig) error
	// SetCompare sets the high time of the next period, 0..PeriodTicks.
	SetCompare(ticks uint32) error
}

type DigitalOutput interface {
	Configure() error
	Set(high bool) error
}

type PulseCounterConfig struct {
	LowLimit  int
	HighLimit int
	// Edges closer than this to the previous accepted edge are dropped.
	GlitchFilter time.Duration
	// Accumulate folds the raw count into an unbounded total whenever a
	// watch point at a limit is reached.
	Accumulate bool
}

// PulseCounter is a quadrature counting unit.
type PulseCounter interface {
	Configure(cfg PulseCounterConfig) error
	AddWatchPoint(value int) error
	Enable() error
	Clear() error
	Start() error
	Count() (int, error)
}

// Clock is monotonic time since an arbitrary origin.
type Clock interface {
	Now() time.Duration
}

type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Now() time.Duration {
	return time.Since(c.start)
}
