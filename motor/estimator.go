package motor

import (
	"math"
	"time"

	"dcmotor-core/hal"
	"dcmotor-core/utils"
)

// CountReader is the estimator's view of the encoder.
type CountReader interface {
	ReadCount() (int, error)
}

// Estimator turns successive encoder counts into direction, speed and
// angle, and EMA-smooths the speed.
type Estimator struct {
	clock   hal.Clock
	counter CountReader
	state   *stateStore
	log     *utils.Logger

	alpha       float64
	radPerCount float64
	timeout     time.Duration

	prevCount  int
	prevTime   time.Duration
	lastChange time.Duration
	smoothed   float64
}

func newEstimator(cfg Config, clock hal.Clock, counter CountReader, state *stateStore, log *utils.Logger) *Estimator {
	now := clock.Now()
	return &Estimator{
		clock:       clock,
		counter:     counter,
		state:       state,
		log:         log,
		alpha:       cfg.Alpha(),
		radPerCount: cfg.RadPerCount(),
		timeout:     cfg.EncoderTimeout,
		prevTime:    now,
		lastChange:  now,
	}
}

// Reset takes the current count and time as the reference sample.
func (e *Estimator) Reset() error {
	c, err := e.counter.ReadCount()
	if err != nil {
		return err
	}
	now := e.clock.Now()
	e.prevCount = c
	e.prevTime = now
	e.lastChange = now
	e.smoothed = 0
	return nil
}

// Tick takes one sample. It reports false when nothing was published:
// no time has passed, or the counter could not be read.
func (e *Estimator) Tick() bool {
	now := e.clock.Now()
	dt := now - e.prevTime
	if dt <= 0 {
		return false
	}
	c, err := e.counter.ReadCount()
	if err != nil {
		e.log.Error("read count: %v", err)
		return false
	}

	dc := c - e.prevCount
	velocity := math.Abs(float64(dc)) / dt.Seconds() * e.radPerCount
	e.smoothed = e.alpha*velocity + (1-e.alpha)*e.smoothed
	dir := directionOf(dc)

	if dc != 0 {
		e.lastChange = now
	} else if e.timeout > 0 && now-e.lastChange >= e.timeout {
		velocity, e.smoothed, dir = 0, 0, Stopped
	}

	e.state.publish(estimate{
		at:               now,
		direction:        dir,
		velocity:         velocity,
		velocitySmoothed: e.smoothed,
		position:         float64(c) * e.radPerCount,
	})
	e.prevCount = c
	e.prevTime = now

	e.log.Trace("dt=%v dc=%d v=%.4f vs=%.4f dir=%v", dt, dc, velocity, e.smoothed, dir)
	return true
}
