package motor

import (
	"fmt"
	"math"

	"dcmotor-core/hal"
)

// DutyCycleActuator maps a control output in [0,1] onto the PWM above the
// motor's dead band: effective = v*(1-min)+min.
type DutyCycleActuator struct {
	pwm     hal.PWM
	state   *stateStore
	minDuty float64
	period  uint32
}

func newDutyCycleActuator(pwm hal.PWM, cfg Config, state *stateStore) *DutyCycleActuator {
	return &DutyCycleActuator{
		pwm:     pwm,
		state:   state,
		minDuty: cfg.MinDutyCycle,
		period:  cfg.TimerPeriod(),
	}
}

// Compare is the timer compare value for control output v.
func (a *DutyCycleActuator) Compare(v float64) uint32 {
	v = clampUnit(v)
	effective := v*(1-a.minDuty) + a.minDuty
	ticks := math.Round(effective * float64(a.period))
	return uint32(clampFloat(ticks, 0, float64(a.period)))
}

// SetDutyCycle records v (clamped) as the commanded duty and writes the PWM.
func (a *DutyCycleActuator) SetDutyCycle(v float64) error {
	v = clampUnit(v)
	a.state.setDutyCycle(v)
	if err := a.pwm.SetCompare(a.Compare(v)); err != nil {
		return fmt.Errorf("set compare: %w", err)
	}
	return nil
}

// clampUnit clamps v to [0,1]; NaN maps to 0.
func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clampFloat(v, 0, 1)
}
