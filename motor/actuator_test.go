package motor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcmotor-core/hal"
	"dcmotor-core/hal/sim"
)

func TestActuatorCompareMapping(t *testing.T) {
	a := newDutyCycleActuator(&sim.PWM{}, DefaultConfig(), &stateStore{})

	tests := []struct {
		in   float64
		want uint32
	}{
		{0, 2000},
		{0.25, 2500},
		{0.5, 3000},
		{1, 4000},
		{1.5, 4000},
		{-0.3, 2000},
		{math.NaN(), 2000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Compare(tt.in), "v=%v", tt.in)
	}
}

func TestActuatorRecordsClampedDuty(t *testing.T) {
	pwm := &sim.PWM{}
	require.NoError(t, pwm.Configure(hal.PWMConfig{ResolutionHz: 80_000_000, PeriodTicks: 4000}))
	state := &stateStore{}
	a := newDutyCycleActuator(pwm, DefaultConfig(), state)

	require.NoError(t, a.SetDutyCycle(0.3))
	assert.Equal(t, 0.3, state.Snapshot().DutyCycle)
	assert.Equal(t, uint32(2600), pwm.Compare())

	require.NoError(t, a.SetDutyCycle(7))
	assert.Equal(t, 1.0, state.Snapshot().DutyCycle)
	assert.Equal(t, uint32(4000), pwm.Compare())

	require.NoError(t, a.SetDutyCycle(-1))
	assert.Equal(t, 0.0, state.Snapshot().DutyCycle)
	assert.Equal(t, uint32(2000), pwm.Compare())
}

func TestActuatorReturnsPWMError(t *testing.T) {
	a := newDutyCycleActuator(&sim.PWM{}, DefaultConfig(), &stateStore{})
	assert.ErrorIs(t, a.SetDutyCycle(0.5), hal.ErrNotConfigured)
}
