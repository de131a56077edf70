package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcmotor-core/hal"
)

func bringUp(t *testing.T, m *Motor) {
	t.Helper()
	require.NoError(t, m.PWM().Configure(hal.PWMConfig{ResolutionHz: 80_000_000, PeriodTicks: 4000}))
	require.NoError(t, m.In1().Configure())
	require.NoError(t, m.In2().Configure())

	u := m.Counter()
	require.NoError(t, u.Configure(hal.PulseCounterConfig{LowLimit: -12, HighLimit: 12, Accumulate: true}))
	require.NoError(t, u.AddWatchPoint(-12))
	require.NoError(t, u.AddWatchPoint(12))
	require.NoError(t, u.Enable())
	require.NoError(t, u.Clear())
	require.NoError(t, u.Start())
}

func stepFor(m *Motor, total, dt time.Duration) {
	for elapsed := time.Duration(0); elapsed < total; elapsed += dt {
		m.Step(dt)
	}
}

func TestMotorSpinsClockwise(t *testing.T) {
	m := NewMotor(DefaultParams())
	bringUp(t, m)

	require.NoError(t, m.In1().Set(true))
	require.NoError(t, m.PWM().SetCompare(3000))

	stepFor(m, time.Second, time.Millisecond)

	assert.InDelta(t, 0.6, m.Speed(), 0.01)
	assert.Equal(t, time.Second, m.Clock().Now())

	c, err := m.Counter().Count()
	require.NoError(t, err)
	assert.InDelta(t, m.Angle()*m.Params().CountsPerRad, float64(c), 1)
	assert.Greater(t, c, 12, "accumulates past the unit limit")
}

func TestMotorCounterClockwiseCountsDown(t *testing.T) {
	m := NewMotor(DefaultParams())
	bringUp(t, m)

	require.NoError(t, m.In2().Set(true))
	require.NoError(t, m.PWM().SetCompare(4000))
	stepFor(m, 500*time.Millisecond, time.Millisecond)

	assert.Less(t, m.Speed(), -1.0)
	c, err := m.Counter().Count()
	require.NoError(t, err)
	assert.Less(t, c, 0)
}

func TestMotorStictionAndCoast(t *testing.T) {
	m := NewMotor(DefaultParams())
	bringUp(t, m)

	require.NoError(t, m.In1().Set(true))
	require.NoError(t, m.PWM().SetCompare(2000))
	stepFor(m, 200*time.Millisecond, time.Millisecond)
	assert.Equal(t, 0.0, m.Speed(), "50% duty is at the stiction threshold")

	require.NoError(t, m.PWM().SetCompare(4000))
	stepFor(m, 200*time.Millisecond, time.Millisecond)
	require.Greater(t, m.Speed(), 1.0)

	require.NoError(t, m.In1().Set(false))
	stepFor(m, 500*time.Millisecond, time.Millisecond)
	assert.InDelta(t, 0.0, m.Speed(), 0.01)
}

func TestMotorCountsShootThrough(t *testing.T) {
	m := NewMotor(DefaultParams())
	bringUp(t, m)

	require.NoError(t, m.In1().Set(true))
	require.NoError(t, m.In2().Set(true))
	assert.Equal(t, 1, m.ShootThroughs())
	assert.Equal(t, 0.0, m.drive())
}

func TestPeripheralErrors(t *testing.T) {
	m := NewMotor(DefaultParams())
	assert.ErrorIs(t, m.PWM().SetCompare(1), hal.ErrNotConfigured)
	assert.ErrorIs(t, m.In1().Set(true), hal.ErrNotConfigured)
	assert.ErrorIs(t, m.PWM().Configure(hal.PWMConfig{}), hal.ErrInvalidConfig)

	bringUp(t, m)
	assert.ErrorIs(t, m.PWM().SetCompare(4001), hal.ErrInvalidConfig)
}

func TestMotorRunStopsOnCancel(t *testing.T) {
	m := NewMotor(DefaultParams())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Millisecond) }()

	assert.Eventually(t, func() bool { return m.Clock().Now() > 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
