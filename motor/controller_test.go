package motor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"dcmotor-core/comms"
	"dcmotor-core/hal/sim"
	"dcmotor-core/utils"
)

func newSimController(t *testing.T, cfg Config) (*Controller, *sim.Motor) {
	t.Helper()
	params := sim.DefaultParams()
	params.CountsPerRad = cfg.CountsPerRad()
	m := sim.NewMotor(params)
	c, err := New(cfg, Peripherals{
		PWM:     m.PWM(),
		In1:     m.In1(),
		In2:     m.In2(),
		Counter: m.Counter(),
		Clock:   m.Clock(),
	}, utils.Nop())
	require.NoError(t, err)
	return c, m
}

// simulate steps the plant in 1ms increments and runs the estimator and,
// in auto mode, the PID every 10ms, as the tasks would.
func simulate(c *Controller, m *sim.Motor, d time.Duration) {
	for i := 1; i <= int(d/time.Millisecond); i++ {
		m.Step(time.Millisecond)
		if i%10 != 0 {
			continue
		}
		c.EstimatorStep()
		if c.GetMode() == ModeAuto {
			c.PIDStep()
		}
	}
}

func TestControllerInit(t *testing.T) {
	c, m := newSimController(t, DefaultConfig())

	require.ErrorIs(t, c.Run(context.Background()), ErrInit)
	require.NoError(t, c.Init())

	assert.Equal(t, uint32(2000), m.PWM().Compare(), "timer starts at half period")
	assert.False(t, m.In1().High())
	assert.False(t, m.In2().High())
	assert.Equal(t, ModeAuto, c.GetMode())
	assert.False(t, c.DisplayEnabled())
	assert.Equal(t, 0.0, c.GetDutyCycle())
}

func TestControllerRejectsBadInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilterSize = 0
	_, err := New(cfg, Peripherals{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(DefaultConfig(), Peripherals{}, nil)
	assert.ErrorIs(t, err, ErrInit)

	c, _ := newSimController(t, DefaultConfig())
	require.NoError(t, c.Init())
	assert.ErrorIs(t, c.SetDirection(Stopped), ErrInvalidDirection)
	assert.Error(t, c.SetMode(Mode(4)))
}

func TestControllerInitTwiceFails(t *testing.T) {
	c, _ := newSimController(t, DefaultConfig())
	// a second bring-up of an enabled unit is refused
	require.NoError(t, c.Init())
	assert.ErrorIs(t, c.Init(), ErrInit)
}

func TestControllerTracksSetpoint(t *testing.T) {
	c, m := newSimController(t, DefaultConfig())
	require.NoError(t, c.Init())
	require.NoError(t, c.SetDirection(Clockwise))
	c.SetVelocity(0.5)

	simulate(c, m, 4*time.Second)

	s := c.GetState()
	assert.InDelta(t, 0.5, s.VelocitySmoothed, 0.2)
	assert.InDelta(t, 0.5, m.Speed(), 0.2)
	assert.Equal(t, Clockwise, s.Direction)
	assert.Greater(t, s.Position, 0.0)
	assert.GreaterOrEqual(t, s.DutyCycle, 0.0)
	assert.LessOrEqual(t, s.DutyCycle, 1.0)
	assert.InDelta(t, 4000.0, s.Timestamp, 1e-9)
	assert.Equal(t, 0, m.ShootThroughs())

	d := c.PIDDiagnostics()
	assert.Equal(t, 0.5, d.Setpoint)
	assert.Equal(t, s.DutyCycle, d.Output)
}

func TestControllerReversal(t *testing.T) {
	c, m := newSimController(t, DefaultConfig())
	require.NoError(t, c.Init())
	require.NoError(t, c.SetMode(ModeManual))
	require.NoError(t, c.SetDirection(Clockwise))
	require.NoError(t, c.SetDutyCycle(0.5))
	simulate(c, m, time.Second)
	require.Equal(t, Clockwise, c.GetDirection())

	require.NoError(t, c.SetDirection(CounterClockwise))
	simulate(c, m, time.Second)
	assert.Equal(t, CounterClockwise, c.GetDirection())
	assert.Less(t, m.Speed(), 0.0)
	assert.Equal(t, 0, m.ShootThroughs())
}

func TestControllerModes(t *testing.T) {
	c, m := newSimController(t, DefaultConfig())
	require.NoError(t, c.Init())
	require.NoError(t, c.SetDirection(Clockwise))

	require.NoError(t, c.SetMode(ModeManual))
	assert.True(t, c.pidTask.Suspended())
	require.NoError(t, c.SetDutyCycle(0.3))
	assert.Equal(t, uint32(2600), m.PWM().Compare())
	assert.Equal(t, 0.3, c.GetDutyCycle())

	require.NoError(t, c.SetMode(ModeStop))
	assert.Equal(t, 0.0, c.GetDutyCycle())
	assert.False(t, m.In1().High())
	assert.False(t, m.In2().High())
	assert.Equal(t, Stopped, c.CommandedDirection())

	require.NoError(t, c.SetMode(ModeAuto))
	assert.False(t, c.pidTask.Suspended())
	assert.Equal(t, ModeAuto, c.GetMode())
}

func TestControllerSetpointsStored(t *testing.T) {
	c, _ := newSimController(t, DefaultConfig())
	c.SetVelocity(0.8)
	c.SetPosition(12.5)
	assert.Equal(t, 0.8, c.GetSetpoint())
	assert.Equal(t, 12.5, c.GetPositionSetpoint())
}

func TestControllerRunWithDisplay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TelemetryPeriod = 20 * time.Millisecond
	c, m := newSimController(t, cfg)
	require.NoError(t, c.Init())

	buf := &nopCloser{}
	ch := comms.NewStreamChannel(buf)
	c.AddTelemetrySink(ChannelSink{Channel: ch})

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.Run(ctx, time.Millisecond) })
	g.Go(func() error { return c.Run(ctx) })

	require.NoError(t, c.SetDirection(Clockwise))
	c.SetVelocity(0.5)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), ch.Sent(), "display starts suspended")

	c.EnableDisplay()
	require.Eventually(t, func() bool { return ch.Sent() >= 3 }, 2*time.Second, 5*time.Millisecond)
	c.DisableDisplay()
	sent := ch.Sent()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, sent, ch.Sent())

	require.Eventually(t, func() bool { return c.GetTimestamp() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
	require.NoError(t, c.StopMotor())

	dec := comms.NewDecoder(bytes.NewReader(buf.Bytes()))
	p, err := dec.Next()
	require.NoError(t, err)
	assert.Regexp(t, `^\d+\.\d{3},-?[01],`, string(p))
}
