package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	"dcmotor-core/motor"
	"dcmotor-core/utils"
)

func newSimRunner(t *testing.T, cfg RunnerConfig) *Runner {
	t.Helper()
	cfg.Backend = "sim"
	r, err := NewRunner(context.Background(), cfg, utils.Nop())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r
}

func TestNewRunnerRejects(t *testing.T) {
	_, err := NewRunner(context.Background(), RunnerConfig{Backend: "fpga"}, utils.Nop())
	assert.Error(t, err)

	_, err = NewRunner(context.Background(), RunnerConfig{ScenarioPath: "does/not/exist.json"}, utils.Nop())
	assert.Error(t, err)

	_, err = NewRunner(context.Background(), RunnerConfig{ConfigPath: "does/not/exist.yaml"}, utils.Nop())
	assert.Error(t, err)
}

func TestRunnerAppliesCANCommands(t *testing.T) {
	r := newSimRunner(t, RunnerConfig{})
	require.NoError(t, r.ctrl.Init())

	cmap, err := utils.DefaultCANMap()
	require.NoError(t, err)
	send := func(values map[string]float64) error {
		frame, err := cmap.EncodeFrame(FrameCommand, values)
		require.NoError(t, err)
		decoded, err := cmap.DecodeFrame(frame)
		require.NoError(t, err)
		return r.applyCANCommand(decoded)
	}

	require.NoError(t, send(map[string]float64{"mode": -1, "direction": 1, "duty_cycle": 0.3, "display": 1}))
	assert.Equal(t, motor.ModeManual, r.ctrl.GetMode())
	assert.Equal(t, motor.Clockwise, r.ctrl.CommandedDirection())
	assert.InDelta(t, 0.3, r.ctrl.GetDutyCycle(), 1e-4)
	assert.True(t, r.ctrl.DisplayEnabled())

	require.NoError(t, send(map[string]float64{"mode": 1, "velocity_sp": 0.4}))
	assert.Equal(t, motor.ModeAuto, r.ctrl.GetMode())
	assert.Equal(t, motor.Clockwise, r.ctrl.CommandedDirection(), "zero direction keeps the current one")
	assert.InDelta(t, 0.4, r.ctrl.GetSetpoint(), 1e-3)
	assert.True(t, r.ctrl.DisplayEnabled(), "display 0 keeps the current state")

	require.NoError(t, send(map[string]float64{"mode": 0, "display": 2}))
	assert.Equal(t, motor.ModeStop, r.ctrl.GetMode())
	assert.Equal(t, motor.Stopped, r.ctrl.CommandedDirection())
	assert.False(t, r.ctrl.DisplayEnabled())

	assert.Error(t, r.applyCANCommand(map[string]float64{"mode": 4}))
	assert.Error(t, r.applyCANCommand(map[string]float64{"mode": 1, "display": 3}))
}

func TestRunnerAppliesScenarioCommand(t *testing.T) {
	r := newSimRunner(t, RunnerConfig{})
	require.NoError(t, r.ctrl.Init())

	require.NoError(t, r.applyCommand(Command{Mode: "auto", Direction: "ccw", VelocitySP: 0.6, Display: true}))
	assert.Equal(t, motor.CounterClockwise, r.ctrl.CommandedDirection())
	assert.Equal(t, 0.6, r.ctrl.GetSetpoint())
	assert.True(t, r.ctrl.DisplayEnabled())

	require.NoError(t, r.applyCommand(Command{Mode: "manual", DutyCycle: 0.2}))
	assert.Equal(t, motor.CounterClockwise, r.ctrl.CommandedDirection())
	assert.Equal(t, 0.2, r.ctrl.GetDutyCycle())
	assert.False(t, r.ctrl.DisplayEnabled())

	assert.Error(t, r.applyCommand(Command{Mode: "warp"}))
}

func TestSegmentKeyChangesEachLoop(t *testing.T) {
	r := &Runner{scen: DefaultScenario()}
	assert.Equal(t, r.segmentKey(0.5, 0), r.segmentKey(0.9, 0))
	assert.NotEqual(t, r.segmentKey(0.5, 0), r.segmentKey(17.5, 0))
	assert.NotEqual(t, r.segmentKey(0.5, 0), r.segmentKey(1.5, 1))

	r.scen.Timing.Loop = false
	assert.Equal(t, 2, r.segmentKey(6.5, 2))
}

func TestRunnerCompletesScenario(t *testing.T) {
	path := writeScenario(t, `{
		"meta": {"name": "short"},
		"timing": {"duration_s": 0.3},
		"defaults": {"mode": "auto", "direction": "cw"},
		"segments": [
			{"t0": 0, "t1": 0.15, "velocity_sp": 0.5},
			{"t0": 0.15, "t1": -1, "velocity_sp": 0.2}
		]
	}`)
	r := newSimRunner(t, RunnerConfig{ScenarioPath: path})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx))
	require.NoError(t, ctx.Err(), "finished before the deadline")

	assert.Equal(t, 0.2, r.ctrl.GetSetpoint())
	assert.Equal(t, motor.Stopped, r.ctrl.CommandedDirection(), "bridge released on exit")
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r := newSimRunner(t, RunnerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.ctrl.GetSetpoint() == 0.25 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, motor.Stopped, r.ctrl.CommandedDirection())
}

// scriptedReader plays back frames, then fails every call with err.
type scriptedReader struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
	calls  int
}

func (s *scriptedReader) ReadFrame(context.Context) (can.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		return f, nil
	}
	return can.Frame{}, s.err
}

func (s *scriptedReader) Close() error { return nil }

func (s *scriptedReader) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func runReceiveLoop(t *testing.T, r *Runner) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		r.receiveLoop(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("receive loop did not return")
	}
}

func TestReceiveLoopGivesUpOnPersistentErrors(t *testing.T) {
	cmap, err := utils.DefaultCANMap()
	require.NoError(t, err)
	rd := &scriptedReader{err: errors.New("receive: network is down")}
	r := &Runner{log: utils.Nop(), cmap: cmap, reader: rd}

	start := time.Now()
	runReceiveLoop(t, r)
	assert.Equal(t, rxMaxErrors, rd.Calls())
	assert.GreaterOrEqual(t, time.Since(start), (rxMaxErrors-1)*rxRetryDelay, "errors are retried with a delay")
}

func TestReceiveLoopStopsWhenReaderCloses(t *testing.T) {
	cmap, err := utils.DefaultCANMap()
	require.NoError(t, err)
	rd := &scriptedReader{err: fmt.Errorf("%w: receive: bus off", utils.ErrReaderClosed)}
	r := &Runner{log: utils.Nop(), cmap: cmap, reader: rd}

	runReceiveLoop(t, r)
	assert.Equal(t, 1, rd.Calls())
}

func TestReceiveLoopAppliesCommandFrames(t *testing.T) {
	r := newSimRunner(t, RunnerConfig{})
	require.NoError(t, r.ctrl.Init())
	cmap, err := utils.DefaultCANMap()
	require.NoError(t, err)

	other, err := cmap.EncodeFrame(motor.FrameTelemetry1, map[string]float64{"velocity": 3})
	require.NoError(t, err)
	cmd, err := cmap.EncodeFrame(FrameCommand, map[string]float64{"mode": 1, "direction": -1, "velocity_sp": 0.7})
	require.NoError(t, err)

	rd := &scriptedReader{frames: []can.Frame{other, cmd}, err: utils.ErrReaderClosed}
	r.cmap, r.reader = cmap, rd

	runReceiveLoop(t, r)
	assert.Equal(t, 3, rd.Calls())
	assert.InDelta(t, 0.7, r.ctrl.GetSetpoint(), 1e-3)
	assert.Equal(t, motor.CounterClockwise, r.ctrl.CommandedDirection())
}
