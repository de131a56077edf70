package motor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dcmotor-core/comms"
	"dcmotor-core/utils"
)

// Record is one telemetry sample.
type Record struct {
	MotorState
	Mode     Mode
	Setpoint float64
}

type Sink interface {
	Emit(ctx context.Context, r Record) error
}

// Reporter periodically hands a state snapshot to its sinks. It starts
// suspended. Sink failures are logged and never stop the reporter.
type Reporter struct {
	task   *Task
	source func() Record
	log    *utils.Logger

	mu     sync.Mutex
	sinks  []Sink
	failed uint64
}

func NewReporter(period time.Duration, source func() Record, log *utils.Logger, sinks ...Sink) *Reporter {
	r := &Reporter{source: source, log: log, sinks: sinks}
	r.task = NewTask("telemetry", period, false, r.Emit)
	return r
}

func (r *Reporter) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

func (r *Reporter) Enable()       { r.task.Resume() }
func (r *Reporter) Disable()      { r.task.Suspend() }
func (r *Reporter) Enabled() bool { return !r.task.Suspended() }

// Failed counts sink errors since start.
func (r *Reporter) Failed() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failed
}

// Emit sends one record to every sink.
func (r *Reporter) Emit(ctx context.Context) {
	rec := r.source()
	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()

	for _, s := range sinks {
		if err := s.Emit(ctx, rec); err != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			r.log.Error("telemetry sink %T: %v", s, err)
		}
	}
}

func (r *Reporter) Run(ctx context.Context) error {
	return r.task.Run(ctx)
}

// LogSink writes a human-readable line per record.
type LogSink struct {
	Log   *utils.Logger
	Level utils.LogLevel
}

func (s LogSink) Emit(_ context.Context, r Record) error {
	msg := "Timestamp (ms): %.3f, Direction: %d, Duty cycle: %.4f, Velocity (rad/s): %.4f, Velocity smoothed (rad/s): %.4f, Position (rad): %.4f"
	args := []any{r.Timestamp, int(r.Direction), r.DutyCycle, r.Velocity, r.VelocitySmoothed, r.Position}
	switch s.Level {
	case utils.DEBUG:
		s.Log.Debug(msg, args...)
	default:
		s.Log.Info(msg, args...)
	}
	return nil
}

// ChannelSink sends CSV records:
// timestamp,direction,duty,velocity,velocity_smoothed,position
type ChannelSink struct {
	Channel comms.Channel
}

func FormatCSV(r Record) string {
	return fmt.Sprintf("%.3f,%d,%.4f,%.4f,%.4f,%.4f",
		r.Timestamp, int(r.Direction), r.DutyCycle, r.Velocity, r.VelocitySmoothed, r.Position)
}

func (s ChannelSink) Emit(_ context.Context, r Record) error {
	return s.Channel.SendFrame([]byte(FormatCSV(r)))
}

const (
	FrameTelemetry1 = "MOTOR_TELEMETRY_1"
	FrameTelemetry2 = "MOTOR_TELEMETRY_2"
)

// CANSink encodes each record into the two telemetry frames.
type CANSink struct {
	Map    *utils.CANMap
	Writer utils.CANWriter
}

func (s CANSink) Emit(ctx context.Context, r Record) error {
	frames := []struct {
		name   string
		values map[string]float64
	}{
		{FrameTelemetry1, map[string]float64{
			"velocity":          r.Velocity,
			"velocity_smoothed": r.VelocitySmoothed,
			"position":          r.Position,
		}},
		{FrameTelemetry2, map[string]float64{
			"timestamp":  r.Timestamp,
			"direction":  float64(r.Direction),
			"duty_cycle": r.DutyCycle,
			"mode":       float64(r.Mode),
		}},
	}
	for _, f := range frames {
		frame, err := s.Map.EncodeFrame(f.name, f.values)
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.name, err)
		}
		if err := s.Writer.WriteFrame(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}
