// Package motor closes a velocity loop around a brushed DC motor: encoder
// counts are turned into speed estimates, a PID drives the PWM duty cycle
// and two bridge inputs select the direction.
package motor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"dcmotor-core/hal"
	"dcmotor-core/utils"
)

var ErrInit = errors.New("motor init failed")

type Mode int

const (
	ModeManual Mode = -1
	ModeStop   Mode = 0
	ModeAuto   Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "MANUAL"
	case ModeStop:
		return "STOP"
	case ModeAuto:
		return "AUTO"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Peripherals are the hardware the controller drives. Clock may be nil.
type Peripherals struct {
	PWM     hal.PWM
	In1     hal.DigitalOutput
	In2     hal.DigitalOutput
	Counter hal.PulseCounter
	Clock   hal.Clock
}

type Controller struct {
	cfg   Config
	log   *utils.Logger
	clock hal.Clock
	pwm   hal.PWM

	counter  *PulseCounter
	dir      *DirectionDriver
	act      *DutyCycleActuator
	est      *Estimator
	pid      *VelocityPID
	state    *stateStore
	estTask  *Task
	pidTask  *Task
	reporter *Reporter

	mu          sync.Mutex
	initialized bool
	setpoint    float64
	positionSP  float64
	mode        Mode
	resetPID    bool
	diag        PIDDiagnostics
}

func New(cfg Config, p Peripherals, log *utils.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p.PWM == nil || p.In1 == nil || p.In2 == nil || p.Counter == nil {
		return nil, fmt.Errorf("%w: missing peripheral", ErrInit)
	}
	if log == nil {
		log = utils.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = hal.NewSystemClock()
	}

	c := &Controller{
		cfg:   cfg,
		log:   log,
		clock: clock,
		pwm:   p.PWM,
		state: &stateStore{},
		mode:  ModeAuto,
	}
	c.counter = NewPulseCounter(p.Counter, cfg)
	c.dir = NewDirectionDriver(p.In1, p.In2)
	c.act = newDutyCycleActuator(p.PWM, cfg, c.state)
	c.est = newEstimator(cfg, clock, c.counter, c.state, log.Named("estimator"))
	c.pid = NewVelocityPID(cfg)
	c.estTask = NewTask("estimator", cfg.EstimatorPeriod, true, func(context.Context) { c.est.Tick() })
	c.pidTask = NewTask("pid", cfg.PIDPeriod, true, c.pidStep)
	c.reporter = NewReporter(cfg.TelemetryPeriod, c.record, log.Named("telemetry"),
		LogSink{Log: log.Named("display")})
	return c, nil
}

// Init brings up the PWM timer, bridge inputs and encoder unit. The
// PWM starts at half the period.
func (c *Controller) Init() error {
	period := c.cfg.TimerPeriod()
	if err := c.pwm.Configure(hal.PWMConfig{ResolutionHz: c.cfg.TimerResolutionHz, PeriodTicks: period}); err != nil {
		return fmt.Errorf("%w: pwm: %w", ErrInit, err)
	}
	if err := c.pwm.SetCompare(period / 2); err != nil {
		return fmt.Errorf("%w: pwm compare: %w", ErrInit, err)
	}
	if err := c.dir.Configure(); err != nil {
		return fmt.Errorf("%w: direction outputs: %w", ErrInit, err)
	}
	if err := c.counter.Configure(); err != nil {
		return fmt.Errorf("%w: pulse counter: %w", ErrInit, err)
	}
	if err := c.est.Reset(); err != nil {
		return fmt.Errorf("%w: first count: %w", ErrInit, err)
	}
	c.pid.Reset(c.clock.Now())

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.log.Info("Motor initialized: pwm %d Hz (%d ticks), limits +/-%d, alpha=%.4f kp=%.6f ki=%.6f kd=%.9f",
		c.cfg.TimerFrequencyHz, period, c.cfg.SampleSize, c.cfg.Alpha(), c.cfg.Kp, c.cfg.Ki(), c.cfg.Kd())
	return nil
}

// Run drives the estimator, PID and telemetry tasks until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	ok := c.initialized
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: Run before Init", ErrInit)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.estTask.Run(ctx) })
	g.Go(func() error { return c.pidTask.Run(ctx) })
	g.Go(func() error { return c.reporter.Run(ctx) })
	return g.Wait()
}

func (c *Controller) pidStep(context.Context) {
	c.mu.Lock()
	sp := c.setpoint
	reset := c.resetPID
	c.resetPID = false
	c.mu.Unlock()

	now := c.clock.Now()
	if reset {
		c.pid.Reset(now)
	}
	out, ok := c.pid.Update(sp, c.state.Snapshot().VelocitySmoothed, now)
	if !ok {
		return
	}
	if err := c.act.SetDutyCycle(out); err != nil {
		c.log.Error("pid: %v", err)
	}

	d := c.pid.Diagnostics()
	c.mu.Lock()
	c.diag = d
	c.mu.Unlock()
	c.log.Trace("pid: sp=%.3f err=%.4f int=%.5f out=%.4f", d.Setpoint, d.Error, d.Integral, d.Output)
}

func (c *Controller) record() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Record{MotorState: c.state.Snapshot(), Mode: c.mode, Setpoint: c.setpoint}
}

// PIDStep runs one regulation step outside the task schedule. Not for
// use while Run is active.
func (c *Controller) PIDStep() { c.pidStep(context.Background()) }

// EstimatorStep takes one estimator sample; same restriction as PIDStep.
func (c *Controller) EstimatorStep() bool { return c.est.Tick() }

// StopMotor releases both bridge inputs.
func (c *Controller) StopMotor() error {
	c.log.Info("Stopping motor.")
	return c.dir.Stop()
}

func (c *Controller) SetDirection(dir Direction) error {
	if err := c.dir.Set(dir); err != nil {
		return err
	}
	c.log.Info("Motor direction set to %v.", dir)
	return nil
}

// SetDutyCycle writes v directly. In auto mode the next PID step overrides it.
func (c *Controller) SetDutyCycle(v float64) error {
	return c.act.SetDutyCycle(v)
}

// SetVelocity sets the speed setpoint, rad/s.
func (c *Controller) SetVelocity(sp float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setpoint = sp
}

// SetPosition stores a position target. Position is not regulated.
func (c *Controller) SetPosition(p float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positionSP = p
}

// SetMode switches between PID regulation, direct duty control and stop.
func (c *Controller) SetMode(m Mode) error {
	switch m {
	case ModeAuto, ModeManual, ModeStop:
	default:
		return fmt.Errorf("unknown mode %d", int(m))
	}

	c.mu.Lock()
	prev := c.mode
	c.mode = m
	if m == ModeAuto && prev != ModeAuto {
		c.resetPID = true
	}
	c.mu.Unlock()

	switch m {
	case ModeAuto:
		c.pidTask.Resume()
	case ModeManual:
		c.pidTask.Suspend()
	case ModeStop:
		c.pidTask.Suspend()
		if err := c.act.SetDutyCycle(0); err != nil {
			return err
		}
		if err := c.StopMotor(); err != nil {
			return err
		}
	}
	if prev != m {
		c.log.Info("Mode %v -> %v", prev, m)
	}
	return nil
}

func (c *Controller) EnableDisplay()  { c.reporter.Enable() }
func (c *Controller) DisableDisplay() { c.reporter.Disable() }

// AddTelemetrySink adds an output to the display task.
func (c *Controller) AddTelemetrySink(s Sink) { c.reporter.AddSink(s) }

func (c *Controller) GetState() MotorState          { return c.state.Snapshot() }
func (c *Controller) GetTimestamp() float64         { return c.state.Snapshot().Timestamp }
func (c *Controller) GetDirection() Direction       { return c.state.Snapshot().Direction }
func (c *Controller) GetDutyCycle() float64         { return c.state.Snapshot().DutyCycle }
func (c *Controller) GetVelocity() float64          { return c.state.Snapshot().Velocity }
func (c *Controller) GetVelocitySmoothed() float64  { return c.state.Snapshot().VelocitySmoothed }
func (c *Controller) GetPosition() float64          { return c.state.Snapshot().Position }
func (c *Controller) Config() Config                { return c.cfg }
func (c *Controller) DisplayEnabled() bool          { return c.reporter.Enabled() }
func (c *Controller) CommandedDirection() Direction { return c.dir.Commanded() }

func (c *Controller) GetSetpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setpoint
}

func (c *Controller) GetPositionSetpoint() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionSP
}

func (c *Controller) GetMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Controller) PIDDiagnostics() PIDDiagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diag
}
