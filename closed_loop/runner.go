package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"dcmotor-core/comms"
	"dcmotor-core/hal"
	"dcmotor-core/hal/sim"
	"dcmotor-core/motor"
	"dcmotor-core/utils"
)

const (
	FrameCommand    = "MOTOR_CMD"
	sequencerPeriod = 10 * time.Millisecond

	rxRetryDelay = 10 * time.Millisecond
	rxMaxErrors  = 50
)

var errScenarioDone = errors.New("scenario complete")

type RunnerConfig struct {
	Backend      string
	ConfigPath   string
	ScenarioPath string
	SerialDevice string
	SerialBaud   int
	CANInterface string
	CANMapPath   string
	SimStep      time.Duration
	Pins         PinConfig
}

// PinConfig names the sysfs resources of the sysfs backend.
type PinConfig struct {
	PWMChip    int
	PWMChannel int
	In1        int
	In2        int
	EncoderA   int
	EncoderB   int
	InvertEnc  bool
}

// backend supplies the peripherals and anything that has to run beside the
// controller, such as the simulated plant.
type backend struct {
	name  string
	perip motor.Peripherals
	run   func(ctx context.Context) error
	close func()
}

// newSimBackend builds a plant whose encoder resolution matches cfg.
func newSimBackend(cfg motor.Config, step time.Duration) *backend {
	if step <= 0 {
		step = time.Millisecond
	}
	params := sim.DefaultParams()
	params.CountsPerRad = cfg.CountsPerRad()
	m := sim.NewMotor(params)
	return &backend{
		name: "sim",
		perip: motor.Peripherals{
			PWM:     m.PWM(),
			In1:     m.In1(),
			In2:     m.In2(),
			Counter: m.Counter(),
			Clock:   m.Clock(),
		},
		run:   func(ctx context.Context) error { return m.Run(ctx, step) },
		close: func() {},
	}
}

type Runner struct {
	cfg    RunnerConfig
	log    *utils.Logger
	ctrl   *motor.Controller
	be     *backend
	clock  hal.Clock
	scen   Scenario
	cmap   *utils.CANMap
	serial *comms.StreamChannel
	writer *utils.SocketCANWriter
	reader utils.CANReader
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	mcfg := motor.DefaultConfig()
	if cfg.ConfigPath != "" {
		var err error
		if mcfg, err = motor.LoadConfig(cfg.ConfigPath); err != nil {
			return nil, fmt.Errorf("load motor config: %w", err)
		}
	}

	scen := DefaultScenario()
	if cfg.ScenarioPath != "" {
		var err error
		if scen, err = LoadScenario(cfg.ScenarioPath); err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
	}

	var be *backend
	switch cfg.Backend {
	case "sim", "":
		be = newSimBackend(mcfg, cfg.SimStep)
	case "sysfs":
		var err error
		if be, err = newSysfsBackend(cfg.Pins, log.Named("sysfs")); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	r := &Runner{cfg: cfg, log: log, be: be, scen: scen}
	if err := r.setup(ctx, mcfg); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runner) setup(ctx context.Context, mcfg motor.Config) error {
	ctrl, err := motor.New(mcfg, r.be.perip, r.log.Named("motor"))
	if err != nil {
		return err
	}
	r.ctrl = ctrl
	r.clock = r.be.perip.Clock
	if r.clock == nil {
		r.clock = hal.NewSystemClock()
	}

	if r.cfg.SerialDevice != "" {
		ch, err := comms.OpenSerial(comms.SerialConfig{Device: r.cfg.SerialDevice, BaudRate: r.cfg.SerialBaud})
		if err != nil {
			return err
		}
		r.serial = ch
		ctrl.AddTelemetrySink(motor.ChannelSink{Channel: ch})
		r.log.Info("Telemetry on serial %s", r.cfg.SerialDevice)
	}

	if r.cfg.CANInterface != "" {
		if r.cmap, err = r.loadCANMap(); err != nil {
			return err
		}
		if r.writer, err = utils.NewSocketCANWriter(ctx, r.cfg.CANInterface); err != nil {
			return err
		}
		if r.reader, err = utils.NewSocketCANReader(ctx, r.cfg.CANInterface); err != nil {
			return err
		}
		ctrl.AddTelemetrySink(motor.CANSink{Map: r.cmap, Writer: r.writer})
		r.log.Info("Telemetry and commands on %s", r.cfg.CANInterface)
	}
	return nil
}

func (r *Runner) loadCANMap() (*utils.CANMap, error) {
	if r.cfg.CANMapPath == "" {
		return utils.DefaultCANMap()
	}
	cmap, err := utils.LoadCANMap(r.cfg.CANMapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}
	return cmap, nil
}

func (r *Runner) Close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		r.log.Info("CAN frames sent=%d", r.writer.Sent())
		_ = r.writer.Close()
	}
	if r.serial != nil {
		_ = r.serial.Close()
	}
	if r.be != nil {
		r.be.close()
	}
}

// Run initializes the motor and drives it until ctx is done or a
// non-looping scenario completes. The bridge is released on the way out.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.ctrl.Init(); err != nil {
		return err
	}
	defer func() {
		if err := r.ctrl.StopMotor(); err != nil {
			r.log.Error("Stop failed: %v", err)
		}
	}()

	r.log.Info("Starting: backend=%s scenario=%s duration=%.2fs loop=%v",
		r.be.name, r.scen.Meta.Name, r.scen.Timing.DurationS, r.scen.Timing.Loop)

	g, ctx := errgroup.WithContext(ctx)
	if r.be.run != nil {
		g.Go(func() error { return r.be.run(ctx) })
	}
	g.Go(func() error { return r.ctrl.Run(ctx) })
	g.Go(func() error { return r.sequence(ctx) })
	if r.reader != nil {
		g.Go(func() error { r.receiveLoop(ctx); return nil })
	}

	err := g.Wait()
	if errors.Is(err, errScenarioDone) {
		r.log.Info("Scenario %s complete", r.scen.Meta.Name)
		return nil
	}
	return err
}

// sequence applies each scenario segment once when its window is entered.
func (r *Runner) sequence(ctx context.Context) error {
	start := r.clock.Now()
	ticker := time.NewTicker(sequencerPeriod)
	defer ticker.Stop()

	last := -2
	for {
		t := (r.clock.Now() - start).Seconds()
		if r.scen.Finished(t) {
			return errScenarioDone
		}
		cmd, idx := EvalCommand(&r.scen, t)
		if key := r.segmentKey(t, idx); key != last {
			last = key
			r.log.Debug("t=%.3f segment %d: %+v", t, idx, cmd)
			if err := r.applyCommand(cmd); err != nil {
				r.log.Error("Segment %d: %v", idx, err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// segmentKey distinguishes the same segment across loop iterations.
func (r *Runner) segmentKey(t float64, idx int) int {
	if !r.scen.Timing.Loop {
		return idx
	}
	cycle := int(math.Floor(t / r.scen.Timing.DurationS))
	return cycle*(len(r.scen.Segments)+1) + idx + 1
}

func (r *Runner) applyCommand(cmd Command) error {
	mode, err := ParseMode(cmd.Mode)
	if err != nil {
		return err
	}
	dir, err := ParseDirection(cmd.Direction)
	if err != nil {
		return err
	}

	if err := r.ctrl.SetMode(mode); err != nil {
		return err
	}
	if cmd.Display {
		r.ctrl.EnableDisplay()
	} else {
		r.ctrl.DisableDisplay()
	}
	if mode == motor.ModeStop {
		return nil
	}
	if dir != motor.Stopped {
		if err := r.ctrl.SetDirection(dir); err != nil {
			return err
		}
	}
	switch mode {
	case motor.ModeAuto:
		r.ctrl.SetVelocity(cmd.VelocitySP)
	case motor.ModeManual:
		return r.ctrl.SetDutyCycle(cmd.DutyCycle)
	}
	return nil
}

const (
	displayKeep    = 0
	displayEnable  = 1
	displayDisable = 2
)

// applyCANCommand handles a decoded MOTOR_CMD frame. A zero direction
// keeps the current one.
func (r *Runner) applyCANCommand(values map[string]float64) error {
	mode := motor.Mode(int(math.Round(values["mode"])))
	if err := r.ctrl.SetMode(mode); err != nil {
		return err
	}

	switch int(math.Round(values["display"])) {
	case displayKeep:
	case displayEnable:
		r.ctrl.EnableDisplay()
	case displayDisable:
		r.ctrl.DisableDisplay()
	default:
		return fmt.Errorf("invalid display request %v", values["display"])
	}
	if mode == motor.ModeStop {
		return nil
	}

	if d := motor.Direction(int(math.Round(values["direction"]))); d != motor.Stopped {
		if err := r.ctrl.SetDirection(d); err != nil {
			return err
		}
	}
	switch mode {
	case motor.ModeAuto:
		r.ctrl.SetVelocity(values["velocity_sp"])
	case motor.ModeManual:
		return r.ctrl.SetDutyCycle(values["duty_cycle"])
	}
	return nil
}

// receiveLoop decodes MOTOR_CMD frames and applies them. Other IDs are
// ignored. It returns when the reader closes or after rxMaxErrors
// consecutive read errors.
func (r *Runner) receiveLoop(ctx context.Context) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	fd, err := r.cmap.FrameByName(FrameCommand)
	if err != nil {
		r.log.Error("RX disabled: %v", err)
		return
	}

	failures := 0
	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, utils.ErrReaderClosed) {
				if err != utils.ErrReaderClosed {
					r.log.Error("RX stopped: %v", err)
				}
				return
			}
			failures++
			if failures >= rxMaxErrors {
				r.log.Error("RX giving up after %d consecutive errors: %v", failures, err)
				return
			}
			r.log.Warn("RX error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(rxRetryDelay):
			}
			continue
		}
		failures = 0
		if frame.ID != fd.ID {
			continue
		}

		values, err := r.cmap.DecodeFrame(frame)
		if err != nil {
			r.log.Warn("RX decode id=0x%X: %v", frame.ID, err)
			continue
		}
		r.log.Trace("RX id=0x%X len=%d data=% X", frame.ID, frame.Length, frame.Data[:frame.Length])
		if err := r.applyCANCommand(values); err != nil {
			r.log.Warn("Command rejected: %v", err)
		}
	}
}
