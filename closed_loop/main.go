package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"

	"dcmotor-core/utils"
)

// RuntimeConfig is read from the environment first; flags override it.
type RuntimeConfig struct {
	Backend      string        `env:"MOTOR_BACKEND" envDefault:"sim"`
	ConfigPath   string        `env:"MOTOR_CONFIG"`
	ScenarioPath string        `env:"MOTOR_SCENARIO"`
	LogLevel     string        `env:"MOTOR_LOG_LEVEL" envDefault:"info"`
	LogFile      string        `env:"MOTOR_LOG_FILE" envDefault:"closed_loop.log"`
	SerialDevice string        `env:"MOTOR_SERIAL_DEVICE"`
	SerialBaud   int           `env:"MOTOR_SERIAL_BAUD" envDefault:"115200"`
	CANInterface string        `env:"MOTOR_CAN_IFACE"`
	CANMapPath   string        `env:"MOTOR_CAN_MAP"`
	PWMChip      int           `env:"MOTOR_PWM_CHIP" envDefault:"0"`
	PWMChannel   int           `env:"MOTOR_PWM_CHANNEL" envDefault:"0"`
	GpioIn1      int           `env:"MOTOR_GPIO_IN1" envDefault:"16"`
	GpioIn2      int           `env:"MOTOR_GPIO_IN2" envDefault:"17"`
	GpioEncA     int           `env:"MOTOR_GPIO_ENC_A" envDefault:"18"`
	GpioEncB     int           `env:"MOTOR_GPIO_ENC_B" envDefault:"19"`
	InvertEnc    bool          `env:"MOTOR_ENC_INVERT" envDefault:"false"`
	SimStep      time.Duration `env:"MOTOR_SIM_STEP" envDefault:"1ms"`
}

func (c RuntimeConfig) runner() RunnerConfig {
	return RunnerConfig{
		Backend:      c.Backend,
		ConfigPath:   c.ConfigPath,
		ScenarioPath: c.ScenarioPath,
		SerialDevice: c.SerialDevice,
		SerialBaud:   c.SerialBaud,
		CANInterface: c.CANInterface,
		CANMapPath:   c.CANMapPath,
		SimStep:      c.SimStep,
		Pins: PinConfig{
			PWMChip:    c.PWMChip,
			PWMChannel: c.PWMChannel,
			In1:        c.GpioIn1,
			In2:        c.GpioIn2,
			EncoderA:   c.GpioEncA,
			EncoderB:   c.GpioEncB,
			InvertEnc:  c.InvertEnc,
		},
	}
}

func main() {
	var rc RuntimeConfig
	if err := env.Parse(&rc); err != nil {
		_, _ = os.Stderr.WriteString("ERROR: environment: " + err.Error() + "\n")
		os.Exit(1)
	}

	flag.StringVar(&rc.Backend, "backend", rc.Backend, "sim|sysfs")
	flag.StringVar(&rc.ConfigPath, "config", rc.ConfigPath, "Motor YAML config (defaults built in)")
	flag.StringVar(&rc.ScenarioPath, "scenario", rc.ScenarioPath, "Scenario JSON file (default bench demo)")
	flag.StringVar(&rc.LogLevel, "log", rc.LogLevel, "trace|debug|info|warn|error|critical")
	flag.StringVar(&rc.LogFile, "logfile", rc.LogFile, "Log file path")
	flag.StringVar(&rc.SerialDevice, "serial", rc.SerialDevice, "Serial device for telemetry, empty to disable")
	flag.IntVar(&rc.SerialBaud, "baud", rc.SerialBaud, "Serial baud rate")
	flag.StringVar(&rc.CANInterface, "iface", rc.CANInterface, "SocketCAN interface, empty to disable")
	flag.StringVar(&rc.CANMapPath, "map", rc.CANMapPath, "CAN map CSV (default built in)")
	flag.DurationVar(&rc.SimStep, "sim-step", rc.SimStep, "Simulator integration step")
	flag.Parse()

	log, err := utils.NewFileLogger(rc.LogFile, utils.ParseLevel(rc.LogLevel), true)
	if err != nil {
		_, _ = os.Stderr.WriteString("ERROR: cannot open " + rc.LogFile + ": " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	os.Exit(run(ctx, rc, log, stop))
}

// run owns every deferred cleanup so main can exit with its status.
func run(ctx context.Context, rc RuntimeConfig, log *utils.Logger, stop context.CancelFunc) int {
	defer log.Close()
	defer stop()

	runner, err := NewRunner(ctx, rc.runner(), log)
	if err != nil {
		log.Critical("Startup failed: %v", err)
		return 1
	}
	defer runner.Close()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Critical("Run failed: %v", err)
		return 1
	}
	return 0
}
