package motor

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

var ErrInvalidConfig = errors.New("invalid motor config")

// Config is fixed at controller construction.
type Config struct {
	ReductionRatio       float64 `yaml:"reduction_ratio"`
	EncoderPulsesPerRev  int     `yaml:"encoder_pulses_per_rev"`
	EncoderEdgesPerPulse int     `yaml:"encoder_edges_per_pulse"`
	CalibrationFactor    float64 `yaml:"calibration_factor"`

	FilterSize   int     `yaml:"filter_size"`
	MinDutyCycle float64 `yaml:"min_duty_cycle"`

	Kp                       float64 `yaml:"kp"`
	Ti                       float64 `yaml:"ti"`
	Td                       float64 `yaml:"td"`
	MinOutput                float64 `yaml:"min_output"`
	MaxOutput                float64 `yaml:"max_output"`
	Hysteresis               float64 `yaml:"hysteresis"`
	IntegralLimit            float64 `yaml:"integral_limit"`
	FreezeIntegralInDeadband bool    `yaml:"freeze_integral_in_deadband"`

	TimerResolutionHz uint32 `yaml:"timer_resolution_hz"`
	TimerFrequencyHz  uint32 `yaml:"timer_frequency_hz"`

	SampleSize   int           `yaml:"sample_size"`
	GlitchFilter time.Duration `yaml:"glitch_filter"`

	EstimatorPeriod time.Duration `yaml:"estimator_period"`
	PIDPeriod       time.Duration `yaml:"pid_period"`
	TelemetryPeriod time.Duration `yaml:"telemetry_period"`
	EncoderTimeout  time.Duration `yaml:"encoder_timeout"`
}

// DefaultConfig is the tuned 200:1 gearmotor with an 11 PPR encoder.
func DefaultConfig() Config {
	return Config{
		ReductionRatio:       200,
		EncoderPulsesPerRev:  11,
		EncoderEdgesPerPulse: 4,
		CalibrationFactor:    1.0379773437,

		FilterSize:   10,
		MinDutyCycle: 0.5,

		Kp:         0.052951,
		Ti:         0.036282,
		Td:         0.0000021908,
		MinOutput:  0,
		MaxOutput:  1,
		Hysteresis: 0.15,

		TimerResolutionHz: 80_000_000,
		TimerFrequencyHz:  20_000,

		SampleSize:   12,
		GlitchFilter: 1000 * time.Nanosecond,

		EstimatorPeriod: 10 * time.Millisecond,
		PIDPeriod:       10 * time.Millisecond,
		TelemetryPeriod: 100 * time.Millisecond,
		EncoderTimeout:  50 * time.Millisecond,
	}
}

// LoadConfig overlays a YAML file on DefaultConfig. Unknown keys are errors.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"reduction_ratio", c.ReductionRatio},
		{"calibration_factor", c.CalibrationFactor},
		{"min_duty_cycle", c.MinDutyCycle},
		{"kp", c.Kp},
		{"ti", c.Ti},
		{"td", c.Td},
		{"min_output", c.MinOutput},
		{"max_output", c.MaxOutput},
		{"hysteresis", c.Hysteresis},
		{"integral_limit", c.IntegralLimit},
	} {
		// NaN slips past every ordered comparison below.
		check(math.IsNaN(f.v) || math.IsInf(f.v, 0), "%s must be finite, got %v", f.name, f.v)
	}
	check(c.ReductionRatio <= 0, "reduction_ratio must be positive, got %v", c.ReductionRatio)
	check(c.EncoderPulsesPerRev <= 0, "encoder_pulses_per_rev must be positive, got %d", c.EncoderPulsesPerRev)
	check(c.EncoderEdgesPerPulse <= 0, "encoder_edges_per_pulse must be positive, got %d", c.EncoderEdgesPerPulse)
	check(c.CalibrationFactor <= 0, "calibration_factor must be positive, got %v", c.CalibrationFactor)
	check(c.FilterSize < 1, "filter_size must be at least 1, got %d", c.FilterSize)
	check(c.MinDutyCycle < 0 || c.MinDutyCycle >= 1, "min_duty_cycle must be in [0,1), got %v", c.MinDutyCycle)
	check(c.Kp < 0 || c.Td < 0, "kp and td must not be negative")
	check(c.Ti < 0, "ti must not be negative, got %v", c.Ti)
	check(c.MinOutput < 0 || c.MaxOutput > 1, "output limits must lie in [0,1], got [%v,%v]", c.MinOutput, c.MaxOutput)
	check(c.MinOutput >= c.MaxOutput, "min_output %v must be below max_output %v", c.MinOutput, c.MaxOutput)
	check(c.Hysteresis < 0, "hysteresis must not be negative, got %v", c.Hysteresis)
	check(c.IntegralLimit < 0, "integral_limit must not be negative, got %v", c.IntegralLimit)
	check(c.TimerFrequencyHz == 0, "timer_frequency_hz must be positive")
	check(c.TimerFrequencyHz > c.TimerResolutionHz, "timer_frequency_hz %d above resolution %d", c.TimerFrequencyHz, c.TimerResolutionHz)
	check(c.SampleSize < 1, "sample_size must be at least 1, got %d", c.SampleSize)
	check(c.GlitchFilter < 0, "glitch_filter must not be negative")
	check(c.EstimatorPeriod <= 0, "estimator_period must be positive")
	check(c.PIDPeriod <= 0, "pid_period must be positive")
	check(c.TelemetryPeriod <= 0, "telemetry_period must be positive")
	check(c.EncoderTimeout < 0, "encoder_timeout must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Alpha is the EMA weight 2/(N+1).
func (c Config) Alpha() float64 {
	return 2 / (float64(c.FilterSize) + 1)
}

// Ki is kp/ti; a zero ti disables the integral term.
func (c Config) Ki() float64 {
	if c.Ti == 0 {
		return 0
	}
	return c.Kp / c.Ti
}

func (c Config) Kd() float64 {
	return c.Kp * c.Td
}

// TimerPeriod is timer ticks per PWM period.
func (c Config) TimerPeriod() uint32 {
	return c.TimerResolutionHz / c.TimerFrequencyHz
}

// CountsPerRad is encoder edges per output shaft radian.
func (c Config) CountsPerRad() float64 {
	return c.ReductionRatio * float64(c.EncoderPulsesPerRev*c.EncoderEdgesPerPulse) / (2 * math.Pi * c.CalibrationFactor)
}

// RadPerCount converts a count delta to output shaft radians. Velocity and
// position share it.
func (c Config) RadPerCount() float64 {
	return 1 / c.CountsPerRad()
}
