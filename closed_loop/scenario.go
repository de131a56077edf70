package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"

	"dcmotor-core/motor"
)

// Scenario defines a timed command sequence
type Scenario struct {
	Meta     ScenarioMeta      `json:"meta"`
	Timing   ScenarioTiming    `json:"timing"`
	Defaults Command           `json:"defaults"`
	Segments []ScenarioSegment `json:"segments"`
}

// ScenarioMeta contains scenario metadata
type ScenarioMeta struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// ScenarioTiming defines timing parameters
type ScenarioTiming struct {
	DurationS float64 `json:"duration_s"`
	Loop      bool    `json:"loop"`
}

// ScenarioSegment applies its command once, when t enters [T0,T1).
// T1 < 0 means until the end of the scenario.
type ScenarioSegment struct {
	T0 float64 `json:"t0"`
	T1 float64 `json:"t1"`
	Command
	Comment string `json:"comment,omitempty"`
}

// Command is one control-plane instruction set
type Command struct {
	Mode       string  `json:"mode,omitempty"`      // auto|manual|stop
	Direction  string  `json:"direction,omitempty"` // cw|ccw
	VelocitySP float64 `json:"velocity_sp"`         // rad/s, auto mode
	DutyCycle  float64 `json:"duty_cycle"`          // 0..1, manual mode
	Display    bool    `json:"display"`
}

func ParseMode(s string) (motor.Mode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return motor.ModeAuto, nil
	case "manual":
		return motor.ModeManual, nil
	case "stop":
		return motor.ModeStop, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// ParseDirection maps "" to Stopped, meaning keep the current direction.
func ParseDirection(s string) (motor.Direction, error) {
	switch strings.ToLower(s) {
	case "cw", "clockwise":
		return motor.Clockwise, nil
	case "ccw", "counterclockwise":
		return motor.CounterClockwise, nil
	case "":
		return motor.Stopped, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// DefaultScenario is the bench demo: clockwise, 1s at 0.25 rad/s, 5s at
// 0.5, 1s at 0.6 with the display on, 10s at 0.25, repeated.
func DefaultScenario() Scenario {
	auto := func(sp float64, display bool) Command {
		return Command{Mode: "auto", Direction: "cw", VelocitySP: sp, Display: display}
	}
	return Scenario{
		Meta:   ScenarioMeta{Name: "bench_demo", Version: 1, Description: "speed steps with a display window"},
		Timing: ScenarioTiming{DurationS: 17, Loop: true},
		Segments: []ScenarioSegment{
			{T0: 0, T1: 1, Command: auto(0.25, false)},
			{T0: 1, T1: 6, Command: auto(0.5, false)},
			{T0: 6, T1: 7, Command: auto(0.6, true)},
			{T0: 7, T1: -1, Command: auto(0.25, false)},
		},
	}
}

// LoadScenario loads a scenario from JSON file
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}

	var scen Scenario
	if err := json.Unmarshal(data, &scen); err != nil {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := scen.Validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) Validate() error {
	if s.Timing.DurationS <= 0 {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	if err := s.Defaults.check(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for i, seg := range s.Segments {
		if seg.T0 < 0 || (seg.T1 >= 0 && seg.T1 <= seg.T0) {
			return fmt.Errorf("segment %d: invalid window [%v,%v)", i, seg.T0, seg.T1)
		}
		if err := seg.check(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}
	return nil
}

func (c Command) check() error {
	if _, err := ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := ParseDirection(c.Direction); err != nil {
		return err
	}
	if c.DutyCycle < 0 || c.DutyCycle > 1 {
		return fmt.Errorf("duty_cycle %v outside [0,1]", c.DutyCycle)
	}
	if c.VelocitySP < 0 {
		return fmt.Errorf("velocity_sp %v is negative; use direction", c.VelocitySP)
	}
	return nil
}

// EvalCommand returns the command active at t seconds and the index of its
// segment, -1 for the defaults. A looping scenario wraps t.
func EvalCommand(scen *Scenario, t float64) (Command, int) {
	if scen.Timing.Loop && scen.Timing.DurationS > 0 {
		t = math.Mod(t, scen.Timing.DurationS)
	}

	for i, seg := range scen.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = scen.Timing.DurationS
		}
		if t >= seg.T0 && t < t1 {
			cmd := seg.Command
			if cmd.Mode == "" {
				cmd.Mode = scen.Defaults.Mode
			}
			if cmd.Direction == "" {
				cmd.Direction = scen.Defaults.Direction
			}
			return cmd, i
		}
	}
	return scen.Defaults, -1
}

// Finished reports whether a non-looping scenario has run its course.
func (s *Scenario) Finished(t float64) bool {
	return !s.Timing.Loop && t >= s.Timing.DurationS
}
