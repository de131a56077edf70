package motor

import (
	"time"

	"go.einride.tech/pid"
)

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Setpoint   float64
	Error      float64
	Integral   float64
	Derivative float64
	P          float64
	I          float64
	D          float64
	Output     float64
}

// VelocityPID regulates smoothed speed to a setpoint. The raw PID sum is
// clamped to [MinOutput,MaxOutput]; inside the hysteresis band the
// previous output is held. Not safe for concurrent use.
type VelocityPID struct {
	ctrl pid.Controller

	minOut, maxOut float64
	hysteresis     float64
	integralLimit  float64
	freeze         bool

	prevOutput float64
	prevTime   time.Duration
	diag       PIDDiagnostics
}

func NewVelocityPID(cfg Config) *VelocityPID {
	return &VelocityPID{
		ctrl: pid.Controller{
			Config: pid.ControllerConfig{
				ProportionalGain: cfg.Kp,
				IntegralGain:     cfg.Ki(),
				DerivativeGain:   cfg.Kd(),
			},
		},
		minOut:        cfg.MinOutput,
		maxOut:        cfg.MaxOutput,
		hysteresis:    cfg.Hysteresis,
		integralLimit: cfg.IntegralLimit,
		freeze:        cfg.FreezeIntegralInDeadband,
	}
}

// Reset clears the PID state; now becomes the previous invocation time.
func (p *VelocityPID) Reset(now time.Duration) {
	p.ctrl.Reset()
	p.prevOutput = 0
	p.prevTime = now
	p.diag = PIDDiagnostics{}
}

// Update runs one regulation step at time now. ok is false when no time
// has passed since the previous step; state is then unchanged.
func (p *VelocityPID) Update(setpoint, measured float64, now time.Duration) (output float64, ok bool) {
	dt := now - p.prevTime
	if dt <= 0 {
		return p.prevOutput, false
	}
	integralBefore := p.ctrl.State.ControlErrorIntegral

	p.ctrl.Update(pid.ControllerInput{
		ReferenceSignal:  setpoint,
		ActualSignal:     measured,
		SamplingInterval: dt,
	})
	st := &p.ctrl.State

	inBand := abs(st.ControlError) <= p.hysteresis
	if inBand && p.freeze {
		st.ControlErrorIntegral = integralBefore
	}
	if p.integralLimit > 0 {
		st.ControlErrorIntegral = clampFloat(st.ControlErrorIntegral, -p.integralLimit, p.integralLimit)
	}

	cfg := p.ctrl.Config
	pTerm := cfg.ProportionalGain * st.ControlError
	iTerm := cfg.IntegralGain * st.ControlErrorIntegral
	dTerm := cfg.DerivativeGain * st.ControlErrorDerivative

	output = clampFloat(pTerm+iTerm+dTerm, p.minOut, p.maxOut)
	if inBand {
		output = p.prevOutput
	}

	p.prevOutput = output
	p.prevTime = now
	p.diag = PIDDiagnostics{
		Setpoint:   setpoint,
		Error:      st.ControlError,
		Integral:   st.ControlErrorIntegral,
		Derivative: st.ControlErrorDerivative,
		P:          pTerm,
		I:          iTerm,
		D:          dTerm,
		Output:     output,
	}
	return output, true
}

// Diagnostics returns the terms of the last Update.
func (p *VelocityPID) Diagnostics() PIDDiagnostics {
	return p.diag
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
