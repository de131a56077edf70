package sim

import (
	"fmt"
	"sync"

	"dcmotor-core/hal"
)

// PWM is an in-memory timer channel.
type PWM struct {
	mu      sync.Mutex
	cfg     hal.PWMConfig
	ok      bool
	compare uint32
	writes  int
}

var _ hal.PWM = (*PWM)(nil)

func (p *PWM) Configure(cfg hal.PWMConfig) error {
	if cfg.ResolutionHz == 0 || cfg.PeriodTicks == 0 {
		return fmt.Errorf("%w: pwm resolution and period must be non-zero", hal.ErrInvalidConfig)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	p.ok = true
	return nil
}

func (p *PWM) SetCompare(ticks uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ok {
		return hal.ErrNotConfigured
	}
	if ticks > p.cfg.PeriodTicks {
		return fmt.Errorf("%w: compare %d above period %d", hal.ErrInvalidConfig, ticks, p.cfg.PeriodTicks)
	}
	p.compare = ticks
	p.writes++
	return nil
}

func (p *PWM) Compare() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.compare
}

// Duty is compare/period, 0 when unconfigured.
func (p *PWM) Duty() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ok {
		return 0
	}
	return float64(p.compare) / float64(p.cfg.PeriodTicks)
}

func (p *PWM) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Pin is a discrete output. onSet runs after every successful write.
type Pin struct {
	mu    sync.Mutex
	name  string
	ok    bool
	high  bool
	onSet func()
}

var _ hal.DigitalOutput = (*Pin)(nil)

func (p *Pin) Configure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ok = true
	p.high = false
	return nil
}

func (p *Pin) Set(high bool) error {
	p.mu.Lock()
	if !p.ok {
		p.mu.Unlock()
		return fmt.Errorf("pin %s: %w", p.name, hal.ErrNotConfigured)
	}
	p.high = high
	cb := p.onSet
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (p *Pin) High() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}
