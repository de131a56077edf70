package hal

import (
	"fmt"
	"sync"
	"time"
)

// Unit is a software pulse counting unit with hardware-like limits.
// The raw count stays inside (LowLimit, HighLimit); on reaching a limit it
// restarts at zero, optionally folding the lost range into an accumulator.
type Unit struct {
	mu sync.Mutex

	cfg        PulseCounterConfig
	configured bool
	enabled    bool
	running    bool
	watch      map[int]bool

	raw   int
	accum int

	lastEdge time.Duration
	seenEdge bool
	dropped  uint64
}

var _ PulseCounter = (*Unit)(nil)

func NewUnit() *Unit {
	return &Unit{watch: map[int]bool{}}
}

func (u *Unit) Configure(cfg PulseCounterConfig) error {
	if cfg.LowLimit >= 0 || cfg.HighLimit <= 0 {
		return fmt.Errorf("%w: limits must straddle zero, got [%d,%d]", ErrInvalidConfig, cfg.LowLimit, cfg.HighLimit)
	}
	if cfg.GlitchFilter < 0 {
		return fmt.Errorf("%w: negative glitch filter", ErrInvalidConfig)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.enabled {
		return fmt.Errorf("%w: unit already enabled", ErrInvalidConfig)
	}
	u.cfg = cfg
	u.configured = true
	return nil
}

func (u *Unit) AddWatchPoint(value int) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.configured {
		return ErrNotConfigured
	}
	if value < u.cfg.LowLimit || value > u.cfg.HighLimit {
		return fmt.Errorf("%w: watch point %d outside [%d,%d]", ErrInvalidConfig, value, u.cfg.LowLimit, u.cfg.HighLimit)
	}
	if u.watch[value] {
		return fmt.Errorf("%w: duplicate watch point %d", ErrInvalidConfig, value)
	}
	u.watch[value] = true
	return nil
}

func (u *Unit) Enable() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.configured {
		return ErrNotConfigured
	}
	u.enabled = true
	return nil
}

// Clear zeroes both the raw count and the accumulator.
func (u *Unit) Clear() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.enabled {
		return ErrNotConfigured
	}
	u.raw = 0
	u.accum = 0
	return nil
}

func (u *Unit) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.enabled {
		return ErrNotConfigured
	}
	u.running = true
	return nil
}

func (u *Unit) Stop() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.running = false
	return nil
}

// Count is accumulator plus raw count.
func (u *Unit) Count() (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.enabled {
		return 0, ErrNotConfigured
	}
	return u.accum + u.raw, nil
}

// Dropped reports how many edges the glitch filter rejected.
func (u *Unit) Dropped() uint64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dropped
}

// Edge feeds one decoded edge (step is +1 or -1) observed at time at.
// It reports whether the edge was counted.
func (u *Unit) Edge(step int, at time.Duration) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.running || step == 0 {
		return false
	}
	if u.seenEdge && u.cfg.GlitchFilter > 0 && at-u.lastEdge < u.cfg.GlitchFilter {
		u.dropped++
		return false
	}
	u.seenEdge = true
	u.lastEdge = at

	if step > 0 {
		u.raw++
	} else {
		u.raw--
	}
	if u.raw >= u.cfg.HighLimit || u.raw <= u.cfg.LowLimit {
		if u.cfg.Accumulate && u.watch[u.raw] {
			u.accum += u.raw
		}
		u.raw = 0
	}
	return true
}
