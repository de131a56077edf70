package motor

import (
	"fmt"

	"dcmotor-core/hal"
)

// PulseCounter brings up the encoder unit in accumulate mode with watch
// points on both limits, so ReadCount is unbounded.
type PulseCounter struct {
	unit       hal.PulseCounter
	sampleSize int
	unitCfg    hal.PulseCounterConfig
}

func NewPulseCounter(unit hal.PulseCounter, cfg Config) *PulseCounter {
	return &PulseCounter{
		unit:       unit,
		sampleSize: cfg.SampleSize,
		unitCfg: hal.PulseCounterConfig{
			LowLimit:     -cfg.SampleSize,
			HighLimit:    cfg.SampleSize,
			GlitchFilter: cfg.GlitchFilter,
			Accumulate:   true,
		},
	}
}

func (p *PulseCounter) Configure() error {
	if err := p.unit.Configure(p.unitCfg); err != nil {
		return fmt.Errorf("configure unit: %w", err)
	}
	for _, w := range []int{-p.sampleSize, p.sampleSize} {
		if err := p.unit.AddWatchPoint(w); err != nil {
			return fmt.Errorf("watch point %d: %w", w, err)
		}
	}
	if err := p.unit.Enable(); err != nil {
		return fmt.Errorf("enable unit: %w", err)
	}
	if err := p.unit.Clear(); err != nil {
		return fmt.Errorf("clear unit: %w", err)
	}
	if err := p.unit.Start(); err != nil {
		return fmt.Errorf("start unit: %w", err)
	}
	return nil
}

// ReadCount is a non-blocking snapshot of the accumulated count.
func (p *PulseCounter) ReadCount() (int, error) {
	return p.unit.Count()
}
