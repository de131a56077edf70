// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux

package sysfs

import (
	"fmt"
	"os"

	"dcmotor-core/hal"
)

// Pwm is one channel of a /sys/class/pwm chip. Compare ticks are converted
// to nanoseconds using the configured timer resolution.
type Pwm struct {
	chip, channel int
	base          string
	pFile, dFile  *os.File
	cfg           hal.PWMConfig
	periodNs      int64
	dutyNs        int64
}

var _ hal.PWM = (*Pwm)(nil)

func NewPwm(chip, channel int) *Pwm {
	return &Pwm{
		chip:     chip,
		channel:  channel,
		base:     fmt.Sprintf("/sys/class/pwm/pwmchip%d/pwm%d/", chip, channel),
		periodNs: -1,
		dutyNs:   -1,
	}
}

func (p *Pwm) chipFile(leaf string) string {
	return fmt.Sprintf("/sys/class/pwm/pwmchip%d/%s", p.chip, leaf)
}

func (p *Pwm) Configure(cfg hal.PWMConfig) error {
	if cfg.ResolutionHz == 0 || cfg.PeriodTicks == 0 {
		return fmt.Errorf("%w: pwm resolution and period must be non-zero", hal.ErrInvalidConfig)
	}
	if p.pFile == nil {
		if err := p.open(); err != nil {
			return err
		}
	}
	p.cfg = cfg
	period := p.ticksToNs(cfg.PeriodTicks)
	if period < 15 {
		return fmt.Errorf("%w: pwm period %dns too short", hal.ErrInvalidConfig, period)
	}
	if err := p.write(period, 0); err != nil {
		return err
	}
	if err := writeFile(p.base+"enable", "1"); err != nil {
		return fmt.Errorf("pwm%d enable: %w", p.channel, err)
	}
	return nil
}

func (p *Pwm) open() error {
	pName := p.base + "period"
	if err := export(pName, p.chipFile("export"), p.channel); err != nil {
		return fmt.Errorf("pwm%d export: %w", p.channel, err)
	}
	var err error
	p.pFile, err = os.OpenFile(pName, os.O_RDWR, 0600)
	if err != nil {
		unexport(p.chipFile("unexport"), p.channel)
		return err
	}
	dName := p.base + "duty_cycle"
	if err := verifyFile(dName); err != nil {
		p.closeFiles()
		return err
	}
	p.dFile, err = os.OpenFile(dName, os.O_RDWR, 0600)
	if err != nil {
		p.closeFiles()
		return err
	}
	return nil
}

func (p *Pwm) ticksToNs(ticks uint32) int64 {
	return int64(ticks) * 1_000_000_000 / int64(p.cfg.ResolutionHz)
}

func (p *Pwm) SetCompare(ticks uint32) error {
	if p.dFile == nil {
		return hal.ErrNotConfigured
	}
	if ticks > p.cfg.PeriodTicks {
		return fmt.Errorf("%w: compare %d above period %d", hal.ErrInvalidConfig, ticks, p.cfg.PeriodTicks)
	}
	return p.write(p.periodNs, p.ticksToNs(ticks))
}

// write orders the two writes so duty never exceeds the active period.
func (p *Pwm) write(periodNs, dutyNs int64) error {
	if dutyNs > p.periodNs {
		if err := p.writePeriod(periodNs); err != nil {
			return err
		}
		return p.writeDuty(dutyNs)
	}
	if err := p.writeDuty(dutyNs); err != nil {
		return err
	}
	return p.writePeriod(periodNs)
}

func (p *Pwm) writePeriod(ns int64) error {
	if ns == p.periodNs {
		return nil
	}
	if _, err := p.pFile.WriteAt([]byte(fmt.Sprintf("%d", ns)), 0); err != nil {
		return fmt.Errorf("pwm%d period: %w", p.channel, err)
	}
	p.periodNs = ns
	return nil
}

func (p *Pwm) writeDuty(ns int64) error {
	if ns == p.dutyNs {
		return nil
	}
	if _, err := p.dFile.WriteAt([]byte(fmt.Sprintf("%d", ns)), 0); err != nil {
		return fmt.Errorf("pwm%d duty: %w", p.channel, err)
	}
	p.dutyNs = ns
	return nil
}

func (p *Pwm) closeFiles() {
	if p.pFile != nil {
		p.pFile.Close()
		p.pFile = nil
	}
	if p.dFile != nil {
		p.dFile.Close()
		p.dFile = nil
	}
	unexport(p.chipFile("unexport"), p.channel)
}

func (p *Pwm) Close() {
	if p.pFile == nil {
		return
	}
	writeFile(p.base+"enable", "0")
	p.closeFiles()
}
