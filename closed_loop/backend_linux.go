//go:build linux

package main

import (
	"dcmotor-core/hal"
	"dcmotor-core/hal/sysfs"
	"dcmotor-core/motor"
	"dcmotor-core/utils"
)

func newSysfsBackend(pins PinConfig, log *utils.Logger) (*backend, error) {
	clock := hal.NewSystemClock()
	pwm := sysfs.NewPwm(pins.PWMChip, pins.PWMChannel)
	in1 := sysfs.NewOutput(pins.In1)
	in2 := sysfs.NewOutput(pins.In2)
	enc := sysfs.NewQuadratureCounter(pins.EncoderA, pins.EncoderB, pins.InvertEnc, clock)

	log.Info("pwmchip%d/pwm%d, in1=gpio%d in2=gpio%d, encoder A=gpio%d B=gpio%d",
		pins.PWMChip, pins.PWMChannel, pins.In1, pins.In2, pins.EncoderA, pins.EncoderB)

	return &backend{
		name: "sysfs",
		perip: motor.Peripherals{
			PWM:     pwm,
			In1:     in1,
			In2:     in2,
			Counter: enc,
			Clock:   clock,
		},
		close: func() {
			enc.Close()
			in1.Close()
			in2.Close()
			pwm.Close()
		},
	}, nil
}
