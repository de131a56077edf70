//go:build !linux

package main

import (
	"errors"

	"dcmotor-core/utils"
)

func newSysfsBackend(PinConfig, *utils.Logger) (*backend, error) {
	return nil, errors.New("sysfs backend requires linux")
}
