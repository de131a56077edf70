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

// Package sysfs drives the motor through the Linux GPIO and PWM class
// devices. The encoder is decoded in software from two edge-triggered
// GPIO inputs.
package sysfs

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"golang.org/x/sys/unix"
)

const verifyTimeout = 2 * time.Second

// Verify waits for exported files to become writable. udev changes the
// group permissions some time after export, so non-root users need it.
var Verify = false

func init() {
	u, err := user.Current()
	if err == nil && u.Uid != "0" {
		Verify = true
	}
}

func unexport(f string, n int) error {
	return writeFile(f, fmt.Sprintf("%d", n))
}

// export writes n to expfile unless f is already accessible.
func export(f, expfile string, n int) error {
	if err := unix.Access(f, unix.W_OK|unix.R_OK); err == nil {
		return nil
	}
	err := writeFile(expfile, fmt.Sprintf("%d", n))
	if err == nil && Verify {
		return verifyFile(f)
	}
	return err
}

func writeFile(fname, s string) error {
	f, err := os.OpenFile(fname, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(s))
	return err
}

func verifyFile(f string) error {
	sl := time.Millisecond
	for tout := time.Duration(0); tout < verifyTimeout; tout += sl {
		if err := unix.Access(f, unix.W_OK); err == nil {
			return nil
		}
		time.Sleep(sl)
	}
	return fmt.Errorf("%s: not writable", f)
}
