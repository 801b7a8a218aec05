// Copyright 2023 The Armored Tegra authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kfuse drives the KFUSE block holding the 144 word HDCP key
// array consumed by TSEC firmware. Bring-up checks that the array
// decoded cleanly before starting a derivation.
package kfuse

import (
	"errors"
	"runtime"

	"github.com/armored-tegra/bringup/car"
	"github.com/armored-tegra/bringup/mmio"
	"github.com/armored-tegra/bringup/timer"
)

// KFUSE registers
// (offsets within the KFUSE block).
const (
	KFUSE_BASE = 0x7000fc00

	KFUSE_STATE    = 0x80
	KFUSE_ERRCOUNT = 0x84
	KFUSE_KEYADDR  = 0x88
	KFUSE_KEYS     = 0x8c
)

// KFUSE_STATE bits.
const (
	STATE_DONE    = 1 << 16
	STATE_CRCPASS = 1 << 17
)

// KFUSE_KEYADDR bits.
const KEYADDR_AUTOINC = 1 << 16

// NumWords is the size of the decoded key array.
const NumWords = 144

// readyTimeout bounds the decode wait, in milliseconds. Decoding runs
// in hardware as soon as the block is clocked and completes well under
// this bound on a healthy part.
const readyTimeout = 100

var (
	ErrNotReady = errors.New("timeout waiting for KFUSE decode")
	ErrCRC      = errors.New("KFUSE key array failed CRC")
)

// KFUSE drives one KFUSE instance.
type KFUSE struct {
	// Regs is the KFUSE register block.
	Regs mmio.Block

	// Clocks gates the KFUSE clock.
	Clocks car.Controller

	// Timer bounds the decode wait.
	Timer timer.Source
}

// WaitReady clocks the block and waits for the key array decode to
// complete and pass CRC. The clock is left enabled on success and gated
// again on any failure.
func (k *KFUSE) WaitReady() (err error) {
	k.Clocks.Enable(car.KFUSE)

	deadline := k.Timer.Millis() + readyTimeout

	for k.Regs.Read(KFUSE_STATE)&STATE_DONE == 0 {
		if k.Timer.Millis() > deadline {
			k.Clocks.Disable(car.KFUSE)
			return ErrNotReady
		}

		runtime.Gosched()
	}

	if k.Regs.Read(KFUSE_STATE)&STATE_CRCPASS == 0 {
		k.Clocks.Disable(car.KFUSE)
		return ErrCRC
	}

	return
}

// Read decodes the HDCP key array into buf, which must hold NumWords
// words. The clock is gated again before returning.
func (k *KFUSE) Read(buf []uint32) (err error) {
	if len(buf) != NumWords {
		panic("kfuse: buffer must hold the full key array")
	}

	if err = k.WaitReady(); err != nil {
		return
	}

	k.Regs.Write(KFUSE_KEYADDR, KEYADDR_AUTOINC)

	for i := range buf {
		buf[i] = k.Regs.Read(KFUSE_KEYS)
	}

	k.Clocks.Disable(car.KFUSE)

	return
}
