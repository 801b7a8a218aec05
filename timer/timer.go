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

// Package timer provides the monotonic hardware time sources available
// before the platform timers are configured: the always-on RTC
// millisecond counter and the fixed rate 1 MHz microsecond counter.
package timer

import (
	"runtime"

	"github.com/armored-tegra/bringup/mmio"
)

// Source is a monotonic time source. Both counters wrap at 32 bits;
// waits built on a Source take a deadline once at entry and assume no
// wraparound within a single call.
type Source interface {
	Millis() uint32
	Micros() uint32
}

// APBDEV_RTC and TIMERUS registers
// (22.5 RTC Registers and 22.9 Fixed Time Base Registers, Tegra X1 TRM).
const (
	RTC_BASE     = 0x7000e000
	TIMERUS_BASE = 0x60005010

	RTC_SHADOW_SECONDS = 0x0c
	RTC_MILLI_SECONDS  = 0x10

	TIMERUS_CNTR_1US = 0x00
)

// Hardware reads the RTC and TIMERUS register blocks.
type Hardware struct {
	RTC mmio.Block
	US  mmio.Block
}

// Millis returns the RTC millisecond counter. Reading the millisecond
// register latches the seconds shadow register, the order of the two
// reads is significant.
func (h *Hardware) Millis() uint32 {
	ms := h.RTC.Read(RTC_MILLI_SECONDS)
	return ms | h.RTC.Read(RTC_SHADOW_SECONDS)*1000
}

// Micros returns the free running 1 MHz counter.
func (h *Hardware) Micros() uint32 {
	return h.US.Read(TIMERUS_CNTR_1US)
}

// USleep busy waits for at least the given number of microseconds.
func USleep(s Source, us uint32) {
	start := s.Micros()

	for s.Micros()-start < us {
		runtime.Gosched()
	}
}

// MSleep busy waits for at least the given number of milliseconds.
func MSleep(s Source, ms uint32) {
	start := s.Millis()

	for s.Millis()-start < ms {
		runtime.Gosched()
	}
}
