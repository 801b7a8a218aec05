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

// Package testonly provides hardware stand-ins for driver tests: a
// scripted register file, a stepping time source and a DMA region laid
// over ordinary memory.
package testonly

import (
	"testing"
	"unsafe"

	"github.com/usbarmory/tamago/dma"
)

// Write is one recorded register write.
type Write struct {
	Off uint32
	Val uint32
}

// Regs is an in-memory register file. Reads return the last written or
// primed value, writes are recorded in order, and the OnRead and OnWrite
// hooks let a test script hardware behavior such as status bits that
// appear after a number of polls or mailbox responses.
type Regs struct {
	vals  map[uint32]uint32
	reads map[uint32]int

	// Writes holds every write issued to the register file, in order.
	Writes []Write

	// OnRead, when set, runs before the value for off is fetched.
	OnRead func(off uint32)

	// OnWrite, when set, runs after the write has been recorded.
	OnWrite func(off uint32, val uint32)
}

// NewRegs returns an empty register file.
func NewRegs() *Regs {
	return &Regs{
		vals:  make(map[uint32]uint32),
		reads: make(map[uint32]int),
	}
}

// Read returns the current value of the register at off.
func (r *Regs) Read(off uint32) uint32 {
	if r.OnRead != nil {
		r.OnRead(off)
	}

	r.reads[off]++

	return r.vals[off]
}

// Write records a write to the register at off and updates its value.
func (r *Regs) Write(off uint32, val uint32) {
	r.Writes = append(r.Writes, Write{Off: off, Val: val})
	r.vals[off] = val

	if r.OnWrite != nil {
		r.OnWrite(off, val)
	}
}

// Set primes a register value without recording a write.
func (r *Regs) Set(off uint32, val uint32) {
	r.vals[off] = val
}

// Get returns the current register value without counting a read.
func (r *Regs) Get(off uint32) uint32 {
	return r.vals[off]
}

// Reads returns how many times the register at off has been read.
func (r *Regs) Reads(off uint32) int {
	return r.reads[off]
}

// WritesTo returns the values written to the register at off, in order.
func (r *Regs) WritesTo(off uint32) (vals []uint32) {
	for _, w := range r.Writes {
		if w.Off == off {
			vals = append(vals, w.Val)
		}
	}

	return
}

// Ticker is a time source whose counters advance by a fixed step each
// read, letting timeout paths run without wall-clock delays.
type Ticker struct {
	MS     uint32
	US     uint32
	StepMS uint32
	StepUS uint32
}

// Millis returns the millisecond counter and steps it.
func (t *Ticker) Millis() uint32 {
	v := t.MS
	t.MS += t.StepMS
	return v
}

// Micros returns the microsecond counter and steps it.
func (t *Ticker) Micros() uint32 {
	v := t.US
	t.US += t.StepUS
	return v
}

// Region returns a DMA region laid over an ordinary allocation, along
// with the backing buffer and its base address, so tests can inspect
// what drivers stage at bus addresses.
func Region(t *testing.T, size int) (r *dma.Region, buf []byte, base uint) {
	t.Helper()

	var err error

	buf = make([]byte, size)
	base = uint(uintptr(unsafe.Pointer(&buf[0])))

	if r, err = dma.NewRegion(base, size, false); err != nil {
		t.Fatal(err)
	}

	return
}
