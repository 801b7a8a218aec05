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

// Package mmio provides access to 32-bit memory mapped device registers
// through explicit block handles, so that drivers take their register
// windows as dependencies and tests can substitute a register model.
package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Block is a window of 32-bit device registers. Offsets are expressed in
// bytes from the start of the window and must be word aligned.
type Block interface {
	Read(off uint32) uint32
	Write(off uint32, val uint32)
}

// Device is a Block backed by memory mapped registers at an absolute
// physical address. Accesses are single 32-bit loads and stores, never
// merged or reordered against each other.
type Device struct {
	Base uintptr
}

// Read returns the value of the register at off.
func (d *Device) Read(off uint32) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(d.Base + uintptr(off))))
}

// Write sets the register at off to val.
func (d *Device) Write(off uint32, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(d.Base+uintptr(off))), val)
}
