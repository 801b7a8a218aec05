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

package main

import (
	_ "unsafe"

	"github.com/usbarmory/tamago/dma"
)

// The payload owns the upper 192KB of on-chip RAM, the boot stage below
// it is not touched.
const (
	// Payload
	payloadStart = 0x40010000
	payloadSize  = 0x00020000 // 128KB

	// Default DMA
	dmaStart = 0x40030000
	dmaSize  = 0x00004000 // 16KB

	// Security Engine descriptors and bounce buffers
	seDMAStart = 0x40034000
	seDMASize  = 0x00006000 // 24KB

	// TSEC firmware staging
	tsecDMAStart = 0x4003a000
	tsecDMASize  = 0x00006000 // 24KB
)

//go:linkname ramStart runtime.ramStart
var ramStart uint32 = payloadStart

//go:linkname ramSize runtime.ramSize
var ramSize uint32 = payloadSize

var (
	seRegion   *dma.Region
	tsecRegion *dma.Region
)

func init() {
	seRegion, _ = dma.NewRegion(seDMAStart, seDMASize, false)
	tsecRegion, _ = dma.NewRegion(tsecDMAStart, tsecDMASize, false)

	dma.Init(dmaStart, dmaSize)
}
