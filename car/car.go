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

// Package car drives the Tegra X1 Clock and Reset controller (CAR), which
// gates device clocks and module resets for the security engine bring-up
// chain.
package car

import (
	"github.com/usbarmory/tamago/bits"

	"github.com/armored-tegra/bringup/mmio"
)

// CAR registers
// (21.3 Clock and Reset Registers, Tegra X1 TRM).
const (
	CAR_BASE = 0x60006000

	RST_DEVICES_L = 0x004
	RST_DEVICES_H = 0x008
	RST_DEVICES_U = 0x00c
	CLK_OUT_ENB_L = 0x010
	CLK_OUT_ENB_H = 0x014
	CLK_OUT_ENB_U = 0x018

	CLK_SOURCE_HOST1X = 0x180
	CLK_SOURCE_TSEC   = 0x1f4

	CLK_OUT_ENB_X = 0x280
	RST_DEVICES_X = 0x28c
	CLK_OUT_ENB_Y = 0x298
	RST_DEVICES_Y = 0x2a4
	RST_DEVICES_V = 0x358
	RST_DEVICES_W = 0x35c
	CLK_OUT_ENB_V = 0x360
	CLK_OUT_ENB_W = 0x364

	CLK_SOURCE_SOR1 = 0x410
	CLK_SOURCE_SE   = 0x42c
)

// Device describes a single gated device: the registers holding its reset
// and clock enable bits and, for devices with a dedicated clock source
// register, the source selector and divisor programmed on enable.
type Device struct {
	ResetReg  uint32
	EnableReg uint32
	// SourceReg is 0 for devices without a clock source register.
	SourceReg uint32
	Index     uint32
	Source    uint32
	Divisor   uint32
}

// Devices of the security engine bring-up chain.
var (
	HOST1X = Device{
		ResetReg:  RST_DEVICES_L,
		EnableReg: CLK_OUT_ENB_L,
		SourceReg: CLK_SOURCE_HOST1X,
		Index:     28,
		Source:    4,
		Divisor:   3,
	}

	TSEC = Device{
		ResetReg:  RST_DEVICES_U,
		EnableReg: CLK_OUT_ENB_U,
		SourceReg: CLK_SOURCE_TSEC,
		Index:     19,
		Source:    0,
		Divisor:   2,
	}

	SORSafe = Device{
		ResetReg:  RST_DEVICES_Y,
		EnableReg: CLK_OUT_ENB_Y,
		Index:     30,
	}

	SOR0 = Device{
		ResetReg:  RST_DEVICES_X,
		EnableReg: CLK_OUT_ENB_X,
		Index:     22,
	}

	SOR1 = Device{
		ResetReg:  RST_DEVICES_X,
		EnableReg: CLK_OUT_ENB_X,
		SourceReg: CLK_SOURCE_SOR1,
		Index:     23,
		Source:    0,
		Divisor:   2,
	}

	KFUSE = Device{
		ResetReg:  RST_DEVICES_H,
		EnableReg: CLK_OUT_ENB_H,
		Index:     8,
	}

	SE = Device{
		ResetReg:  RST_DEVICES_V,
		EnableReg: CLK_OUT_ENB_V,
		SourceReg: CLK_SOURCE_SE,
		Index:     31,
		Source:    0,
		Divisor:   0,
	}
)

// Controller gates device clocks and resets. It is implemented by CAR and
// by test doubles standing in for it.
type Controller interface {
	Enable(d Device)
	Disable(d Device)
	Enabled(d Device) bool
}

// CAR implements Controller on the clock and reset controller register
// block.
type CAR struct {
	Regs mmio.Block
}

func (c *CAR) setReset(d Device, assert bool) {
	val := c.Regs.Read(d.ResetReg)

	if assert {
		bits.Set(&val, int(d.Index&0x1f))
	} else {
		bits.Clear(&val, int(d.Index&0x1f))
	}

	c.Regs.Write(d.ResetReg, val)
}

func (c *CAR) setEnable(d Device, enable bool) {
	val := c.Regs.Read(d.EnableReg)

	if enable {
		bits.Set(&val, int(d.Index&0x1f))
	} else {
		bits.Clear(&val, int(d.Index&0x1f))
	}

	c.Regs.Write(d.EnableReg, val)
}

// Enable brings up the device clock: the device is held in reset and its
// clock gated, the clock source register is programmed when the device
// has one, then the clock is ungated and the reset released.
func (c *CAR) Enable(d Device) {
	c.setReset(d, true)
	c.Disable(d)

	if d.SourceReg != 0 {
		c.Regs.Write(d.SourceReg, d.Divisor|d.Source<<29)
	}

	c.setEnable(d, true)
	c.setReset(d, false)
}

// Disable gates the device clock and holds the device in reset.
func (c *CAR) Disable(d Device) {
	c.setReset(d, true)
	c.setEnable(d, false)
}

// Enabled returns whether the device clock is ungated.
func (c *CAR) Enabled(d Device) bool {
	val := c.Regs.Read(d.EnableReg)
	return bits.IsSet(&val, int(d.Index&0x1f))
}
