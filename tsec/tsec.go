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

// Package tsec drives the TSEC, the Falcon microprocessor based security
// co-processor of the Tegra X1. It loads authenticated microcode over
// the Falcon DMA engine and runs the key derivation handshake yielding
// the 128-bit TSEC key.
package tsec

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/usbarmory/tamago/dma"
	"k8s.io/klog/v2"

	"github.com/armored-tegra/bringup/car"
	"github.com/armored-tegra/bringup/mmio"
	"github.com/armored-tegra/bringup/timer"
)

// Register block bases.
const (
	TSEC_BASE   = 0x54500000
	SOR1_BASE   = 0x54580000
	HOST1X_BASE = 0x50000000
)

// Falcon registers
// (offsets within the TSEC block).
const (
	FALCON_IRQMSET      = 0x1010
	FALCON_IRQDEST      = 0x101c
	FALCON_MAILBOX0     = 0x1040
	FALCON_MAILBOX1     = 0x1044
	FALCON_ITFEN        = 0x1048
	FALCON_CPUCTL       = 0x1100
	FALCON_BOOTVEC      = 0x1104
	FALCON_DMACTL       = 0x110c
	FALCON_DMATRFBASE   = 0x1110
	FALCON_DMATRFMOFFS  = 0x1114
	FALCON_DMATRFCMD    = 0x1118
	FALCON_DMATRFFBOFFS = 0x111c
)

// FALCON_DMATRFCMD bits.
const (
	DMATRFCMD_IDLE = 1 << 1
	DMATRFCMD_IMEM = 0x10
	DMATRFCMD_DMEM = 0x600
)

// SOR1 HDCP registers carrying the derived key out of the firmware.
const (
	SOR_DP_HDCP_BKSV_LSB   = 0x1e8
	SOR_TMDS_HDCP_BKSV_LSB = 0x21c
	SOR_TMDS_HDCP_CN_MSB   = 0x208
	SOR_TMDS_HDCP_CN_LSB   = 0x20c
)

// HOST1X channel sync point scratch word used as the firmware go signal.
const HOST1X_CH0_SYNC_SYNCPT_160 = 0x3300

const (
	// dmaChunk is the transfer granularity of the Falcon DMA engine.
	dmaChunk = 0x100

	// dmaTimeout bounds DMAWaitIdle, in milliseconds.
	dmaTimeout = 10000

	// keyTimeout bounds the firmware handshake wait, in milliseconds.
	keyTimeout = 2000

	// bootSignal is posted to the HOST1X scratch word before CPU start.
	bootSignal = 0x34c2e1da

	// handshakeValue is the mailbox value a healthy firmware reports.
	handshakeValue = 0xb0b0b0b0
)

// Loader and derivation errors. Timeouts and handshake mismatches are
// recoverable, the caller finds the clock chain gated again and may
// retry after a reset.
var (
	ErrDMATimeout     = errors.New("timeout waiting for Falcon DMA idle")
	ErrMailboxTimeout = errors.New("timeout waiting for firmware handshake")
)

// HandshakeError reports an unexpected firmware handshake value.
type HandshakeError struct {
	Mailbox uint32
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("unexpected firmware handshake %#x", e.Mailbox)
}

// clockChain lists the devices brought up for a derivation, in order.
var clockChain = [...]car.Device{
	car.HOST1X,
	car.TSEC,
	car.SORSafe,
	car.SOR0,
	car.SOR1,
	car.KFUSE,
}

// TSEC drives the security co-processor. All register blocks are owned
// exclusively for the duration of a call; the embedded mutex serializes
// loads and derivations.
type TSEC struct {
	sync.Mutex

	// Regs is the TSEC register block.
	Regs mmio.Block

	// SOR1 is the display block whose HDCP registers receive the
	// derived key from the firmware.
	SOR1 mmio.Block

	// HOST1X is the host interface block holding the scratch word of
	// the firmware handshake.
	HOST1X mmio.Block

	// Clocks gates the derivation clock chain.
	Clocks car.Controller

	// Timer bounds the DMA and handshake waits.
	Timer timer.Source

	// LoadMemory stages firmware images for the Falcon DMA engine,
	// which addresses memory in 256 byte units.
	LoadMemory *dma.Region
}

// EnableClocks brings up the derivation clock chain.
func (t *TSEC) EnableClocks() {
	for _, d := range clockChain {
		t.Clocks.Enable(d)
	}
}

// DisableClocks gates the derivation clock chain.
func (t *TSEC) DisableClocks() {
	for _, d := range clockChain {
		t.Clocks.Disable(d)
	}
}

// configure resets Falcon DMA control, unmasks and routes the falcon
// interrupts and enables the host interfaces, as required before any
// Falcon DMA.
func (t *TSEC) configure() {
	t.Regs.Write(FALCON_DMACTL, 0)
	t.Regs.Write(FALCON_IRQMSET, 0xfff2)
	t.Regs.Write(FALCON_IRQDEST, 0xfff0)
	t.Regs.Write(FALCON_ITFEN, 3)
}

// DMAWaitIdle waits for the Falcon DMA engine to go idle.
func (t *TSEC) DMAWaitIdle() error {
	deadline := t.Timer.Millis() + dmaTimeout

	for t.Regs.Read(FALCON_DMATRFCMD)&DMATRFCMD_IDLE == 0 {
		if t.Timer.Millis() > deadline {
			return ErrDMATimeout
		}

		runtime.Gosched()
	}

	return nil
}

// dmaToFalcon issues a single 256 byte transfer from staged memory into
// Falcon IMEM, or DMEM when imem is false, waiting for the engine to
// drain.
func (t *TSEC) dmaToFalcon(imem bool, flcnOffset uint32, physOffset uint32) error {
	cmd := uint32(DMATRFCMD_DMEM)

	if imem {
		cmd = DMATRFCMD_IMEM
	}

	t.Regs.Write(FALCON_DMATRFMOFFS, flcnOffset)
	t.Regs.Write(FALCON_DMATRFFBOFFS, physOffset)
	t.Regs.Write(FALCON_DMATRFCMD, cmd)

	return t.DMAWaitIdle()
}

// LoadFirmware copies a firmware image into Falcon IMEM. On error the
// partial transfer is not rolled back and the CPU must not be started.
func (t *TSEC) LoadFirmware(fw []byte) error {
	t.Lock()
	defer t.Unlock()

	return t.loadFirmware(fw)
}

func (t *TSEC) loadFirmware(fw []byte) (err error) {
	t.configure()

	if err = t.DMAWaitIdle(); err != nil {
		return
	}

	// The DMA engine sees memory in 256 byte units, the staging buffer
	// is padded accordingly.
	size := (len(fw) + dmaChunk - 1) &^ (dmaChunk - 1)

	if size == 0 {
		size = dmaChunk
	}

	addr, buf := t.LoadMemory.Reserve(size, dmaChunk)
	defer t.LoadMemory.Release(addr)

	copy(buf, fw)
	clear(buf[len(fw):])

	t.Regs.Write(FALCON_DMATRFBASE, uint32(addr>>8))

	for off := 0; off < len(fw); off += dmaChunk {
		if err = t.dmaToFalcon(true, uint32(off), uint32(off)); err != nil {
			return
		}
	}

	klog.V(2).Infof("loaded %d byte firmware into Falcon IMEM", len(fw))

	return
}

// ExecuteFirmware starts loaded firmware: the go signal is posted to the
// HOST1X scratch word, the key revision is passed through mailbox 0 and
// the Falcon CPU is released at boot vector 0. Callers running firmware
// outside the derivation handshake pass revision 0.
func (t *TSEC) ExecuteFirmware(rev uint32) {
	t.Lock()
	defer t.Unlock()

	t.executeFirmware(rev)
}

func (t *TSEC) executeFirmware(rev uint32) {
	t.HOST1X.Write(HOST1X_CH0_SYNC_SYNCPT_160, bootSignal)

	t.Regs.Write(FALCON_MAILBOX1, 0)
	t.Regs.Write(FALCON_MAILBOX0, rev)
	t.Regs.Write(FALCON_BOOTVEC, 0)
	t.Regs.Write(FALCON_CPUCTL, 2)
}

// GetKey runs a full derivation: clock chain up, firmware loaded and
// started with the given key revision, handshake awaited, key harvested
// from the SOR1 HDCP registers. The key source registers are zeroed
// right after the read. On success the clock chain stays up and the
// firmware keeps running; every failure path gates the chain again.
func (t *TSEC) GetKey(rev uint32, fw []byte) (key [4]uint32, err error) {
	t.Lock()
	defer t.Unlock()

	t.EnableClocks()
	t.configure()

	if err = t.DMAWaitIdle(); err != nil {
		t.DisableClocks()
		return
	}

	if err = t.loadFirmware(fw); err != nil {
		t.DisableClocks()
		return
	}

	t.executeFirmware(rev)

	if err = t.DMAWaitIdle(); err != nil {
		t.DisableClocks()
		return
	}

	deadline := t.Timer.Millis() + keyTimeout

	for t.Regs.Read(FALCON_MAILBOX1) == 0 {
		if t.Timer.Millis() > deadline {
			t.DisableClocks()
			err = ErrMailboxTimeout
			return
		}

		runtime.Gosched()
	}

	if v := t.Regs.Read(FALCON_MAILBOX1); v != handshakeValue {
		t.DisableClocks()
		err = &HandshakeError{Mailbox: v}
		return
	}

	t.HOST1X.Write(HOST1X_CH0_SYNC_SYNCPT_160, 0)

	key[0] = t.SOR1.Read(SOR_DP_HDCP_BKSV_LSB)
	key[1] = t.SOR1.Read(SOR_TMDS_HDCP_BKSV_LSB)
	key[2] = t.SOR1.Read(SOR_TMDS_HDCP_CN_MSB)
	key[3] = t.SOR1.Read(SOR_TMDS_HDCP_CN_LSB)

	// The firmware leaves the key readable here, zero it without delay.
	t.SOR1.Write(SOR_DP_HDCP_BKSV_LSB, 0)
	t.SOR1.Write(SOR_TMDS_HDCP_BKSV_LSB, 0)
	t.SOR1.Write(SOR_TMDS_HDCP_CN_MSB, 0)
	t.SOR1.Write(SOR_TMDS_HDCP_CN_LSB, 0)

	klog.V(2).Infof("firmware handshake complete, key revision %d", rev)

	return
}
