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

// Package se drives the Security Engine (SE) of the Tegra X1, the
// dedicated AES and RSA accelerator holding boot key material in
// write-only keyslots.
//
// The engine runs one hardware operation at a time. Buffers are handed
// to it through linked list descriptors resident in DMA reachable
// memory, the operation register is the sole trigger, and completion is
// signalled through the interrupt status register. An Engine is safe
// for concurrent use; operations on the same engine serialize.
package se

import (
	"sync"

	"github.com/usbarmory/tamago/dma"

	"github.com/armored-tegra/bringup/mmio"
)

// SE registers
// (Security Engine, Tegra X1 TRM).
const (
	SE_BASE = 0x70012000

	SE_OPERATION   = 0x008
	SE_INT_ENABLE  = 0x00c
	SE_INT_STATUS  = 0x010
	SE_CONFIG      = 0x014
	SE_IN_LL_ADDR  = 0x018
	SE_OUT_LL_ADDR = 0x024

	SE_AES_KEY_READ_DISABLE = 0x280
	SE_AES_KEYSLOT_FLAGS    = 0x284

	SE_CRYPTO_CONFIG       = 0x304
	SE_CRYPTO_CTR          = 0x308
	SE_BLOCK_COUNT         = 0x318
	SE_AES_KEYTABLE_ADDR   = 0x31c
	SE_AES_KEYTABLE_DATA   = 0x320
	SE_CRYPTO_KEYTABLE_DST = 0x330

	SE_RSA_CONFIG           = 0x400
	SE_RSA_KEY_SIZE         = 0x404
	SE_RSA_EXP_SIZE         = 0x408
	SE_RSA_KEY_READ_DISABLE = 0x40c
	SE_RSA_KEYSLOT_FLAGS    = 0x410
	SE_RSA_KEYTABLE_ADDR    = 0x420
	SE_RSA_KEYTABLE_DATA    = 0x424

	SE_STATUS     = 0x800
	SE_ERR_STATUS = 0x804
)

// SE_OPERATION operation codes.
const (
	OP_ABORT      = 0
	OP_START      = 1
	OP_RESTART    = 2
	OP_CTX_SAVE   = 3
	OP_RESTART_IN = 4
)

// Engine limits.
const (
	// AESKeyslots is the number of AES keyslots.
	AESKeyslots = 16
	// RSAKeyslots is the number of RSA keyslots.
	RSAKeyslots = 2
	// MaxAESKeySize is the largest AES key the keytable holds, in bytes.
	MaxAESKeySize = 0x20
	// MaxRSAKeySize is the largest RSA modulus or exponent, in bytes.
	MaxRSAKeySize = 0x100
	// BlockSize is the AES block size in bytes.
	BlockSize = 16
)

// Keyslots with a fixed assignment, deposited by the boot ROM.
const (
	// SBKSlot holds the Secure Boot Key.
	SBKSlot = 14
	// SSKSlot holds the Secure Storage Key.
	SSKSlot = 15
)

// Engine drives one SE instance. The embedded mutex serializes keytable
// and operation access, as triggering an operation while another is in
// flight corrupts engine state.
type Engine struct {
	sync.Mutex

	// Regs is the SE register block.
	Regs mmio.Block

	// Memory provides the linked list descriptors and bounce buffers
	// backing engine DMA. Buffers handed to the hardware must live
	// here, at stable bus addresses, never in Go managed memory.
	Memory *dma.Region

	rsaModulusSizes  [RSAKeyslots]int
	rsaExponentSizes [RSAKeyslots]int
}

// ClearPendingInterrupts acknowledges all interrupt causes latched by
// earlier boot stages.
func (e *Engine) ClearPendingInterrupts() {
	e.Lock()
	defer e.Unlock()

	e.Regs.Write(SE_INT_STATUS, 0x1f)
}

// RSAKeySizes returns the modulus and exponent byte lengths last loaded
// in the keyslot. The hardware keytable cannot be read back, so the
// sizes are tracked at load time and are zero for never loaded slots.
func (e *Engine) RSAKeySizes(slot int) (modulus int, exponent int) {
	if slot < 0 || slot >= RSAKeyslots {
		panic("se: invalid RSA keyslot")
	}

	e.Lock()
	defer e.Unlock()

	return e.rsaModulusSizes[slot], e.rsaExponentSizes[slot]
}
