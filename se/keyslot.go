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

package se

import (
	"encoding/binary"

	"github.com/usbarmory/tamago/bits"
)

// Keyslot flag bits accepted by SetAESKeyslotFlags and
// SetRSAKeyslotFlags.
const (
	// FlagKeyUseDisable blocks use of the slot key material.
	FlagKeyUseDisable = 1 << 0
	// FlagIVUpdatedDisable blocks updated IV use.
	FlagIVUpdatedDisable = 1 << 1
	// FlagIVOriginalDisable blocks original IV use.
	FlagIVOriginalDisable = 1 << 2
	// FlagDKGDisable blocks device key generation from the slot.
	FlagDKGDisable = 1 << 4
	// FlagReadDisable blocks keytable reads of the slot until the next
	// hardware reset.
	FlagReadDisable = 1 << 7
)

// lockdownFlags is the keyslot flags value asserted on the SBK and SSK
// slots once derivation completes: every keytable access path other
// than in-engine key use is disabled.
const lockdownFlags = 0x7e

// aesKeytableAddr returns the SE_AES_KEYTABLE_ADDR selector for word i
// of the slot key area, or of its IV area when iv is set.
func aesKeytableAddr(slot int, iv bool, i int) uint32 {
	addr := uint32(slot)<<4 | uint32(i)

	if iv {
		addr |= 8
	}

	return addr
}

// SetAESKeyslot loads key material into an AES keyslot as little-endian
// words. Keys of 16, 24 or 32 bytes are meaningful to the engine; only
// len(key)/4 keytable words are written.
func (e *Engine) SetAESKeyslot(slot int, key []byte) {
	if slot < 0 || slot >= AESKeyslots || len(key) > MaxAESKeySize {
		panic("se: invalid AES keyslot or key size")
	}

	e.Lock()
	defer e.Unlock()

	for i := 0; i < len(key)/4; i++ {
		e.Regs.Write(SE_AES_KEYTABLE_ADDR, aesKeytableAddr(slot, false, i))
		e.Regs.Write(SE_AES_KEYTABLE_DATA, binary.LittleEndian.Uint32(key[4*i:]))
	}
}

// SetAESKeyslotIV loads an IV into an AES keyslot as little-endian
// words. Only len(iv)/4 keytable words are written.
func (e *Engine) SetAESKeyslotIV(slot int, iv []byte) {
	if slot < 0 || slot >= AESKeyslots || len(iv) > BlockSize {
		panic("se: invalid AES keyslot or IV size")
	}

	e.Lock()
	defer e.Unlock()

	for i := 0; i < len(iv)/4; i++ {
		e.Regs.Write(SE_AES_KEYTABLE_ADDR, aesKeytableAddr(slot, true, i))
		e.Regs.Write(SE_AES_KEYTABLE_DATA, binary.LittleEndian.Uint32(iv[4*i:]))
	}
}

// ClearAESKeyslot zeroes the whole keytable area of the slot, all 16 key
// words and the 4 IV words, returning it to the empty state. Slots must
// be cleared before reuse for an unrelated secret and before the root
// key slots are locked.
func (e *Engine) ClearAESKeyslot(slot int) {
	if slot < 0 || slot >= AESKeyslots {
		panic("se: invalid AES keyslot")
	}

	e.Lock()
	defer e.Unlock()

	for i := 0; i < 16; i++ {
		e.Regs.Write(SE_AES_KEYTABLE_ADDR, aesKeytableAddr(slot, false, i))
		e.Regs.Write(SE_AES_KEYTABLE_DATA, 0)
	}

	e.clearAESKeyslotIV(slot)
}

// ClearAESKeyslotIV zeroes the 4 IV words of the slot.
func (e *Engine) ClearAESKeyslotIV(slot int) {
	if slot < 0 || slot >= AESKeyslots {
		panic("se: invalid AES keyslot")
	}

	e.Lock()
	defer e.Unlock()

	e.clearAESKeyslotIV(slot)
}

func (e *Engine) clearAESKeyslotIV(slot int) {
	for i := 0; i < 4; i++ {
		e.Regs.Write(SE_AES_KEYTABLE_ADDR, aesKeytableAddr(slot, true, i))
		e.Regs.Write(SE_AES_KEYTABLE_DATA, 0)
	}
}

// SetAESKeyslotFlags applies access restriction flags to an AES keyslot.
// FlagReadDisable additionally clears the slot bit in the global read
// disable register, which stays cleared until hardware reset.
func (e *Engine) SetAESKeyslotFlags(slot int, flags uint32) {
	if slot < 0 || slot >= AESKeyslots {
		panic("se: invalid AES keyslot")
	}

	e.Lock()
	defer e.Unlock()

	if flags&^uint32(FlagReadDisable) != 0 {
		e.Regs.Write(SE_AES_KEYSLOT_FLAGS+4*uint32(slot), flags)
	}

	if flags&FlagReadDisable != 0 {
		val := e.Regs.Read(SE_AES_KEY_READ_DISABLE)
		bits.Clear(&val, slot)
		e.Regs.Write(SE_AES_KEY_READ_DISABLE, val)
	}
}

// SetRSAKeyslotFlags applies access restriction flags to an RSA keyslot.
// The per slot register uses an active low permission encoding, the
// flags argument uses the AES convention.
func (e *Engine) SetRSAKeyslotFlags(slot int, flags uint32) {
	if slot < 0 || slot >= RSAKeyslots {
		panic("se: invalid RSA keyslot")
	}

	e.Lock()
	defer e.Unlock()

	if flags&^uint32(FlagReadDisable) != 0 {
		e.Regs.Write(SE_RSA_KEYSLOT_FLAGS+4*uint32(slot), ((flags>>4)&4|flags&3)^7)
	}

	if flags&FlagReadDisable != 0 {
		val := e.Regs.Read(SE_RSA_KEY_READ_DISABLE)
		bits.Clear(&val, slot)
		e.Regs.Write(SE_RSA_KEY_READ_DISABLE, val)
	}
}

// LockSBK permanently blocks keytable access to the Secure Boot Key
// slot. There is no undo until hardware reset, so this must come after
// every derivation needing the SBK has completed.
func (e *Engine) LockSBK() {
	e.Lock()
	defer e.Unlock()

	e.Regs.Write(SE_AES_KEYSLOT_FLAGS+4*SBKSlot, lockdownFlags)
}

// LockSSK permanently blocks keytable access to the Secure Storage Key
// slot.
func (e *Engine) LockSSK() {
	e.Lock()
	defer e.Unlock()

	e.Regs.Write(SE_AES_KEYSLOT_FLAGS+4*SSKSlot, lockdownFlags)
}

// SetRSAKeyslot loads an RSA key into a keyslot, modulus then exponent,
// least significant word first as the keytable expects. The byte
// lengths are cached for RSAKeySizes.
func (e *Engine) SetRSAKeyslot(slot int, modulus []byte, exponent []byte) {
	if slot < 0 || slot >= RSAKeyslots ||
		len(modulus) > MaxRSAKeySize || len(exponent) > MaxRSAKeySize {
		panic("se: invalid RSA keyslot or key size")
	}

	e.Lock()
	defer e.Unlock()

	for i := 0; i < len(modulus)/4; i++ {
		e.Regs.Write(SE_RSA_KEYTABLE_ADDR, uint32(slot)<<7|0x40|uint32(i))
		e.Regs.Write(SE_RSA_KEYTABLE_DATA, binary.BigEndian.Uint32(modulus[4*(len(modulus)/4)-4*i-4:]))
	}

	for i := 0; i < len(exponent)/4; i++ {
		e.Regs.Write(SE_RSA_KEYTABLE_ADDR, uint32(slot)<<7|uint32(i))
		e.Regs.Write(SE_RSA_KEYTABLE_DATA, binary.BigEndian.Uint32(exponent[4*(len(exponent)/4)-4*i-4:]))
	}

	e.rsaModulusSizes[slot] = len(modulus)
	e.rsaExponentSizes[slot] = len(exponent)
}

// ClearRSAKeyslot zeroes both keytable areas of an RSA keyslot and its
// cached sizes.
func (e *Engine) ClearRSAKeyslot(slot int) {
	if slot < 0 || slot >= RSAKeyslots {
		panic("se: invalid RSA keyslot")
	}

	e.Lock()
	defer e.Unlock()

	for i := 0; i < MaxRSAKeySize/4; i++ {
		e.Regs.Write(SE_RSA_KEYTABLE_ADDR, uint32(slot)<<7|0x40|uint32(i))
		e.Regs.Write(SE_RSA_KEYTABLE_DATA, 0)
	}

	for i := 0; i < MaxRSAKeySize/4; i++ {
		e.Regs.Write(SE_RSA_KEYTABLE_ADDR, uint32(slot)<<7|uint32(i))
		e.Regs.Write(SE_RSA_KEYTABLE_DATA, 0)
	}

	e.rsaModulusSizes[slot] = 0
	e.rsaExponentSizes[slot] = 0
}

// SetCTR loads the 16 byte counter used by AES counter mode operations.
func (e *Engine) SetCTR(ctr []byte) {
	if len(ctr) != BlockSize {
		panic("se: counter must be one AES block")
	}

	e.Lock()
	defer e.Unlock()

	for i := 0; i < 4; i++ {
		e.Regs.Write(SE_CRYPTO_CTR+4*uint32(i), binary.LittleEndian.Uint32(ctr[4*i:]))
	}
}
