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
	"fmt"
	"runtime"
)

// SE_INT_STATUS bits.
const (
	INT_SE_OP_DONE = 1 << 4
	INT_ERR_STAT   = 1 << 16
)

// llSize is the size of a single entry linked list descriptor: the entry
// count minus one, the buffer bus address and the buffer size.
const llSize = 12

// stageLL reserves DMA memory holding a single entry linked list
// descriptor immediately followed by its buffer, with buf staged into
// the buffer. The caller releases addr once the operation completes.
func (e *Engine) stageLL(buf []byte, size int) (addr uint, ll []byte) {
	addr, ll = e.Memory.Reserve(llSize+size, 4)

	binary.LittleEndian.PutUint32(ll[0:], 0)
	binary.LittleEndian.PutUint32(ll[4:], uint32(addr)+llSize)
	binary.LittleEndian.PutUint32(ll[8:], uint32(size))

	copy(ll[llSize:], buf)

	return
}

// trigger runs a single engine operation to completion, with src staged
// into the input buffer and the output buffer copied back to dst. The
// completion wait has no timeout as the engine posts SE_OP_DONE for
// failed operations too; a hang here means the engine itself is gone.
// Callers must hold the engine mutex.
func (e *Engine) trigger(op uint32, dst []byte, src []byte) {
	inAddr, _ := e.stageLL(src, len(src))
	defer e.Memory.Release(inAddr)

	outAddr, outLL := e.stageLL(nil, len(dst))
	defer e.Memory.Release(outAddr)

	e.Regs.Write(SE_IN_LL_ADDR, uint32(inAddr))
	e.Regs.Write(SE_OUT_LL_ADDR, uint32(outAddr))

	// Acknowledge stale error and interrupt state before triggering.
	e.Regs.Write(SE_ERR_STATUS, e.Regs.Read(SE_ERR_STATUS))
	e.Regs.Write(SE_INT_STATUS, e.Regs.Read(SE_INT_STATUS))

	e.Regs.Write(SE_OPERATION, op)

	for e.Regs.Read(SE_INT_STATUS)&INT_SE_OP_DONE == 0 {
		runtime.Gosched()
	}

	e.checkForError()

	copy(dst, outLL[llSize:])
}

// checkForError validates engine state after an operation: a pending
// error status, a busy engine or an error interrupt all leave key
// material in an unknown state and panic.
func (e *Engine) checkForError() {
	if status := e.Regs.Read(SE_ERR_STATUS); status != 0 {
		panic(fmt.Sprintf("se: error status %#x", status))
	}

	if status := e.Regs.Read(SE_STATUS); status&3 != 0 {
		panic(fmt.Sprintf("se: engine busy, status %#x", status))
	}

	if irq := e.Regs.Read(SE_INT_STATUS); irq&INT_ERR_STAT != 0 {
		panic(fmt.Sprintf("se: error interrupt %#x", irq))
	}
}

// AESBlockOperation runs a single block through the engine under its
// current configuration. src is zero padded into one block and the full
// block result is copied back into dst; either may be shorter than a
// block, never longer.
func (e *Engine) AESBlockOperation(dst []byte, src []byte) {
	if len(src) > BlockSize || len(dst) > BlockSize {
		panic("se: block operation exceeds one AES block")
	}

	var block [BlockSize]byte
	copy(block[:], src)

	e.Lock()
	defer e.Unlock()

	e.Regs.Write(SE_BLOCK_COUNT, 0)
	e.trigger(OP_START, block[:], block[:])

	copy(dst, block[:])
}

// DecryptDataIntoKeyslot unwraps key material held in the src keyslot
// encrypted form directly into the dst keyslot. The engine decrypts
// with the keytable as destination, so the unwrapped key never reaches
// general purpose memory.
func (e *Engine) DecryptDataIntoKeyslot(dst int, src int, wrapped []byte) {
	if dst < 0 || dst >= AESKeyslots || src < 0 || src >= AESKeyslots ||
		len(wrapped) > MaxAESKeySize {
		panic("se: invalid keyslot or wrapped key size")
	}

	e.Lock()
	defer e.Unlock()

	// AES decrypt, keytable destination.
	e.Regs.Write(SE_CONFIG, 0x108)
	e.Regs.Write(SE_CRYPTO_CONFIG, uint32(src)<<24)
	e.Regs.Write(SE_BLOCK_COUNT, 0)
	e.Regs.Write(SE_CRYPTO_KEYTABLE_DST, uint32(dst)<<8)

	e.trigger(OP_START, nil, wrapped)
}
