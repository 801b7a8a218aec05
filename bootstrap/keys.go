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
	"crypto/sha256"
	_ "embed"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"

	"github.com/armored-tegra/bringup/se"
	"github.com/armored-tegra/bringup/tsec"
)

// Keyslot assignment of this payload. The boot ROM deposits the SBK and
// SSK in se.SBKSlot and se.SSKSlot.
const (
	// tsecKeyslot receives the derived TSEC key.
	tsecKeyslot = 13
	// configKeyslot receives the configuration authentication key.
	configKeyslot = 12
	// storageKeyslot receives the unwrapped storage key.
	storageKeyslot = 11
)

const (
	diversifierConfig = "ArmoredTegraCFG0"
	iter              = 4096
)

// scratchKeyslots are used by earlier boot stages and are cleared before
// the root keys are locked.
var scratchKeyslots = []int{0, 1, 2, 3}

// wrappedStorageKey is the device storage key, wrapped with the SBK at
// provisioning time and embedded at build time (see Makefile).
//
//go:embed assets/storage_key.wrap
var wrappedStorageKey []byte

// deriveAndInstallKeys runs the TSEC handshake and seals the resulting
// key material into SE keyslots, then locks the hardware root keys.
func deriveAndInstallKeys(engine *se.Engine, coproc *tsec.TSEC) (err error) {
	key, err := coproc.GetKey(keyRevision, tsecFW)

	if err != nil {
		return
	}

	buf := make([]byte, se.BlockSize)

	for i, word := range key {
		binary.LittleEndian.PutUint32(buf[4*i:], word)
		key[i] = 0
	}

	engine.SetAESKeyslot(tsecKeyslot, buf)
	engine.SetAESKeyslotIV(tsecKeyslot, make([]byte, se.BlockSize))

	// Stretch the TSEC key into the configuration authentication key
	// and seal it alongside.
	ck := pbkdf2.Key(buf, []byte(diversifierConfig), iter, sha256.Size, sha256.New)
	engine.SetAESKeyslot(configKeyslot, ck)

	for i := range ck {
		ck[i] = 0
	}

	for i := range buf {
		buf[i] = 0
	}

	// Unwrap the storage key from slot to slot, the plaintext never
	// leaves the engine.
	engine.DecryptDataIntoKeyslot(storageKeyslot, se.SBKSlot, wrappedStorageKey)

	engine.SetAESKeyslotFlags(tsecKeyslot, se.FlagReadDisable)
	engine.SetAESKeyslotFlags(configKeyslot, se.FlagReadDisable)
	engine.SetAESKeyslotFlags(storageKeyslot, se.FlagReadDisable)

	for _, slot := range scratchKeyslots {
		engine.ClearAESKeyslot(slot)
	}

	engine.LockSBK()
	engine.LockSSK()

	return
}
