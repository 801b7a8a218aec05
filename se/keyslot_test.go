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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/armored-tegra/bringup/internal/testonly"
)

func newTestEngine(t *testing.T) (*Engine, *testonly.Regs, []byte, uint) {
	t.Helper()

	regs := testonly.NewRegs()
	mem, buf, base := testonly.Region(t, 0x1000)

	e := &Engine{
		Regs:   regs,
		Memory: mem,
	}

	return e, regs, buf, base
}

func mustPanic(t *testing.T, f func()) {
	t.Helper()

	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic")
		}
	}()

	f()
}

func keytableWrites(addrs []uint32, data []uint32) (w []testonly.Write) {
	for i := range addrs {
		w = append(w,
			testonly.Write{Off: SE_AES_KEYTABLE_ADDR, Val: addrs[i]},
			testonly.Write{Off: SE_AES_KEYTABLE_DATA, Val: data[i]},
		)
	}

	return
}

func TestSetAESKeyslot(t *testing.T) {
	key := make([]byte, MaxAESKeySize)

	for i := range key {
		key[i] = byte(i)
	}

	for _, test := range []struct {
		name string
		slot int
		size int
	}{
		{
			name: "aes128",
			slot: 5,
			size: 16,
		}, {
			name: "aes192",
			slot: 0,
			size: 24,
		}, {
			name: "aes256",
			slot: 15,
			size: 32,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			e, regs, _, _ := newTestEngine(t)

			e.SetAESKeyslot(test.slot, key[:test.size])

			var addrs, data []uint32

			for i := 0; i < test.size/4; i++ {
				addrs = append(addrs, uint32(test.slot)<<4|uint32(i))
				data = append(data, binary.LittleEndian.Uint32(key[4*i:]))
			}

			if diff := cmp.Diff(regs.Writes, keytableWrites(addrs, data)); diff != "" {
				t.Fatalf("Got write diff: %s", diff)
			}
		})
	}
}

func TestSetAESKeyslotIV(t *testing.T) {
	iv := []byte{
		0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07,
		0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f,
	}

	e, regs, _, _ := newTestEngine(t)

	e.SetAESKeyslotIV(9, iv)

	addrs := []uint32{
		9<<4 | 8,
		9<<4 | 8 | 1,
		9<<4 | 8 | 2,
		9<<4 | 8 | 3,
	}

	data := []uint32{0x03020100, 0x07060504, 0x0b0a0908, 0x0f0e0d0c}

	if diff := cmp.Diff(regs.Writes, keytableWrites(addrs, data)); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestClearAESKeyslot(t *testing.T) {
	e, regs, _, _ := newTestEngine(t)

	e.ClearAESKeyslot(7)

	var addrs, data []uint32

	for i := 0; i < 16; i++ {
		addrs = append(addrs, 7<<4|uint32(i))
		data = append(data, 0)
	}

	for i := 0; i < 4; i++ {
		addrs = append(addrs, 7<<4|8|uint32(i))
		data = append(data, 0)
	}

	if diff := cmp.Diff(regs.Writes, keytableWrites(addrs, data)); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestClearAESKeyslotIV(t *testing.T) {
	e, regs, _, _ := newTestEngine(t)

	e.ClearAESKeyslotIV(2)

	addrs := []uint32{
		2<<4 | 8,
		2<<4 | 8 | 1,
		2<<4 | 8 | 2,
		2<<4 | 8 | 3,
	}

	if diff := cmp.Diff(regs.Writes, keytableWrites(addrs, make([]uint32, 4))); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestSetAESKeyslotFlags(t *testing.T) {
	for _, test := range []struct {
		name  string
		slot  int
		flags uint32
		prime uint32
		want  []testonly.Write
	}{
		{
			name:  "read disable only",
			slot:  3,
			flags: FlagReadDisable,
			prime: 0xffff,
			want: []testonly.Write{
				{Off: SE_AES_KEY_READ_DISABLE, Val: 0xffff &^ (1 << 3)},
			},
		}, {
			name:  "misc flags only",
			slot:  3,
			flags: 0x7e,
			want: []testonly.Write{
				{Off: SE_AES_KEYSLOT_FLAGS + 4*3, Val: 0x7e},
			},
		}, {
			name:  "misc flags and read disable",
			slot:  14,
			flags: 0xfe,
			prime: 0xffff,
			want: []testonly.Write{
				{Off: SE_AES_KEYSLOT_FLAGS + 4*14, Val: 0xfe},
				{Off: SE_AES_KEY_READ_DISABLE, Val: 0xffff &^ (1 << 14)},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			e, regs, _, _ := newTestEngine(t)
			regs.Set(SE_AES_KEY_READ_DISABLE, test.prime)

			e.SetAESKeyslotFlags(test.slot, test.flags)

			if diff := cmp.Diff(regs.Writes, test.want); diff != "" {
				t.Fatalf("Got write diff: %s", diff)
			}
		})
	}
}

func TestSetRSAKeyslotFlags(t *testing.T) {
	for _, test := range []struct {
		name  string
		slot  int
		flags uint32
		prime uint32
		want  []testonly.Write
	}{
		{
			// 0x7e encodes to 1 under the active low permission scheme.
			name:  "misc flags only",
			slot:  1,
			flags: 0x7e,
			want: []testonly.Write{
				{Off: SE_RSA_KEYSLOT_FLAGS + 4*1, Val: 1},
			},
		}, {
			name:  "read disable only",
			slot:  0,
			flags: FlagReadDisable,
			prime: 3,
			want: []testonly.Write{
				{Off: SE_RSA_KEY_READ_DISABLE, Val: 2},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			e, regs, _, _ := newTestEngine(t)
			regs.Set(SE_RSA_KEY_READ_DISABLE, test.prime)

			e.SetRSAKeyslotFlags(test.slot, test.flags)

			if diff := cmp.Diff(regs.Writes, test.want); diff != "" {
				t.Fatalf("Got write diff: %s", diff)
			}
		})
	}
}

func TestLockSBK(t *testing.T) {
	e, regs, _, _ := newTestEngine(t)

	e.LockSBK()

	want := []testonly.Write{
		{Off: SE_AES_KEYSLOT_FLAGS + 4*SBKSlot, Val: lockdownFlags},
	}

	if diff := cmp.Diff(regs.Writes, want); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestLockSSK(t *testing.T) {
	e, regs, _, _ := newTestEngine(t)

	e.LockSSK()

	want := []testonly.Write{
		{Off: SE_AES_KEYSLOT_FLAGS + 4*SSKSlot, Val: lockdownFlags},
	}

	if diff := cmp.Diff(regs.Writes, want); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestSetRSAKeyslot(t *testing.T) {
	modulus := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	exponent := []byte{0xde, 0xad, 0xbe, 0xef}

	e, regs, _, _ := newTestEngine(t)

	e.SetRSAKeyslot(1, modulus, exponent)

	// Key material loads least significant word first, modulus then
	// exponent.
	want := []testonly.Write{
		{Off: SE_RSA_KEYTABLE_ADDR, Val: 1<<7 | 0x40},
		{Off: SE_RSA_KEYTABLE_DATA, Val: 0x55667788},
		{Off: SE_RSA_KEYTABLE_ADDR, Val: 1<<7 | 0x40 | 1},
		{Off: SE_RSA_KEYTABLE_DATA, Val: 0x11223344},
		{Off: SE_RSA_KEYTABLE_ADDR, Val: 1 << 7},
		{Off: SE_RSA_KEYTABLE_DATA, Val: 0xdeadbeef},
	}

	if diff := cmp.Diff(regs.Writes, want); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}

	mod, exp := e.RSAKeySizes(1)

	if mod != len(modulus) || exp != len(exponent) {
		t.Fatalf("Got cached sizes (%d, %d), want (%d, %d)", mod, exp, len(modulus), len(exponent))
	}
}

func TestSetRSAKeyslotFull(t *testing.T) {
	modulus := make([]byte, MaxRSAKeySize)
	exponent := []byte{0x00, 0x01, 0x00, 0x01}

	for i := range modulus {
		modulus[i] = byte(i)
	}

	e, regs, _, _ := newTestEngine(t)

	e.SetRSAKeyslot(0, modulus, exponent)

	var want []testonly.Write

	for i := 0; i < MaxRSAKeySize/4; i++ {
		want = append(want,
			testonly.Write{Off: SE_RSA_KEYTABLE_ADDR, Val: 0x40 | uint32(i)},
			testonly.Write{Off: SE_RSA_KEYTABLE_DATA, Val: binary.BigEndian.Uint32(modulus[len(modulus)-4*i-4:])},
		)
	}

	want = append(want,
		testonly.Write{Off: SE_RSA_KEYTABLE_ADDR, Val: 0},
		testonly.Write{Off: SE_RSA_KEYTABLE_DATA, Val: 0x00010001},
	)

	if diff := cmp.Diff(regs.Writes, want); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestClearRSAKeyslot(t *testing.T) {
	e, regs, _, _ := newTestEngine(t)

	e.SetRSAKeyslot(0, make([]byte, 0x100), make([]byte, 4))

	regs.Writes = nil

	e.ClearRSAKeyslot(0)

	if got, want := len(regs.Writes), 2*2*(MaxRSAKeySize/4); got != want {
		t.Fatalf("Got %d register writes, want %d", got, want)
	}

	if mod, exp := e.RSAKeySizes(0); mod != 0 || exp != 0 {
		t.Fatalf("Got cached sizes (%d, %d), want (0, 0)", mod, exp)
	}
}

func TestSetCTR(t *testing.T) {
	e, regs, _, _ := newTestEngine(t)

	ctr := []byte{
		0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80,
	}

	e.SetCTR(ctr)

	want := []testonly.Write{
		{Off: SE_CRYPTO_CTR, Val: 1},
		{Off: SE_CRYPTO_CTR + 4, Val: 0},
		{Off: SE_CRYPTO_CTR + 8, Val: 0},
		{Off: SE_CRYPTO_CTR + 12, Val: 0x80000000},
	}

	if diff := cmp.Diff(regs.Writes, want); diff != "" {
		t.Fatalf("Got write diff: %s", diff)
	}
}

func TestKeyslotValidation(t *testing.T) {
	for _, test := range []struct {
		name string
		call func(e *Engine)
	}{
		{
			name: "aes slot too large",
			call: func(e *Engine) { e.SetAESKeyslot(AESKeyslots, make([]byte, 16)) },
		}, {
			name: "aes slot negative",
			call: func(e *Engine) { e.SetAESKeyslot(-1, make([]byte, 16)) },
		}, {
			name: "aes key too large",
			call: func(e *Engine) { e.SetAESKeyslot(0, make([]byte, MaxAESKeySize+1)) },
		}, {
			name: "iv slot too large",
			call: func(e *Engine) { e.SetAESKeyslotIV(16, make([]byte, 16)) },
		}, {
			name: "iv too large",
			call: func(e *Engine) { e.SetAESKeyslotIV(0, make([]byte, 17)) },
		}, {
			name: "clear slot too large",
			call: func(e *Engine) { e.ClearAESKeyslot(16) },
		}, {
			name: "clear iv slot too large",
			call: func(e *Engine) { e.ClearAESKeyslotIV(16) },
		}, {
			name: "aes flags slot too large",
			call: func(e *Engine) { e.SetAESKeyslotFlags(16, FlagReadDisable) },
		}, {
			name: "rsa flags slot too large",
			call: func(e *Engine) { e.SetRSAKeyslotFlags(RSAKeyslots, FlagReadDisable) },
		}, {
			name: "rsa slot too large",
			call: func(e *Engine) { e.SetRSAKeyslot(2, make([]byte, 0x100), make([]byte, 4)) },
		}, {
			name: "rsa modulus too large",
			call: func(e *Engine) { e.SetRSAKeyslot(0, make([]byte, MaxRSAKeySize+1), make([]byte, 4)) },
		}, {
			name: "rsa exponent too large",
			call: func(e *Engine) { e.SetRSAKeyslot(0, make([]byte, 0x100), make([]byte, MaxRSAKeySize+1)) },
		}, {
			name: "rsa clear slot too large",
			call: func(e *Engine) { e.ClearRSAKeyslot(2) },
		}, {
			name: "rsa sizes slot too large",
			call: func(e *Engine) { e.RSAKeySizes(2) },
		}, {
			name: "ctr not one block",
			call: func(e *Engine) { e.SetCTR(make([]byte, 15)) },
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			e, regs, _, _ := newTestEngine(t)

			mustPanic(t, func() { test.call(e) })

			// Validation must fail fast, before any register access.
			if n := len(regs.Writes); n != 0 {
				t.Fatalf("Got %d register writes, want 0", n)
			}
		})
	}
}
