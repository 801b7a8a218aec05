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

// The bootstrap payload brings up the Tegra X1 security engines: it
// authenticates the embedded TSEC firmware release, runs the key
// derivation handshake and seals the resulting key material into SE
// keyslots before locking the hardware root keys.
package main

import (
	_ "embed"
	"log"
	"runtime"

	"github.com/coreos/go-semver/semver"

	"github.com/armored-tegra/bringup/car"
	"github.com/armored-tegra/bringup/firmware"
	"github.com/armored-tegra/bringup/kfuse"
	"github.com/armored-tegra/bringup/mmio"
	"github.com/armored-tegra/bringup/se"
	"github.com/armored-tegra/bringup/timer"
	"github.com/armored-tegra/bringup/tsec"
)

// initialized at compile time (see Makefile)
var (
	Build    string
	Revision string
	Version  string

	// FirmwarePublicKey authenticates the embedded TSEC firmware image.
	FirmwarePublicKey string

	// ManifestPublicKey authenticates the firmware release manifest.
	ManifestPublicKey string
)

// minFirmwareVersion is the rollback floor for TSEC firmware releases.
var minFirmwareVersion = semver.New("1.0.0")

// keyRevision selects the derivation performed by the TSEC firmware.
const keyRevision = 1

// The TSEC firmware release bundle is embedded at build time
// (see Makefile).
var (
	//go:embed assets/tsec_fw.bin
	tsecFW []byte

	//go:embed assets/tsec_fw.sig
	tsecFWSig []byte

	//go:embed assets/tsec_fw.release
	tsecFWManifest []byte
)

func init() {
	if len(FirmwarePublicKey) == 0 || len(ManifestPublicKey) == 0 {
		log.Fatal("firmware authentication keys are missing")
	}

	log.Printf("%s/%s (%s) • TSEC key derivation bring-up • %s %s",
		runtime.GOOS, runtime.GOARCH, runtime.Version(),
		Revision, Build)
}

func main() {
	var err error

	clocks := &car.CAR{
		Regs: &mmio.Device{Base: car.CAR_BASE},
	}

	timers := &timer.Hardware{
		RTC: &mmio.Device{Base: timer.RTC_BASE},
		US:  &mmio.Device{Base: timer.TIMERUS_BASE},
	}

	engine := &se.Engine{
		Regs:   &mmio.Device{Base: se.SE_BASE},
		Memory: seRegion,
	}

	coproc := &tsec.TSEC{
		Regs:       &mmio.Device{Base: tsec.TSEC_BASE},
		SOR1:       &mmio.Device{Base: tsec.SOR1_BASE},
		HOST1X:     &mmio.Device{Base: tsec.HOST1X_BASE},
		Clocks:     clocks,
		Timer:      timers,
		LoadMemory: tsecRegion,
	}

	hdcp := &kfuse.KFUSE{
		Regs:   &mmio.Device{Base: kfuse.KFUSE_BASE},
		Clocks: clocks,
		Timer:  timers,
	}

	if !clocks.Enabled(car.SE) {
		clocks.Enable(car.SE)
	}

	engine.ClearPendingInterrupts()

	bundle := &firmware.Bundle{
		Image:     tsecFW,
		Signature: tsecFWSig,
		Manifest:  tsecFWManifest,
	}

	release, err := bundle.Verify(FirmwarePublicKey, ManifestPublicKey, minFirmwareVersion)

	if err != nil {
		log.Fatalf("TSEC firmware verification error, %v", err)
	}

	log.Printf("verified TSEC firmware %s release %s", release.Name, release.Version)

	if err = hdcp.WaitReady(); err != nil {
		log.Fatalf("KFUSE key array error, %v", err)
	}

	if err = deriveAndInstallKeys(engine, coproc); err != nil {
		log.Fatalf("TSEC key derivation error, %v", err)
	}

	log.Printf("bring-up %s complete, root keys sealed", Version)

	// Nothing left to run, the next boot stage takes over at warm reset.
	for {
		runtime.Gosched()
	}
}
