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

// The release tool signs a TSEC firmware image for embedding into the
// bootstrap build: it emits the note manifest binding the image digest to
// a release name and version, only useful for development work.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/coreos/go-semver/semver"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"

	"github.com/armored-tegra/bringup/firmware"
)

var (
	imageFile   = flag.String("image_file", "", "TSEC firmware image to release.")
	outputFile  = flag.String("output_file", "", "File to write the signed manifest to.")
	signKeyFile = flag.String("sign_key_file", "", "File containing the release signing key in Note signer format.")
	name        = flag.String("name", "tsec-fw", "Release name to record in the manifest.")
	version     = flag.String("version", "", "Release version to record in the manifest.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	v, err := semver.NewVersion(*version)
	if err != nil {
		klog.Exitf("Invalid version %q: %v", *version, err)
	}

	img, err := os.ReadFile(*imageFile)
	if err != nil {
		klog.Exitf("Failed to read image %q: %v", *imageFile, err)
	}

	sum := sha256.Sum256(img)
	text := fmt.Sprintf("%s\n%s\n%s\n", *name, v, hex.EncodeToString(sum[:]))

	// Round-trip through the device side parser to catch malformed
	// releases before they reach a build.
	if _, err := firmware.ParseManifest(text); err != nil {
		klog.Exitf("Invalid manifest contents %q: %v", text, err)
	}

	msg, err := note.Sign(&note.Note{Text: text}, signerOrDie(*signKeyFile))
	if err != nil {
		klog.Exitf("Failed to sign manifest: %v", err)
	}

	if err := os.WriteFile(*outputFile, msg, 0o644); err != nil {
		klog.Exitf("WriteFile: %v", err)
	}

	klog.Infof("Wrote %d bytes of signed manifest to %q", len(msg), *outputFile)
}

func signerOrDie(p string) note.Signer {
	ks, err := os.ReadFile(p)
	if err != nil {
		klog.Exitf("Failed to read signing key file %q: %v", p, err)
	}

	s, err := note.NewSigner(string(ks))
	if err != nil {
		klog.Exitf("Invalid note signer string: %v", err)
	}

	return s
}
