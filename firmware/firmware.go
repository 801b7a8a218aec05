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

// Package firmware authenticates TSEC firmware release bundles before
// they are handed to the Falcon: a signature over the raw image and a
// signed manifest binding the image digest to a release version, checked
// against a rollback floor.
package firmware

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-semver/semver"
	"github.com/usbarmory/armory-boot/config"
	"golang.org/x/mod/sumdb/note"
	"k8s.io/klog/v2"
)

// Bundle is one distributable firmware release: the raw Falcon image, a
// detached signature over it and a note manifest signed by the release
// key.
type Bundle struct {
	Image     []byte
	Signature []byte
	Manifest  []byte
}

// Release is the verified manifest content.
type Release struct {
	Name    string
	Version semver.Version
	SHA256  [sha256.Size]byte
}

// ParseManifest parses an opened manifest body: release name, version
// and image digest, one per line.
func ParseManifest(text string) (rel *Release, err error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	if len(lines) != 3 {
		return nil, fmt.Errorf("invalid manifest, expected 3 lines, got %d", len(lines))
	}

	rel = &Release{
		Name: lines[0],
	}

	version, err := semver.NewVersion(lines[1])

	if err != nil {
		return nil, fmt.Errorf("invalid manifest version, %v", err)
	}

	rel.Version = *version

	digest, err := hex.DecodeString(lines[2])

	if err != nil || len(digest) != sha256.Size {
		return nil, errors.New("invalid manifest digest")
	}

	copy(rel.SHA256[:], digest)

	return
}

// Verify authenticates the bundle and returns its release: the image
// signature is checked first, then the manifest note, the image digest
// and finally the rollback floor. A nil min skips the floor check.
func (b *Bundle) Verify(imagePub string, manifestPub string, min *semver.Version) (rel *Release, err error) {
	if err = config.Verify(b.Image, b.Signature, imagePub); err != nil {
		return nil, fmt.Errorf("invalid image signature, %v", err)
	}

	return b.verifyManifest(manifestPub, min)
}

// verifyManifest authenticates the manifest note and checks it against
// the image and the rollback floor.
func (b *Bundle) verifyManifest(manifestPub string, min *semver.Version) (rel *Release, err error) {
	verifier, err := note.NewVerifier(manifestPub)

	if err != nil {
		return
	}

	n, err := note.Open(b.Manifest, note.VerifierList(verifier))

	if err != nil {
		return nil, fmt.Errorf("invalid manifest, %v", err)
	}

	if rel, err = ParseManifest(n.Text); err != nil {
		return
	}

	if sum := sha256.Sum256(b.Image); sum != rel.SHA256 {
		return nil, errors.New("manifest digest does not match image")
	}

	if min != nil && rel.Version.LessThan(*min) {
		return nil, fmt.Errorf("release %s older than required %s", rel.Version, min)
	}

	klog.V(1).Infof("verified firmware release %q version %s", rel.Name, rel.Version)

	return
}
