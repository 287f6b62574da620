// Copyright 2015 Google Inc. All Rights Reserved.
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

package gah_test

import (
	"testing"

	"github.com/splitfuse/core/gah"
	"github.com/stretchr/testify/assert"
)

func sampleGAH() gah.GAH {
	return gah.GAH{
		Revision: 12345,
		Root:     3,
		Base:     0,
		Version:  gah.ProtocolVersion,
		Fid:      777,
		Reserved: 0,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	g := sampleGAH()
	w := g.Encode()
	got := gah.Decode(w)

	assert.Equal(t, g.Revision, got.Revision)
	assert.Equal(t, g.Root, got.Root)
	assert.Equal(t, g.Base, got.Base)
	assert.Equal(t, g.Version, got.Version)
	assert.Equal(t, g.Fid, got.Fid)
	assert.Equal(t, g.Reserved, got.Reserved)
	assert.True(t, got.CheckCRC())
}

func TestCheckCRC_FlippedDataBit(t *testing.T) {
	g := sampleGAH()
	w := g.Encode()

	for byteIdx := 0; byteIdx < 15; byteIdx++ {
		for bit := 0; bit < 8; bit++ {
			corrupted := w
			corrupted[byteIdx] ^= 1 << uint(bit)
			flipped := gah.Decode(corrupted)
			assert.False(t, flipped.CheckCRC(), "byte %d bit %d should break CRC", byteIdx, bit)
		}
	}
}

func TestCheckCRC_FlippedCRCByte(t *testing.T) {
	g := sampleGAH()
	w := g.Encode()
	originalCRC := w[15]

	mismatches := 0
	for candidate := 0; candidate < 256; candidate++ {
		corrupted := w
		corrupted[15] = byte(candidate)
		flipped := gah.Decode(corrupted)
		if byte(candidate) == originalCRC {
			assert.True(t, flipped.CheckCRC())
		} else if !flipped.CheckCRC() {
			mismatches++
		}
	}
	assert.Equal(t, 255, mismatches)
}

func TestCheckVersion(t *testing.T) {
	g := sampleGAH()
	assert.True(t, g.CheckVersion())

	g.Version = gah.ProtocolVersion + 1
	assert.False(t, g.CheckVersion())
}

func TestIsSelfRoot(t *testing.T) {
	g := sampleGAH()
	assert.True(t, gah.IsSelfRoot(g, 3))
	assert.False(t, gah.IsSelfRoot(g, 4))
}

func TestString(t *testing.T) {
	g := sampleGAH()
	assert.Equal(t, "(3.777.12345)", g.String())
}

func TestZeroGAHNeverValidVersion(t *testing.T) {
	var g gah.GAH
	assert.True(t, g.IsZero())
	assert.False(t, g.CheckVersion())
}
