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

// Package gah implements the Global Access Handle: a 128-bit versioned
// capability that names a server-side file, directory, inode, or
// projection root, and survives RPC serialization.
package gah

import "fmt"

// ProtocolVersion is the current wire version. A GAH minted under a
// different version never validates.
const ProtocolVersion uint8 = 1

// GAH is the 128-bit handle. Zero value is the well-known "nil" handle,
// which never validates (Version == 0 != ProtocolVersion).
type GAH struct {
	Revision uint64 // 48 bits used
	Root     uint8  // owning rank
	Base     uint8  // first-byte rank, reserved
	Version  uint8  // protocol version
	Fid      uint32 // 24 bits used; slot index
	Reserved uint32 // 24 bits used
	CRC      uint8  // CRC-8-CCITT over the preceding 120 bits
}

// Wire is the 16-byte on-the-wire encoding of a GAH.
type Wire [16]byte

// Encode packs g into its 16-byte wire form and fills in the CRC.
func (g GAH) Encode() Wire {
	var w Wire
	putUint48(w[0:6], g.Revision)
	w[6] = g.Root
	w[7] = g.Base
	w[8] = g.Version
	putUint24(w[9:12], g.Fid)
	putUint24(w[12:15], g.Reserved)
	w[15] = crc8(w[0:15])
	return w
}

// Decode unpacks a 16-byte wire form into a GAH. It does not validate;
// callers should run Validate (or a Store's GetInfo, which calls it).
func Decode(w Wire) GAH {
	return GAH{
		Revision: getUint48(w[0:6]),
		Root:     w[6],
		Base:     w[7],
		Version:  w[8],
		Fid:      getUint24(w[9:12]),
		Reserved: getUint24(w[12:15]),
		CRC:      w[15],
	}
}

// String renders a GAH as "(root.fid.revision)", the format the spec
// requires for log lines.
func (g GAH) String() string {
	return fmt.Sprintf("(%d.%d.%d)", g.Root, g.Fid, g.Revision)
}

// IsZero reports whether g is the nil handle.
func (g GAH) IsZero() bool {
	return g == GAH{}
}

// crc computes the CRC-8 over g's first 120 bits, independent of
// whatever is currently stored in g.CRC.
func (g GAH) crc() uint8 {
	var body [15]byte
	putUint48(body[0:6], g.Revision)
	body[6] = g.Root
	body[7] = g.Base
	body[8] = g.Version
	putUint24(body[9:12], g.Fid)
	putUint24(body[12:15], g.Reserved)
	return crc8(body[:])
}

// CheckCRC reports whether g's stored CRC byte matches the CRC of its
// first 120 bits.
func (g GAH) CheckCRC() bool {
	return g.CRC == g.crc()
}

// Seal returns g with CRC set to the correct value for its other
// fields, per spec §4.1 "computes the CRC, returns the GAH". Every
// minting path (gah/store.Store.Allocate) must call this before handing
// a GAH to a caller.
func (g GAH) Seal() GAH {
	g.CRC = g.crc()
	return g
}

// CheckVersion reports whether g was minted under the current protocol
// version.
func (g GAH) CheckVersion() bool {
	return g.Version == ProtocolVersion
}

// IsSelfRoot reports whether g names a resource owned by the given rank.
func IsSelfRoot(g GAH, selfRank uint8) bool {
	return g.Root == selfRank
}

func putUint48(b []byte, v uint64) {
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func getUint48(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func putUint24(b []byte, v uint32) {
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func getUint24(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}
