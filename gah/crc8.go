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

package gah

// crc8CCITTPoly is the CRC-8-CCITT polynomial, 0x07, per spec.
const crc8CCITTPoly = 0x07

var crc8Table = buildCRC8Table(crc8CCITTPoly)

func buildCRC8Table(poly byte) (table [256]byte) {
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return
}

// crc8 computes CRC-8-CCITT over data, starting from zero.
func crc8(data []byte) (crc byte) {
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return
}
