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

package client

import "os"

// modeDir is the bit wire.Stat.Mode carries for directories, matching
// os.ModeDir so the dispatcher can build fuseops.InodeAttributes
// directly from it.
const modeDir = uint32(os.ModeDir)

// modeFromWire turns a wire.Stat.Mode (os.FileMode bits, including type
// bits, per wire.Stat's doc comment) into an os.FileMode.
func modeFromWire(m uint32) os.FileMode {
	return os.FileMode(m)
}
