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

package server

import (
	"os"

	"github.com/splitfuse/core/wire"
)

// flagsToOS translates the wire's open flag bitset back to the local
// platform's os.OpenFile flags, the inverse of the client dispatcher's
// openFlagsFromFUSE.
func flagsToOS(f wire.OpenFlags) int {
	var osf int
	switch {
	case f&wire.OReadWrite != 0:
		osf = os.O_RDWR
	case f&wire.OWriteOnly != 0:
		osf = os.O_WRONLY
	default:
		osf = os.O_RDONLY
	}
	if f&wire.OCreate != 0 {
		osf |= os.O_CREATE
	}
	if f&wire.OTrunc != 0 {
		osf |= os.O_TRUNC
	}
	if f&wire.OAppend != 0 {
		osf |= os.O_APPEND
	}
	if f&wire.OExcl != 0 {
		osf |= os.O_EXCL
	}
	if f&wire.OSync != 0 {
		osf |= os.O_SYNC
	}
	return osf
}
